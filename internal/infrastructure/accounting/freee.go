package accounting

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/lukgber-glitch/operate-sub002/internal/domain/integration"
	"github.com/lukgber-glitch/operate-sub002/internal/domain/ledger"
	"go.uber.org/zap"
)

var freeeResources = map[ledger.EntityType]resource{
	ledger.EntityTypeAccounts: {
		path: "/account_items", collection: "account_items", idKey: "id", updated: "update_date",
		fields: map[string]string{
			"code": "shortcut_num", "name": "name", "type": "account_category",
			"class": "categories.0", "tax_type": "default_tax_code",
		},
		finish: statusFromAvailable,
	},
	ledger.EntityTypeTaxRates: {
		path: "/taxes/codes", collection: "taxes", idKey: "code",
		fields: map[string]string{"code": "code", "name": "name_ja"},
		finish: func(raw, fields map[string]any) {
			if fields["name"] == nil {
				fields["name"] = raw["name"]
			}
			fields["status"] = "ACTIVE"
		},
	},
	ledger.EntityTypeContacts: {
		path: "/partners", collection: "partners", paged: true, idKey: "id", updated: "update_date",
		fields: map[string]string{
			"name": "name", "email": "email", "phone": "phone",
			"tax_number": "invoice_registration_number",
		},
		finish: func(raw, fields map[string]any) {
			statusFromAvailable(raw, fields)
			fields["currency"] = "JPY"
		},
	},
	ledger.EntityTypeItems: {
		path: "/items", collection: "items", paged: true, idKey: "id", updated: "update_date",
		fields: map[string]string{"code": "shortcut1", "name": "name"},
		finish: statusFromAvailable,
	},
	ledger.EntityTypeInvoices: {
		path: "/invoices", collection: "invoices", paged: true, idKey: "id", updated: "updated_at",
		fields: map[string]string{
			"number": "invoice_number", "status": "invoice_status", "reference": "title",
			"date": "issue_date", "due_date": "due_date", "subtotal": "sub_total",
			"tax_total": "total_vat", "total": "total_amount", "contact_id": "partner_id",
		},
		linesKey: "invoice_contents",
		lines: map[string]string{
			"description": "description", "quantity": "qty", "unit_amount": "unit_price",
			"line_amount": "amount", "tax_amount": "vat", "tax_type": "tax_code",
			"item_id": "item_id", "account_id": "account_item_id",
		},
		finish: func(raw, fields map[string]any) {
			fields["type"] = "ACCREC"
			fields["currency"] = "JPY"
			if raw["payment_status"] == "settled" {
				fields["amount_due"] = "0"
			} else {
				fields["amount_due"] = fields["total"]
			}
		},
	},
	ledger.EntityTypeBankTransactions: {
		path: "/wallet_txns", collection: "wallet_txns", paged: true, idKey: "id",
		fields: map[string]string{
			"date": "date", "total": "amount", "reference": "description", "status": "status",
		},
		finish: func(raw, fields map[string]any) {
			switch raw["entry_side"] {
			case "income":
				fields["type"] = "RECEIVE"
			case "expense":
				fields["type"] = "SPEND"
			}
			fields["subtotal"] = fields["total"]
			fields["tax_total"] = "0"
			fields["currency"] = "JPY"
			fields["line_items"] = []any{}
		},
	},
}

// FreeeAdapter reads a freee company. The external tenant id is the company id.
// freee has no tracking categories, credit notes or standalone payments.
type FreeeAdapter struct {
	client   *restClient
	pageSize int
}

// NewFreeeAdapter creates a new freee adapter
func NewFreeeAdapter(cfg *Config, credentials integration.CredentialProvider, logger *zap.Logger) (*FreeeAdapter, error) {
	client, err := newRestClient(integration.PlatformCodeFreee, cfg, credentials, logger)
	if err != nil {
		return nil, err
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 || pageSize > FreeeMaxPageSize {
		pageSize = FreeeMaxPageSize
	}
	return &FreeeAdapter{client: client, pageSize: pageSize}, nil
}

// PlatformCode returns the platform code this adapter handles
func (a *FreeeAdapter) PlatformCode() integration.PlatformCode {
	return integration.PlatformCodeFreee
}

// PageSize returns the limit sent to paged endpoints
func (a *FreeeAdapter) PageSize() int {
	return a.pageSize
}

// Supports reports whether freee exposes the entity type
func (a *FreeeAdapter) Supports(t ledger.EntityType) bool {
	_, ok := freeeResources[t]
	return ok
}

// FetchPage returns one page of an entity collection using offset paging
func (a *FreeeAdapter) FetchPage(ctx context.Context, req integration.PageRequest) (*integration.Page, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	res, ok := freeeResources[req.EntityType]
	if !ok {
		return nil, integration.ErrUnsupportedEntityType
	}
	if !res.paged && req.Page > 1 {
		return &integration.Page{Records: []integration.ExternalRecord{}}, nil
	}

	companyID := req.ExternalTenantID
	if _, err := strconv.ParseInt(companyID, 10, 64); err != nil {
		return nil, fmt.Errorf("%w: freee company id must be numeric", integration.ErrInvalidPageRequest)
	}
	query := map[string]string{"company_id": companyID}
	if res.paged {
		limit := min(req.PageSize, a.pageSize)
		query["limit"] = strconv.Itoa(limit)
		query["offset"] = strconv.Itoa((req.Page - 1) * limit)
		if req.ModifiedSince != nil {
			query["start_update_date"] = req.ModifiedSince.In(tokyo).Format("2006-01-02")
		}
	}

	body, err := a.client.get(ctx, req.TenantID, res.path, query, nil)
	if err != nil {
		return nil, err
	}
	items, ok := body[res.collection].([]any)
	if !ok && body[res.collection] != nil {
		return nil, fmt.Errorf("freee: %s is not a list", res.collection)
	}
	records := res.project(req.EntityType, items, parseFreeeTime)
	if req.ModifiedSince != nil {
		// the API filters by day; drop records changed earlier that day
		kept := records[:0]
		for _, r := range records {
			if r.UpdatedAt == nil || !r.UpdatedAt.Before(*req.ModifiedSince) {
				kept = append(kept, r)
			}
		}
		records = kept
	}
	return &integration.Page{Records: records}, nil
}

// tokyo is the zone freee reports dates in
var tokyo = time.FixedZone("JST", 9*60*60)

// parseFreeeTime reads RFC 3339 timestamps and the date-only form as JST midnight
func parseFreeeTime(v any) *time.Time {
	s, ok := v.(string)
	if !ok || s == "" {
		return nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		t = t.UTC()
		return &t
	}
	if t, err := time.ParseInLocation("2006-01-02", s, tokyo); err == nil {
		t = t.UTC()
		return &t
	}
	return nil
}

var _ integration.AccountingPlatform = (*FreeeAdapter)(nil)
