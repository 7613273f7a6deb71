package accounting

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/lukgber-glitch/operate-sub002/internal/domain/integration"
	"github.com/lukgber-glitch/operate-sub002/internal/domain/ledger"
	"go.uber.org/zap"
)

// xeroDatePattern matches the Microsoft JSON dates Xero returns, e.g. /Date(1573755038314+0000)/
var xeroDatePattern = regexp.MustCompile(`^/Date\((-?\d+)([+-]\d{4})?\)/$`)

var xeroDocumentLines = map[string]string{
	"description": "Description",
	"quantity":    "Quantity",
	"unit_amount": "UnitAmount",
	"line_amount": "LineAmount",
	"tax_amount":  "TaxAmount",
	"tax_type":    "TaxType",
	"item_id":     "Item.ItemID",
	"account_id":  "AccountID",
}

var xeroResources = map[ledger.EntityType]resource{
	ledger.EntityTypeAccounts: {
		path: "/Accounts", collection: "Accounts", idKey: "AccountID", updated: "UpdatedDateUTC",
		fields: map[string]string{
			"code": "Code", "name": "Name", "type": "Type", "class": "Class",
			"status": "Status", "tax_type": "TaxType", "description": "Description",
		},
	},
	ledger.EntityTypeTaxRates: {
		path: "/TaxRates", collection: "TaxRates", idKey: "TaxType",
		fields: map[string]string{"code": "TaxType", "name": "Name", "rate": "EffectiveRate", "status": "Status"},
	},
	ledger.EntityTypeTrackingCategories: {
		path: "/TrackingCategories", collection: "TrackingCategories", idKey: "TrackingCategoryID",
		fields: map[string]string{"name": "Name", "status": "Status"},
		finish: func(raw, fields map[string]any) {
			var options []any
			if list, ok := raw["Options"].([]any); ok {
				for _, o := range list {
					if m, ok := o.(map[string]any); ok && m["Name"] != nil {
						options = append(options, m["Name"])
					}
				}
			}
			fields["options"] = options
		},
	},
	ledger.EntityTypeContacts: {
		path: "/Contacts", collection: "Contacts", paged: true, idKey: "ContactID", updated: "UpdatedDateUTC",
		fields: map[string]string{
			"name": "Name", "email": "EmailAddress", "tax_number": "TaxNumber",
			"is_customer": "IsCustomer", "is_supplier": "IsSupplier",
			"status": "ContactStatus", "currency": "DefaultCurrency",
		},
		finish: func(raw, fields map[string]any) {
			phones, _ := raw["Phones"].([]any)
			for _, p := range phones {
				m, ok := p.(map[string]any)
				if !ok {
					continue
				}
				number := strings.TrimSpace(strings.Join([]string{
					stringOf(m["PhoneCountryCode"]), stringOf(m["PhoneAreaCode"]), stringOf(m["PhoneNumber"]),
				}, " "))
				if stringOf(m["PhoneNumber"]) != "" {
					fields["phone"] = number
					return
				}
			}
		},
	},
	ledger.EntityTypeItems: {
		path: "/Items", collection: "Items", idKey: "ItemID", updated: "UpdatedDateUTC",
		fields: map[string]string{
			"code": "Code", "name": "Name", "description": "Description",
			"sales_price": "SalesDetails.UnitPrice", "purchase_price": "PurchaseDetails.UnitPrice",
			"is_tracked": "IsTrackedAsInventory",
		},
	},
	ledger.EntityTypeInvoices: {
		path: "/Invoices", collection: "Invoices", paged: true, idKey: "InvoiceID", updated: "UpdatedDateUTC",
		fields: map[string]string{
			"number": "InvoiceNumber", "type": "Type", "status": "Status", "currency": "CurrencyCode",
			"reference": "Reference", "date": "DateString", "due_date": "DueDateString",
			"subtotal": "SubTotal", "tax_total": "TotalTax", "total": "Total", "amount_due": "AmountDue",
			"contact_id": "Contact.ContactID",
		},
		linesKey: "LineItems", lines: xeroDocumentLines,
	},
	ledger.EntityTypeCreditNotes: {
		path: "/CreditNotes", collection: "CreditNotes", paged: true, idKey: "CreditNoteID", updated: "UpdatedDateUTC",
		fields: map[string]string{
			"number": "CreditNoteNumber", "type": "Type", "status": "Status", "currency": "CurrencyCode",
			"reference": "Reference", "date": "DateString", "due_date": "DueDateString",
			"subtotal": "SubTotal", "tax_total": "TotalTax", "total": "Total",
			"remaining_credit": "RemainingCredit", "contact_id": "Contact.ContactID",
		},
		linesKey: "LineItems", lines: xeroDocumentLines,
	},
	ledger.EntityTypePayments: {
		path: "/Payments", collection: "Payments", paged: true, idKey: "PaymentID", updated: "UpdatedDateUTC",
		fields: map[string]string{
			"amount": "Amount", "date": "Date", "reference": "Reference", "status": "Status",
			"invoice_id": "Invoice.InvoiceID", "credit_note_id": "CreditNote.CreditNoteID",
			"account_id": "Account.AccountID", "currency": "Invoice.CurrencyCode",
		},
		finish: func(_, fields map[string]any) {
			if t := parseXeroTime(fields["date"]); t != nil {
				fields["date"] = t.Format("2006-01-02")
			}
		},
	},
	ledger.EntityTypeBankTransactions: {
		path: "/BankTransactions", collection: "BankTransactions", paged: true, idKey: "BankTransactionID", updated: "UpdatedDateUTC",
		fields: map[string]string{
			"type": "Type", "status": "Status", "currency": "CurrencyCode", "reference": "Reference",
			"date": "DateString", "subtotal": "SubTotal", "tax_total": "TotalTax", "total": "Total",
			"account_id": "BankAccount.AccountID", "contact_id": "Contact.ContactID",
		},
		linesKey: "LineItems", lines: xeroDocumentLines,
	},
}

// XeroAdapter reads a Xero organisation. The external tenant id is the Xero tenant id.
// Reference data endpoints are not paged; they are served in full on page one.
type XeroAdapter struct {
	client   *restClient
	pageSize int
}

// NewXeroAdapter creates a new Xero adapter
func NewXeroAdapter(cfg *Config, credentials integration.CredentialProvider, logger *zap.Logger) (*XeroAdapter, error) {
	client, err := newRestClient(integration.PlatformCodeXero, cfg, credentials, logger)
	if err != nil {
		return nil, err
	}
	// Xero ignores any other page size
	return &XeroAdapter{client: client, pageSize: XeroPageSize}, nil
}

// PlatformCode returns the platform code this adapter handles
func (a *XeroAdapter) PlatformCode() integration.PlatformCode {
	return integration.PlatformCodeXero
}

// PageSize returns the fixed page size of Xero's paged endpoints
func (a *XeroAdapter) PageSize() int {
	return a.pageSize
}

// Supports reports whether Xero exposes the entity type
func (a *XeroAdapter) Supports(t ledger.EntityType) bool {
	_, ok := xeroResources[t]
	return ok
}

// xeroModifiedSince formats a watermark for If-Modified-Since. The header has
// second resolution and Xero treats it as exclusive, so the value is moved back
// one whole second to keep records changed at the watermark itself.
func xeroModifiedSince(since time.Time) string {
	return since.UTC().Truncate(time.Second).Add(-time.Second).Format(http.TimeFormat)
}

// FetchPage returns one page of an entity collection
func (a *XeroAdapter) FetchPage(ctx context.Context, req integration.PageRequest) (*integration.Page, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	res, ok := xeroResources[req.EntityType]
	if !ok {
		return nil, integration.ErrUnsupportedEntityType
	}
	if !res.paged && req.Page > 1 {
		return &integration.Page{Records: []integration.ExternalRecord{}}, nil
	}

	query := map[string]string{}
	if res.paged {
		query["page"] = strconv.Itoa(req.Page)
	}
	headers := map[string]string{"xero-tenant-id": req.ExternalTenantID}
	if req.ModifiedSince != nil {
		headers["If-Modified-Since"] = xeroModifiedSince(*req.ModifiedSince)
	}

	body, err := a.client.get(ctx, req.TenantID, res.path, query, headers)
	if err != nil {
		return nil, err
	}
	items, ok := body[res.collection].([]any)
	if !ok && body[res.collection] != nil {
		return nil, fmt.Errorf("xero: %s is not a list", res.collection)
	}
	return &integration.Page{Records: res.project(req.EntityType, items, parseXeroTime)}, nil
}

// parseXeroTime reads /Date(ms+zone)/ and RFC 3339 timestamps
func parseXeroTime(v any) *time.Time {
	s, ok := v.(string)
	if !ok || s == "" {
		return nil
	}
	if m := xeroDatePattern.FindStringSubmatch(s); m != nil {
		ms, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return nil
		}
		t := time.UnixMilli(ms).UTC()
		return &t
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

var _ integration.AccountingPlatform = (*XeroAdapter)(nil)
