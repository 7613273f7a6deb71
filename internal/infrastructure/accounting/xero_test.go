package accounting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/lukgber-glitch/operate-sub002/internal/domain/integration"
	"github.com/lukgber-glitch/operate-sub002/internal/domain/ledger"
)

func newTestXero(t *testing.T, handler http.HandlerFunc) *XeroAdapter {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := NewXeroConfig()
	cfg.BaseURL = server.URL
	creds := NewStaticCredentialProvider(map[integration.PlatformCode]string{
		integration.PlatformCodeXero: "xero-token",
	})
	adapter, err := NewXeroAdapter(cfg, creds, zaptest.NewLogger(t))
	require.NoError(t, err)
	return adapter
}

func xeroRequest(entityType ledger.EntityType, page int) integration.PageRequest {
	return integration.PageRequest{
		TenantID:         uuid.New(),
		ExternalTenantID: "xero-org-1",
		EntityType:       entityType,
		Page:             page,
		PageSize:         XeroPageSize,
	}
}

func writeJSON(t *testing.T, w http.ResponseWriter, body any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	assert.NoError(t, json.NewEncoder(w).Encode(body))
}

func TestXeroConfig_Validate(t *testing.T) {
	cfg := &Config{BaseURL: ""}
	assert.ErrorIs(t, cfg.Validate(), ErrConfigMissingBaseURL)

	cfg = &Config{BaseURL: "http://localhost"}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, defaultTimeout, cfg.Timeout)
	assert.Equal(t, defaultUserAgent, cfg.UserAgent)

	_, err := NewXeroAdapter(NewXeroConfig(), nil, nil)
	assert.ErrorIs(t, err, ErrConfigMissingCredentials)
}

func TestXeroAdapter_FetchContactsPage(t *testing.T) {
	since := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	adapter := newTestXero(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/Contacts", r.URL.Path)
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		assert.Equal(t, "Bearer xero-token", r.Header.Get("Authorization"))
		assert.Equal(t, "xero-org-1", r.Header.Get("xero-tenant-id"))
		assert.Equal(t, "Fri, 01 Mar 2024 11:59:59 GMT", r.Header.Get("If-Modified-Since"))
		writeJSON(t, w, map[string]any{
			"Contacts": []any{
				map[string]any{
					"ContactID":      "c-1",
					"Name":           "Acme Ltd",
					"EmailAddress":   "ap@acme.test",
					"ContactStatus":  "ACTIVE",
					"IsCustomer":     true,
					"IsSupplier":     false,
					"UpdatedDateUTC": "/Date(1709294400000+0000)/",
					"Phones": []any{
						map[string]any{"PhoneType": "FAX"},
						map[string]any{"PhoneType": "DEFAULT", "PhoneCountryCode": "64", "PhoneAreaCode": "9", "PhoneNumber": "555 0100"},
					},
				},
			},
		})
	})

	req := xeroRequest(ledger.EntityTypeContacts, 2)
	req.ModifiedSince = &since
	page, err := adapter.FetchPage(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, page.Records, 1)

	rec := page.Records[0]
	assert.Equal(t, "c-1", rec.ExternalID)
	assert.Equal(t, ledger.EntityTypeContacts, rec.EntityType)
	assert.Equal(t, "Acme Ltd", rec.Field("name"))
	assert.Equal(t, "ap@acme.test", rec.Field("email"))
	assert.Equal(t, "64 9 555 0100", rec.Field("phone"))
	assert.Equal(t, true, rec.Field("is_customer"))
	require.NotNil(t, rec.UpdatedAt)
	assert.True(t, rec.UpdatedAt.Equal(since))
	assert.Equal(t, "2024-03-01T12:00:00Z", rec.Revision)
	assert.Equal(t, "Acme Ltd", rec.Raw["Name"])
}

func TestXeroAdapter_InvoiceProjection(t *testing.T) {
	adapter := newTestXero(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"Invoices":[{
			"InvoiceID":"inv-1","InvoiceNumber":"INV-001","Type":"ACCREC","Status":"AUTHORISED",
			"CurrencyCode":"NZD","DateString":"2024-02-01T00:00:00","DueDateString":"2024-03-01T00:00:00",
			"SubTotal":100.10,"TotalTax":15.02,"Total":115.12,"AmountDue":115.12,
			"Contact":{"ContactID":"c-1"},
			"LineItems":[{"Description":"Widget","Quantity":2,"UnitAmount":50.05,"LineAmount":100.10,
				"TaxAmount":15.02,"TaxType":"OUTPUT2","AccountID":"acc-200","Item":{"ItemID":"item-9"}}]
		}]}`))
	})

	page, err := adapter.FetchPage(context.Background(), xeroRequest(ledger.EntityTypeInvoices, 1))
	require.NoError(t, err)
	require.Len(t, page.Records, 1)

	rec := page.Records[0]
	assert.Equal(t, "INV-001", rec.Field("number"))
	assert.Equal(t, "c-1", rec.Field("contact_id"))
	assert.Equal(t, json.Number("115.12"), rec.Field("total"))

	lines, ok := rec.Field("line_items").([]any)
	require.True(t, ok)
	require.Len(t, lines, 1)
	line := lines[0].(map[string]any)
	assert.Equal(t, "Widget", line["description"])
	assert.Equal(t, json.Number("100.10"), line["line_amount"])
	assert.Equal(t, "item-9", line["item_id"])
	assert.Equal(t, "acc-200", line["account_id"])
}

func TestXeroAdapter_UnpagedResourceEndsAfterFirstPage(t *testing.T) {
	var calls atomic.Int32
	adapter := newTestXero(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Empty(t, r.URL.Query().Get("page"))
		writeJSON(t, w, map[string]any{
			"TrackingCategories": []any{
				map[string]any{
					"TrackingCategoryID": "tc-1",
					"Name":               "Region",
					"Status":             "ACTIVE",
					"Options":            []any{map[string]any{"Name": "North"}, map[string]any{"Name": "South"}},
				},
			},
		})
	})

	page, err := adapter.FetchPage(context.Background(), xeroRequest(ledger.EntityTypeTrackingCategories, 1))
	require.NoError(t, err)
	require.Len(t, page.Records, 1)
	assert.Equal(t, []any{"North", "South"}, page.Records[0].Field("options"))

	page, err = adapter.FetchPage(context.Background(), xeroRequest(ledger.EntityTypeTrackingCategories, 2))
	require.NoError(t, err)
	assert.Empty(t, page.Records)
	assert.Equal(t, int32(1), calls.Load())
}

func TestXeroAdapter_ErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		header map[string]string
		check  func(t *testing.T, err error)
	}{
		{
			name:   "rate limited with retry after",
			status: http.StatusTooManyRequests,
			header: map[string]string{"Retry-After": "7"},
			check: func(t *testing.T, err error) {
				var rl *integration.RateLimitError
				require.ErrorAs(t, err, &rl)
				assert.Equal(t, 7*time.Second, rl.RetryAfter)
			},
		},
		{
			name:   "server error is transient",
			status: http.StatusServiceUnavailable,
			check: func(t *testing.T, err error) {
				assert.True(t, integration.IsTransientError(err))
			},
		},
		{
			name:   "unauthorized",
			status: http.StatusUnauthorized,
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrUnauthorized)
				assert.False(t, integration.IsTransientError(err))
			},
		},
		{
			name:   "bad request is permanent",
			status: http.StatusBadRequest,
			check: func(t *testing.T, err error) {
				assert.False(t, integration.IsTransientError(err))
				assert.False(t, integration.IsRateLimitError(err))
				assert.Contains(t, err.Error(), "unexpected status 400")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adapter := newTestXero(t, func(w http.ResponseWriter, r *http.Request) {
				for k, v := range tt.header {
					w.Header().Set(k, v)
				}
				w.WriteHeader(tt.status)
			})
			_, err := adapter.FetchPage(context.Background(), xeroRequest(ledger.EntityTypeContacts, 1))
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestXeroAdapter_UnsupportedAndInvalid(t *testing.T) {
	adapter := newTestXero(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})

	_, err := adapter.FetchPage(context.Background(), xeroRequest(ledger.EntityType("journals"), 1))
	assert.ErrorIs(t, err, integration.ErrUnsupportedEntityType)

	_, err = adapter.FetchPage(context.Background(), xeroRequest(ledger.EntityTypeContacts, 0))
	assert.ErrorIs(t, err, integration.ErrInvalidPageRequest)

	for _, et := range ledger.ProcessingOrder() {
		assert.True(t, adapter.Supports(et), et)
	}
}

func TestXeroAdapter_MissingCredentials(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	}))
	defer server.Close()

	cfg := NewXeroConfig()
	cfg.BaseURL = server.URL
	adapter, err := NewXeroAdapter(cfg, NewStaticCredentialProvider(nil), nil)
	require.NoError(t, err)

	_, err = adapter.FetchPage(context.Background(), xeroRequest(ledger.EntityTypeContacts, 1))
	assert.ErrorIs(t, err, integration.ErrCredentialsNotFound)
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Duration(0), parseRetryAfter("", now))
	assert.Equal(t, 3*time.Second, parseRetryAfter("3", now))
	assert.Equal(t, time.Duration(0), parseRetryAfter("-1", now))
	assert.Equal(t, 30*time.Second, parseRetryAfter("Mon, 01 Jan 2024 00:00:30 GMT", now))
	assert.Equal(t, time.Duration(0), parseRetryAfter("soon", now))
}

func TestParseXeroTime(t *testing.T) {
	got := parseXeroTime("/Date(1573755038314+0000)/")
	require.NotNil(t, got)
	assert.Equal(t, int64(1573755038314), got.UnixMilli())

	got = parseXeroTime("2024-02-01T10:00:00")
	require.NotNil(t, got)
	assert.Equal(t, 10, got.Hour())

	assert.Nil(t, parseXeroTime("not a date"))
	assert.Nil(t, parseXeroTime(nil))
}

func TestXeroModifiedSince(t *testing.T) {
	tests := []struct {
		name  string
		since time.Time
		want  string
	}{
		{
			name:  "whole second",
			since: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
			want:  "Fri, 01 Mar 2024 11:59:59 GMT",
		},
		{
			name:  "sub-second watermark",
			since: time.Date(2024, 3, 1, 12, 0, 0, 750_000_000, time.UTC),
			want:  "Fri, 01 Mar 2024 11:59:59 GMT",
		},
		{
			name:  "non-UTC zone",
			since: time.Date(2024, 3, 2, 1, 0, 0, 0, time.FixedZone("NZDT", 13*3600)),
			want:  "Fri, 01 Mar 2024 11:59:59 GMT",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, xeroModifiedSince(tt.since))
		})
	}
}

func TestRegistry(t *testing.T) {
	creds := NewStaticCredentialProvider(map[integration.PlatformCode]string{integration.PlatformCodeXero: "x"})
	xero, err := NewXeroAdapter(NewXeroConfig(), creds, nil)
	require.NoError(t, err)
	freee, err := NewFreeeAdapter(NewFreeeConfig(), creds, nil)
	require.NoError(t, err)

	registry := NewRegistry(xero, freee)
	got, err := registry.GetPlatform(integration.PlatformCodeXero)
	require.NoError(t, err)
	assert.Same(t, xero, got)

	_, err = NewRegistry(xero).GetPlatform(integration.PlatformCodeFreee)
	assert.ErrorIs(t, err, integration.ErrPlatformNotRegistered)

	list := registry.ListPlatforms()
	require.Len(t, list, 2)
	assert.Equal(t, integration.PlatformCodeFreee, list[0].PlatformCode())
	assert.Equal(t, integration.PlatformCodeXero, list[1].PlatformCode())
}
