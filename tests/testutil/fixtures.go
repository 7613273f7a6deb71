package testutil

import (
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/lukgber-glitch/operate-sub002/internal/domain/integration"
	"github.com/lukgber-glitch/operate-sub002/internal/domain/ledger"
)

// Fixtures generates canonical external records. A fixed seed yields the same
// records on every run.
type Fixtures struct {
	faker *gofakeit.Faker
}

// NewFixtures creates a generator seeded with seed
func NewFixtures(seed uint64) *Fixtures {
	return &Fixtures{faker: gofakeit.New(seed)}
}

func (f *Fixtures) updatedAt() *time.Time {
	ts := f.faker.DateRange(
		time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC),
	).UTC().Truncate(time.Second)
	return &ts
}

func (f *Fixtures) record(t ledger.EntityType, id string, fields map[string]any) integration.ExternalRecord {
	updated := f.updatedAt()
	return integration.ExternalRecord{
		ExternalID: id,
		EntityType: t,
		UpdatedAt:  updated,
		Revision:   updated.Format(time.RFC3339),
		Fields:     fields,
		Raw:        map[string]any{"id": id},
	}
}

// Contacts returns n contacts with ids C-0001.. and distinct names
func (f *Fixtures) Contacts(n int) []integration.ExternalRecord {
	out := make([]integration.ExternalRecord, n)
	for i := range out {
		out[i] = f.record(ledger.EntityTypeContacts, fmt.Sprintf("C-%04d", i+1), map[string]any{
			"name":        fmt.Sprintf("%s %d", f.faker.Company(), i+1),
			"email":       f.faker.Email(),
			"phone":       f.faker.Phone(),
			"is_customer": true,
			"is_supplier": f.faker.Bool(),
			"status":      "ACTIVE",
			"currency":    f.faker.RandomString([]string{"USD", "NZD", "JPY"}),
		})
	}
	return out
}

// Accounts returns n chart-of-accounts entries with ids A-0001..
func (f *Fixtures) Accounts(n int) []integration.ExternalRecord {
	out := make([]integration.ExternalRecord, n)
	for i := range out {
		status := "ACTIVE"
		if i%5 == 4 {
			status = "ARCHIVED"
		}
		out[i] = f.record(ledger.EntityTypeAccounts, fmt.Sprintf("A-%04d", i+1), map[string]any{
			"code":   fmt.Sprintf("%03d", 200+i),
			"name":   fmt.Sprintf("%s %d", f.faker.BuzzWord(), i+1),
			"type":   f.faker.RandomString([]string{"REVENUE", "EXPENSE", "BANK"}),
			"status": status,
		})
	}
	return out
}

// Invoices returns n invoices with ids I-0001.. billed to contactIDs in turn
func (f *Fixtures) Invoices(n int, contactIDs []string) []integration.ExternalRecord {
	out := make([]integration.ExternalRecord, n)
	for i := range out {
		qty := f.faker.Number(1, 5)
		unit := float64(f.faker.Number(10, 500))
		total := fmt.Sprintf("%.2f", float64(qty)*unit)
		contactID := ""
		if len(contactIDs) > 0 {
			contactID = contactIDs[i%len(contactIDs)]
		}
		out[i] = f.record(ledger.EntityTypeInvoices, fmt.Sprintf("I-%04d", i+1), map[string]any{
			"number":     fmt.Sprintf("INV-%05d", i+1),
			"type":       "ACCREC",
			"status":     "AUTHORISED",
			"currency":   "USD",
			"date":       "2024-03-01",
			"due_date":   "2024-03-31",
			"subtotal":   total,
			"tax_total":  "0.00",
			"total":      total,
			"amount_due": total,
			"contact_id": contactID,
			"line_items": []any{map[string]any{
				"description": f.faker.ProductName(),
				"quantity":    qty,
				"unit_amount": unit,
				"line_amount": total,
			}},
		})
	}
	return out
}

// IDs returns the external ids of records
func IDs(records []integration.ExternalRecord) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ExternalID
	}
	return out
}
