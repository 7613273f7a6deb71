// Package ledger holds the internal representation of accounting data
// imported from external platforms.
package ledger

import "sort"

// EntityType identifies a category of accounting data that is migrated as a unit
type EntityType string

const (
	EntityTypeAccounts           EntityType = "accounts"
	EntityTypeTaxRates           EntityType = "tax_rates"
	EntityTypeTrackingCategories EntityType = "tracking_categories"
	EntityTypeContacts           EntityType = "contacts"
	EntityTypeItems              EntityType = "items"
	EntityTypeInvoices           EntityType = "invoices"
	EntityTypeCreditNotes        EntityType = "credit_notes"
	EntityTypePayments           EntityType = "payments"
	EntityTypeBankTransactions   EntityType = "bank_transactions"
)

// processingOrder is the dependency order: lookup tables, parties, catalog,
// primary transactions, adjustments, settlements, raw ledger lines.
var processingOrder = []EntityType{
	EntityTypeAccounts,
	EntityTypeTaxRates,
	EntityTypeTrackingCategories,
	EntityTypeContacts,
	EntityTypeItems,
	EntityTypeInvoices,
	EntityTypeCreditNotes,
	EntityTypePayments,
	EntityTypeBankTransactions,
}

var rank = func() map[EntityType]int {
	m := make(map[EntityType]int, len(processingOrder))
	for i, t := range processingOrder {
		m[t] = i
	}
	return m
}()

// ProcessingOrder returns all entity types in the fixed order they are migrated
func ProcessingOrder() []EntityType {
	out := make([]EntityType, len(processingOrder))
	copy(out, processingOrder)
	return out
}

// IsValid checks if the entity type is known
func (t EntityType) IsValid() bool {
	_, ok := rank[t]
	return ok
}

// Rank returns the position of the type in the processing order, -1 if unknown
func (t EntityType) Rank() int {
	if r, ok := rank[t]; ok {
		return r
	}
	return -1
}

// String returns the string representation of EntityType
func (t EntityType) String() string {
	return string(t)
}

// SortByProcessingOrder sorts types in place by their processing rank
func SortByProcessingOrder(types []EntityType) {
	sort.SliceStable(types, func(i, j int) bool {
		return types[i].Rank() < types[j].Rank()
	})
}
