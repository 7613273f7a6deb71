package ledger

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessingOrder(t *testing.T) {
	order := ProcessingOrder()
	require.Len(t, order, 9)
	assert.Equal(t, EntityTypeAccounts, order[0])
	assert.Equal(t, EntityTypeBankTransactions, order[len(order)-1])

	// Parties before transactions, transactions before settlements
	assert.Less(t, EntityTypeContacts.Rank(), EntityTypeInvoices.Rank())
	assert.Less(t, EntityTypeItems.Rank(), EntityTypeInvoices.Rank())
	assert.Less(t, EntityTypeInvoices.Rank(), EntityTypeCreditNotes.Rank())
	assert.Less(t, EntityTypeCreditNotes.Rank(), EntityTypePayments.Rank())

	order[0] = EntityTypeItems
	assert.Equal(t, EntityTypeAccounts, ProcessingOrder()[0], "returned slice must be a copy")
}

func TestEntityType_IsValid(t *testing.T) {
	tests := []struct {
		name string
		t    EntityType
		want bool
	}{
		{"accounts", EntityTypeAccounts, true},
		{"bank transactions", EntityTypeBankTransactions, true},
		{"unknown", EntityType("journals"), false},
		{"empty", EntityType(""), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.t.IsValid())
		})
	}
	assert.Equal(t, -1, EntityType("journals").Rank())
}

func TestSortByProcessingOrder(t *testing.T) {
	types := []EntityType{EntityTypePayments, EntityTypeAccounts, EntityTypeInvoices, EntityTypeContacts}
	SortByProcessingOrder(types)
	assert.Equal(t, []EntityType{EntityTypeAccounts, EntityTypeContacts, EntityTypeInvoices, EntityTypePayments}, types)
}

func TestNewRecord(t *testing.T) {
	tenantID := uuid.New()

	t.Run("drops nil fields", func(t *testing.T) {
		r, err := NewRecord(tenantID, EntityTypeContacts, "ACME", map[string]any{"name": "Acme", "email": nil}, nil)
		require.NoError(t, err)
		assert.Equal(t, "Acme", r.Field("name"))
		_, has := r.Fields["email"]
		assert.False(t, has)
		assert.Equal(t, 1, r.Version)
	})

	t.Run("validates input", func(t *testing.T) {
		_, err := NewRecord(uuid.Nil, EntityTypeContacts, "x", nil, nil)
		assert.Error(t, err)
		_, err = NewRecord(tenantID, EntityType("bogus"), "x", nil, nil)
		assert.Error(t, err)
		_, err = NewRecord(tenantID, EntityTypeContacts, "", nil, nil)
		assert.Error(t, err)
	})
}

func TestRecord_OverwriteAndMerge(t *testing.T) {
	tenantID := uuid.New()
	contactID := uuid.New()

	newRecord := func(t *testing.T) *Record {
		r, err := NewRecord(tenantID, EntityTypeInvoices, "INV-1",
			map[string]any{"total": "100.00", "reference": "PO-7", "status": "AUTHORISED"},
			map[string]uuid.UUID{"contact": contactID})
		require.NoError(t, err)
		return r
	}

	t.Run("overwrite replaces all fields", func(t *testing.T) {
		r := newRecord(t)
		r.Overwrite("INV-1", map[string]any{"total": "120.00", "reference": nil, "status": "PAID"}, nil)

		assert.Equal(t, "120.00", r.Field("total"))
		assert.Nil(t, r.Field("reference"))
		assert.Equal(t, "PAID", r.Field("status"))
		assert.Empty(t, r.References)
		assert.Equal(t, 2, r.Version)
	})

	t.Run("merge keeps existing values where incoming is null", func(t *testing.T) {
		r := newRecord(t)
		otherContact := uuid.New()
		r.Merge("", map[string]any{"total": "150.00", "reference": nil}, map[string]uuid.UUID{"contact": otherContact, "item": uuid.Nil})

		assert.Equal(t, "INV-1", r.Identity)
		assert.Equal(t, "150.00", r.Field("total"))
		assert.Equal(t, "PO-7", r.Field("reference"))
		assert.Equal(t, "AUTHORISED", r.Field("status"))
		ref, ok := r.Reference("contact")
		assert.True(t, ok)
		assert.Equal(t, otherContact, ref)
		_, ok = r.Reference("item")
		assert.False(t, ok)
	})
}
