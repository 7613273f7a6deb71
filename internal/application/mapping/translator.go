package mapping

import (
	"fmt"

	"github.com/lukgber-glitch/operate-sub002/internal/domain/integration"
	"github.com/lukgber-glitch/operate-sub002/internal/domain/ledger"
	"github.com/lukgber-glitch/operate-sub002/internal/domain/shared"
)

// ErrInvalidData is returned when an external record cannot be translated
var ErrInvalidData = shared.NewDomainError("INVALID_DATA", "External record contains invalid data")

// Reference is a link from a document to another external record that must
// be resolved to an internal id through its mapping
type Reference struct {
	// Field is the document key the resolved id is stored under, e.g. "contact" or "line_items.0.item"
	Field      string
	EntityType ledger.EntityType
	ExternalID string
	Required   bool
}

// Document is the internal representation of one external record before persistence
type Document struct {
	Identity   string
	Fields     map[string]any
	References []Reference
}

// Translator converts one entity type from its canonical external form
type Translator interface {
	EntityType() ledger.EntityType
	Translate(record integration.ExternalRecord, overrides map[string]string) (*Document, error)
}

// translatorFunc adapts a translation function to Translator
type translatorFunc struct {
	Type ledger.EntityType
	Fn   func(src *source, record integration.ExternalRecord) (*Document, error)
}

// EntityType returns the handled entity type
func (t translatorFunc) EntityType() ledger.EntityType { return t.Type }

// Translate runs the translation function
func (t translatorFunc) Translate(record integration.ExternalRecord, overrides map[string]string) (*Document, error) {
	doc, err := t.Fn(newSource(record, overrides), record)
	if err != nil {
		return nil, shared.NewDomainError(ErrInvalidData.Code, fmt.Sprintf("%s %s: %v", t.Type, record.ExternalID, err))
	}
	if doc.Identity == "" {
		doc.Identity = record.ExternalID
	}
	return doc, nil
}

// TranslatorRegistry holds one translator per entity type
type TranslatorRegistry struct {
	translators map[ledger.EntityType]Translator
}

// NewTranslatorRegistry creates a registry with the given translators
func NewTranslatorRegistry(translators ...Translator) *TranslatorRegistry {
	r := &TranslatorRegistry{translators: make(map[ledger.EntityType]Translator, len(translators))}
	for _, t := range translators {
		r.Register(t)
	}
	return r
}

// DefaultTranslators returns a registry covering every ledger entity type
func DefaultTranslators() *TranslatorRegistry {
	return NewTranslatorRegistry(
		translatorFunc{Type: ledger.EntityTypeAccounts, Fn: translateAccount},
		translatorFunc{Type: ledger.EntityTypeTaxRates, Fn: translateTaxRate},
		translatorFunc{Type: ledger.EntityTypeTrackingCategories, Fn: translateTrackingCategory},
		translatorFunc{Type: ledger.EntityTypeContacts, Fn: translateContact},
		translatorFunc{Type: ledger.EntityTypeItems, Fn: translateItem},
		translatorFunc{Type: ledger.EntityTypeInvoices, Fn: translateInvoice},
		translatorFunc{Type: ledger.EntityTypeCreditNotes, Fn: translateCreditNote},
		translatorFunc{Type: ledger.EntityTypePayments, Fn: translatePayment},
		translatorFunc{Type: ledger.EntityTypeBankTransactions, Fn: translateBankTransaction},
	)
}

// Register adds or replaces a translator
func (r *TranslatorRegistry) Register(t Translator) {
	r.translators[t.EntityType()] = t
}

// Get returns the translator of an entity type
func (r *TranslatorRegistry) Get(t ledger.EntityType) (Translator, bool) {
	tr, ok := r.translators[t]
	return tr, ok
}
