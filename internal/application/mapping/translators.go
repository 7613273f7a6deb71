package mapping

import (
	"errors"
	"fmt"
	"strings"

	"github.com/lukgber-glitch/operate-sub002/internal/domain/integration"
	"github.com/lukgber-glitch/operate-sub002/internal/domain/ledger"
)

// builder accumulates document fields and remembers the first conversion error
type builder struct {
	fields map[string]any
	refs   []Reference
	err    error
}

func newBuilder() *builder {
	return &builder{fields: make(map[string]any)}
}

func (b *builder) set(key string, v any) {
	b.fields[key] = v
}

func (b *builder) setChecked(key string, v any, err error) {
	if err != nil && b.err == nil {
		b.err = err
	}
	b.fields[key] = v
}

func (b *builder) require(keys ...string) {
	for _, k := range keys {
		if b.fields[k] == nil && b.err == nil {
			b.err = fmt.Errorf("%s is required", k)
		}
	}
}

func (b *builder) ref(field string, t ledger.EntityType, externalID string, required bool) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" && !required {
		return
	}
	b.refs = append(b.refs, Reference{Field: field, EntityType: t, ExternalID: externalID, Required: required})
}

func (b *builder) document(identity string) (*Document, error) {
	if b.err != nil {
		return nil, b.err
	}
	return &Document{Identity: identity, Fields: b.fields, References: b.refs}, nil
}

func identityOf(values ...any) string {
	for _, v := range values {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// ---------------------------------------------------------------------------
// Reference data
// ---------------------------------------------------------------------------

func translateAccount(src *source, _ integration.ExternalRecord) (*Document, error) {
	b := newBuilder()
	code := src.name("code")
	name := src.name("name")
	b.set("code", code)
	b.set("name", name)
	b.set("type", src.optionalStr("type"))
	b.set("class", src.optionalStr("class"))
	b.set("status", src.optionalStr("status"))
	b.set("tax_type", src.optionalStr("tax_type"))
	b.set("description", src.optionalStr("description"))
	b.require("name")
	return b.document(identityOf(code, name))
}

func translateTaxRate(src *source, _ integration.ExternalRecord) (*Document, error) {
	b := newBuilder()
	code := src.name("code")
	name := src.name("name")
	b.set("code", code)
	b.set("name", name)
	rate, err := src.rate("rate")
	b.setChecked("rate", rate, err)
	b.set("status", src.optionalStr("status"))
	b.require("name")
	return b.document(identityOf(code, name))
}

func translateTrackingCategory(src *source, _ integration.ExternalRecord) (*Document, error) {
	b := newBuilder()
	name := src.name("name")
	b.set("name", name)
	b.set("status", src.optionalStr("status"))
	if opts := src.stringList("options"); opts != nil {
		normalized := make([]any, 0, len(opts))
		for _, o := range opts {
			if n := normalizeText(o); n != "" {
				normalized = append(normalized, n)
			}
		}
		b.set("options", normalized)
	} else {
		b.set("options", nil)
	}
	b.require("name")
	return b.document(identityOf(name))
}

// ---------------------------------------------------------------------------
// Parties and catalog
// ---------------------------------------------------------------------------

func translateContact(src *source, _ integration.ExternalRecord) (*Document, error) {
	b := newBuilder()
	name := src.name("name")
	b.set("name", name)
	b.set("email", src.optionalStr("email"))
	b.set("phone", src.optionalStr("phone"))
	b.set("tax_number", src.optionalStr("tax_number"))
	b.set("is_customer", src.boolean("is_customer"))
	b.set("is_supplier", src.boolean("is_supplier"))
	b.set("status", src.optionalStr("status"))
	b.set("currency", src.optionalStr("currency"))
	b.require("name")
	return b.document(identityOf(name))
}

func translateItem(src *source, _ integration.ExternalRecord) (*Document, error) {
	b := newBuilder()
	code := src.name("code")
	name := src.name("name")
	b.set("code", code)
	b.set("name", name)
	b.set("description", src.optionalStr("description"))
	sales, err := src.money("sales_price")
	b.setChecked("sales_price", sales, err)
	purchase, err := src.money("purchase_price")
	b.setChecked("purchase_price", purchase, err)
	b.set("is_tracked", src.boolean("is_tracked"))
	b.ref("sales_account", ledger.EntityTypeAccounts, src.str("sales_account_id"), false)
	b.ref("purchase_account", ledger.EntityTypeAccounts, src.str("purchase_account_id"), false)
	if code == nil && name == nil {
		b.require("code")
	}
	return b.document(identityOf(code, name))
}

// ---------------------------------------------------------------------------
// Transactions
// ---------------------------------------------------------------------------

func translateInvoice(src *source, _ integration.ExternalRecord) (*Document, error) {
	b := newBuilder()
	number := src.name("number")
	b.set("number", number)
	translateTransactionHeader(b, src)
	amountDue, err := src.money("amount_due")
	b.setChecked("amount_due", amountDue, err)
	translateLines(b, src)
	b.ref("contact", ledger.EntityTypeContacts, src.str("contact_id"), true)
	b.require("total")
	return b.document(identityOf(number))
}

func translateCreditNote(src *source, _ integration.ExternalRecord) (*Document, error) {
	b := newBuilder()
	number := src.name("number")
	b.set("number", number)
	translateTransactionHeader(b, src)
	remaining, err := src.money("remaining_credit")
	b.setChecked("remaining_credit", remaining, err)
	translateLines(b, src)
	b.ref("contact", ledger.EntityTypeContacts, src.str("contact_id"), true)
	b.require("total")
	return b.document(identityOf(number))
}

func translatePayment(src *source, _ integration.ExternalRecord) (*Document, error) {
	b := newBuilder()
	amount, err := src.money("amount")
	b.setChecked("amount", amount, err)
	date, err := src.date("date")
	b.setChecked("date", date, err)
	b.set("reference", src.optionalStr("reference"))
	b.set("status", src.optionalStr("status"))
	b.set("currency", src.optionalStr("currency"))

	invoiceID := src.str("invoice_id")
	creditNoteID := src.str("credit_note_id")
	switch {
	case invoiceID != "":
		b.ref("invoice", ledger.EntityTypeInvoices, invoiceID, true)
	case creditNoteID != "":
		b.ref("credit_note", ledger.EntityTypeCreditNotes, creditNoteID, true)
	default:
		if b.err == nil {
			b.err = errors.New("payment references neither an invoice nor a credit note")
		}
	}
	b.ref("account", ledger.EntityTypeAccounts, src.str("account_id"), false)
	b.require("amount")
	return b.document("")
}

func translateBankTransaction(src *source, _ integration.ExternalRecord) (*Document, error) {
	b := newBuilder()
	translateTransactionHeader(b, src)
	translateLines(b, src)
	b.ref("bank_account", ledger.EntityTypeAccounts, src.str("account_id"), true)
	b.ref("contact", ledger.EntityTypeContacts, src.str("contact_id"), false)
	b.require("total")
	return b.document("")
}

func translateTransactionHeader(b *builder, src *source) {
	b.set("type", src.optionalStr("type"))
	b.set("status", src.optionalStr("status"))
	b.set("currency", src.optionalStr("currency"))
	b.set("reference", src.optionalStr("reference"))
	date, err := src.date("date")
	b.setChecked("date", date, err)
	due, err := src.date("due_date")
	b.setChecked("due_date", due, err)
	for _, key := range []string{"subtotal", "tax_total", "total"} {
		v, err := src.money(key)
		b.setChecked(key, v, err)
	}
}

// translateLines converts line items and declares their optional item/account references
func translateLines(b *builder, src *source) {
	raw := src.lines("line_items")
	if raw == nil {
		b.set("line_items", nil)
		return
	}
	lines := make([]any, 0, len(raw))
	for i, line := range raw {
		ls := newSource(integration.ExternalRecord{Fields: line}, nil)
		out := map[string]any{}
		if d := ls.optionalStr("description"); d != nil {
			out["description"] = d
		}
		for _, key := range []string{"quantity", "unit_amount", "line_amount", "tax_amount"} {
			var v any
			var err error
			if key == "quantity" {
				v, err = ls.rate(key)
			} else {
				v, err = ls.money(key)
			}
			if err != nil && b.err == nil {
				b.err = fmt.Errorf("line %d: %w", i+1, err)
			}
			if v != nil {
				out[key] = v
			}
		}
		if tt := ls.optionalStr("tax_type"); tt != nil {
			out["tax_type"] = tt
		}
		b.ref(fmt.Sprintf("line_items.%d.item", i), ledger.EntityTypeItems, ls.str("item_id"), false)
		b.ref(fmt.Sprintf("line_items.%d.account", i), ledger.EntityTypeAccounts, ls.str("account_id"), false)
		lines = append(lines, out)
	}
	b.set("line_items", lines)
}
