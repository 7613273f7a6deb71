// Package mapping turns external accounting records into ledger records and
// resolves conflicts against records that were already migrated.
//
// Canonical field keys produced by the platform adapters:
//
//	accounts             code, name, type, class, status, tax_type, description
//	tax_rates            code, name, rate, status
//	tracking_categories  name, status, options
//	contacts             name, email, phone, tax_number, is_customer, is_supplier, status, currency
//	items                code, name, description, sales_price, purchase_price, is_tracked,
//	                     sales_account_id, purchase_account_id
//	invoices             number, type, status, currency, reference, date, due_date, subtotal,
//	                     tax_total, total, amount_due, contact_id, line_items
//	credit_notes         as invoices, with remaining_credit instead of amount_due
//	payments             amount, date, reference, status, currency, invoice_id | credit_note_id, account_id
//	bank_transactions    type, status, currency, reference, date, subtotal, tax_total, total,
//	                     account_id, contact_id, line_items
//	line_items[]         description, quantity, unit_amount, line_amount, tax_amount, tax_type,
//	                     item_id, account_id
package mapping

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lukgber-glitch/operate-sub002/internal/domain/integration"
	"github.com/lukgber-glitch/operate-sub002/internal/domain/ledger"
	"github.com/lukgber-glitch/operate-sub002/internal/domain/migration"
	"github.com/lukgber-glitch/operate-sub002/internal/domain/shared"
	"go.uber.org/zap"
)

// maxIdentitySuffix bounds the search for a free identity under create-new
const maxIdentitySuffix = 1000

// Action describes what the mapper did with a record
type Action string

const (
	ActionCreated    Action = "created"
	ActionOverwrote  Action = "overwrote"
	ActionMerged     Action = "merged"
	ActionDuplicated Action = "duplicated"
	ActionSkipped    Action = "skipped"
	ActionNone       Action = "none"
)

// Request is one record to map
type Request struct {
	TenantID uuid.UUID
	JobID    *uuid.UUID
	Platform integration.PlatformCode
	Record   integration.ExternalRecord
	Config   migration.EntityTypeConfig
}

// Result is the outcome of mapping one record
type Result struct {
	Status     migration.RecordStatus
	Action     Action
	InternalID uuid.UUID
	Err        error
}

// ErrorCode returns the domain code of a failed result
func (r Result) ErrorCode() string {
	if r.Err == nil {
		return ""
	}
	if code := shared.ErrorCode(r.Err); code != "" {
		return code
	}
	return "MAPPING_FAILED"
}

func failed(err error) Result {
	return Result{Status: migration.RecordStatusFailed, Action: ActionNone, Err: err}
}

// Mapper maps external records into the ledger. The mapping table is the only
// authority on whether a record was already migrated.
type Mapper struct {
	mappings    migration.MappingRepository
	uow         migration.UnitOfWork
	translators *TranslatorRegistry
	logger      *zap.Logger
}

// NewMapper creates a new Mapper
func NewMapper(
	mappings migration.MappingRepository,
	uow migration.UnitOfWork,
	translators *TranslatorRegistry,
	logger *zap.Logger,
) *Mapper {
	if translators == nil {
		translators = DefaultTranslators()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mapper{
		mappings:    mappings,
		uow:         uow,
		translators: translators,
		logger:      logger.Named("mapper"),
	}
}

// Map applies one external record according to the entity type's conflict strategy
func (m *Mapper) Map(ctx context.Context, req Request) Result {
	entityType := req.Config.EntityType
	if req.Record.ExternalID == "" {
		return failed(shared.NewDomainError("INVALID_EXTERNAL_ID", "External record has no id"))
	}
	key := migration.MappingKey{TenantID: req.TenantID, EntityType: entityType, ExternalID: req.Record.ExternalID}

	existing, err := m.lookup(ctx, key)
	if err != nil {
		return failed(err)
	}
	if existing == nil {
		result := m.create(ctx, req, key)
		if !errors.Is(result.Err, migration.ErrMappingConflict) {
			return result
		}
		// Another writer mapped the same key first; treat it as already present
		existing, err = m.lookup(ctx, key)
		if err != nil {
			return failed(err)
		}
		if existing == nil {
			return failed(result.Err)
		}
	}
	return m.resolveConflict(ctx, req, existing)
}

func (m *Mapper) lookup(ctx context.Context, key migration.MappingKey) (*migration.ExternalIDMapping, error) {
	existing, err := m.mappings.FindByKey(ctx, key)
	if err != nil {
		if errors.Is(err, migration.ErrMappingNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("lookup mapping %s/%s: %w", key.EntityType, key.ExternalID, err)
	}
	return existing, nil
}

// create handles a record seen for the first time
func (m *Mapper) create(ctx context.Context, req Request, key migration.MappingKey) Result {
	doc, refs, err := m.prepare(ctx, req)
	if err != nil {
		return failed(err)
	}

	var internalID uuid.UUID
	err = m.uow.Do(ctx, func(ctx context.Context, tx migration.TxScope) error {
		record, err := ledger.NewRecord(req.TenantID, key.EntityType, doc.Identity, doc.Fields, refs)
		if err != nil {
			return err
		}
		if err := tx.Records.Create(ctx, record); err != nil {
			return fmt.Errorf("create ledger record: %w", err)
		}
		mapping, err := migration.NewExternalIDMapping(key, record.ID, req.Platform)
		if err != nil {
			return err
		}
		mapping.RefreshMetadata(req.Record.Revision, req.Record.UpdatedAt, req.JobID, nil)
		if err := tx.Mappings.Create(ctx, mapping); err != nil {
			return err
		}
		internalID = record.ID
		return nil
	})
	if err != nil {
		return failed(err)
	}
	m.logger.Debug("Record created",
		zap.String("entity_type", key.EntityType.String()),
		zap.String("external_id", key.ExternalID),
		zap.String("internal_id", internalID.String()))
	return Result{Status: migration.RecordStatusSuccess, Action: ActionCreated, InternalID: internalID}
}

// resolveConflict applies the configured strategy to an already-mapped record
func (m *Mapper) resolveConflict(ctx context.Context, req Request, existing *migration.ExternalIDMapping) Result {
	switch req.Config.ConflictStrategy {
	case migration.ConflictStrategySkip, "":
		return Result{Status: migration.RecordStatusSkipped, Action: ActionSkipped, InternalID: existing.InternalID}
	case migration.ConflictStrategyOverwrite:
		return m.update(ctx, req, existing, ActionOverwrote)
	case migration.ConflictStrategyMerge:
		return m.update(ctx, req, existing, ActionMerged)
	case migration.ConflictStrategyCreateNew:
		return m.duplicate(ctx, req, existing)
	default:
		return failed(shared.NewDomainError(migration.ErrStrategyViolation.Code,
			fmt.Sprintf("Unknown conflict strategy: %s", req.Config.ConflictStrategy)))
	}
}

// update re-maps onto the existing internal record and refreshes mapping metadata
func (m *Mapper) update(ctx context.Context, req Request, existing *migration.ExternalIDMapping, action Action) Result {
	doc, refs, err := m.prepare(ctx, req)
	if err != nil {
		return failed(err)
	}
	err = m.uow.Do(ctx, func(ctx context.Context, tx migration.TxScope) error {
		record, err := tx.Records.FindByID(ctx, req.TenantID, existing.InternalID)
		if err != nil {
			return fmt.Errorf("load ledger record %s: %w", existing.InternalID, err)
		}
		if action == ActionMerged {
			record.Merge(doc.Identity, doc.Fields, refs)
		} else {
			record.Overwrite(doc.Identity, doc.Fields, refs)
		}
		if err := tx.Records.Save(ctx, record); err != nil {
			return fmt.Errorf("save ledger record: %w", err)
		}
		existing.RefreshMetadata(req.Record.Revision, req.Record.UpdatedAt, req.JobID, map[string]any{
			"last_action": string(action),
		})
		return tx.Mappings.Save(ctx, existing)
	})
	if err != nil {
		return failed(err)
	}
	return Result{Status: migration.RecordStatusSuccess, Action: action, InternalID: existing.InternalID}
}

// duplicate creates a new internal record with a suffixed identity; the mapping keeps its target
func (m *Mapper) duplicate(ctx context.Context, req Request, existing *migration.ExternalIDMapping) Result {
	doc, refs, err := m.prepare(ctx, req)
	if err != nil {
		return failed(err)
	}
	var internalID uuid.UUID
	err = m.uow.Do(ctx, func(ctx context.Context, tx migration.TxScope) error {
		identity, err := uniqueIdentity(ctx, tx.Records, req.TenantID, existing.EntityType, doc.Identity)
		if err != nil {
			return err
		}
		record, err := ledger.NewRecord(req.TenantID, existing.EntityType, identity, doc.Fields, refs)
		if err != nil {
			return err
		}
		if err := tx.Records.Create(ctx, record); err != nil {
			return fmt.Errorf("create ledger record: %w", err)
		}
		internalID = record.ID
		return nil
	})
	if err != nil {
		return failed(err)
	}
	return Result{Status: migration.RecordStatusSuccess, Action: ActionDuplicated, InternalID: internalID}
}

// prepare translates the record and resolves its references. A missing required
// reference fails the record before anything is written.
func (m *Mapper) prepare(ctx context.Context, req Request) (*Document, map[string]uuid.UUID, error) {
	translator, ok := m.translators.Get(req.Config.EntityType)
	if !ok {
		return nil, nil, shared.NewDomainError("UNSUPPORTED_ENTITY_TYPE",
			fmt.Sprintf("No translator for entity type %s", req.Config.EntityType))
	}
	doc, err := translator.Translate(req.Record, req.Config.FieldMappings)
	if err != nil {
		return nil, nil, err
	}

	refs := make(map[string]uuid.UUID, len(doc.References))
	for _, ref := range doc.References {
		if ref.ExternalID == "" {
			if ref.Required {
				return nil, nil, shared.NewDomainError(migration.ErrMissingReference.Code,
					fmt.Sprintf("%s %s has no %s reference", req.Config.EntityType, req.Record.ExternalID, ref.Field))
			}
			continue
		}
		target, err := m.lookup(ctx, migration.MappingKey{
			TenantID:   req.TenantID,
			EntityType: ref.EntityType,
			ExternalID: ref.ExternalID,
		})
		if err != nil {
			return nil, nil, err
		}
		if target == nil {
			if ref.Required {
				return nil, nil, shared.NewDomainError(migration.ErrMissingReference.Code,
					fmt.Sprintf("%s %s references %s %s which has not been migrated",
						req.Config.EntityType, req.Record.ExternalID, ref.EntityType, ref.ExternalID))
			}
			continue
		}
		refs[ref.Field] = target.InternalID
	}
	return doc, refs, nil
}

// uniqueIdentity returns identity, or identity suffixed with " (n)" for the first free n
func uniqueIdentity(ctx context.Context, records ledger.RecordRepository, tenantID uuid.UUID, t ledger.EntityType, identity string) (string, error) {
	for n := 2; n <= maxIdentitySuffix; n++ {
		candidate := fmt.Sprintf("%s (%d)", identity, n)
		exists, err := records.IdentityExists(ctx, tenantID, t, candidate)
		if err != nil {
			return "", fmt.Errorf("check identity: %w", err)
		}
		if !exists {
			return candidate, nil
		}
	}
	return "", shared.NewDomainError("IDENTITY_EXHAUSTED",
		fmt.Sprintf("No free identity for %s %q", t, identity))
}
