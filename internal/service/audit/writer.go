package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aegisops/aegis-soc-backend/internal/domain/audit"
	"github.com/aegisops/aegis-soc-backend/internal/domain/errors"
)

// ChainWriter assigns per-tenant sequence numbers, links records via the
// hash chain, and persists them. Exactly one writer instance owns a tenant's
// chain at any time; within the instance a per-tenant lock serializes
// writes, so tenant chains advance independently and a stall in one tenant
// never blocks another.
type ChainWriter struct {
	records  audit.RecordRepository
	states   audit.ChainStateRepository
	verifier audit.ChainVerifier
	logger   *zap.Logger
	now      func() time.Time

	mu     sync.Mutex
	chains map[string]*tenantChain
}

// tenantChain holds the exclusive token and cached cursor for one tenant.
type tenantChain struct {
	mu    sync.Mutex
	state *audit.ChainState
}

// NewChainWriter creates the writer.
func NewChainWriter(records audit.RecordRepository, states audit.ChainStateRepository, logger *zap.Logger) *ChainWriter {
	return &ChainWriter{
		records:  records,
		states:   states,
		verifier: audit.NewHashChainVerifier(),
		logger:   logger.Named("chain_writer"),
		now:      time.Now,
		chains:   make(map[string]*tenantChain),
	}
}

// WithClock overrides the writer's clock. Test hook.
func (w *ChainWriter) WithClock(now func() time.Time) *ChainWriter {
	w.now = now
	return w
}

func (w *ChainWriter) chain(tenantID string) *tenantChain {
	w.mu.Lock()
	defer w.mu.Unlock()
	c, ok := w.chains[tenantID]
	if !ok {
		c = &tenantChain{}
		w.chains[tenantID] = c
	}
	return c
}

// Process converts one audit event into the tenant's next chained record.
// The insert and the chain-state advance are transactionally atomic; the
// in-memory cursor moves only after the store accepts the write.
func (w *ChainWriter) Process(ctx context.Context, event *audit.Event) (*audit.Record, error) {
	if err := event.Validate(); err != nil {
		return nil, err
	}

	c := w.chain(event.TenantID)
	c.mu.Lock()
	defer c.mu.Unlock()

	state, err := w.loadOrInitState(ctx, c, event.TenantID)
	if err != nil {
		return nil, err
	}

	record, err := w.buildRecord(event, state)
	if err != nil {
		return nil, err
	}

	nextState := &audit.ChainState{
		TenantID:      event.TenantID,
		LastSequence:  record.SequenceNumber,
		LastHash:      record.RecordHash,
		LastTimestamp: record.Timestamp,
		UpdatedAt:     w.now().UTC(),
	}

	if err := w.records.InsertWithState(ctx, record, nextState); err != nil {
		// Sequence must not advance past a failed insert.
		return nil, err
	}
	c.state = nextState

	return record, nil
}

// ProcessBatch processes events in input order to preserve chain validity.
// The first failure aborts the batch; already written records stand.
func (w *ChainWriter) ProcessBatch(ctx context.Context, events []*audit.Event) ([]*audit.Record, error) {
	records := make([]*audit.Record, 0, len(events))
	for _, event := range events {
		record, err := w.Process(ctx, event)
		if err != nil {
			return records, err
		}
		records = append(records, record)
	}
	return records, nil
}

// loadOrInitState returns the tenant cursor, materializing the genesis
// record on first use. Caller holds the tenant lock.
func (w *ChainWriter) loadOrInitState(ctx context.Context, c *tenantChain, tenantID string) (*audit.ChainState, error) {
	if c.state != nil {
		return c.state, nil
	}

	state, err := w.states.Get(ctx, tenantID)
	if err == nil {
		c.state = state
		return state, nil
	}
	if !errors.IsType(err, errors.ErrorTypeNotFound) {
		return nil, err
	}

	// First event for this tenant: materialize genesis and persist it with
	// its chain state in one transaction.
	genesis := audit.NewGenesisRecord(tenantID, w.now())
	hash, err := audit.ComputeRecordHash(genesis)
	if err != nil {
		return nil, err
	}
	genesis.RecordHash = hash

	genesisState := &audit.ChainState{
		TenantID:      tenantID,
		LastSequence:  0,
		LastHash:      hash,
		LastTimestamp: genesis.Timestamp,
		UpdatedAt:     w.now().UTC(),
	}
	if err := w.records.InsertWithState(ctx, genesis, genesisState); err != nil {
		return nil, err
	}

	w.logger.Info("chain initialized",
		zap.String("tenant_id", tenantID),
		zap.String("genesis_hash", hash))

	c.state = genesisState
	return genesisState, nil
}

func (w *ChainWriter) buildRecord(event *audit.Event, state *audit.ChainState) (*audit.Record, error) {
	category := event.EventCategory
	if category == "" {
		category = audit.DeriveCategory(event.EventType)
	}
	severity := event.Severity
	if severity == "" {
		severity = audit.SeverityInfo
	}
	timestamp := event.Timestamp
	if timestamp.IsZero() {
		timestamp = w.now()
	}

	record := &audit.Record{
		AuditID:          uuid.New(),
		TenantID:         event.TenantID,
		SequenceNumber:   state.LastSequence + 1,
		PreviousHash:     state.LastHash,
		Timestamp:        timestamp.UTC(),
		IngestedAt:       w.now().UTC(),
		EventType:        event.EventType,
		EventCategory:    category,
		Severity:         severity,
		ActorType:        event.ActorType,
		ActorID:          event.ActorID,
		ActorPermissions: event.ActorPermissions,
		InvestigationID:  event.InvestigationID,
		AlertID:          event.AlertID,
		EntityIDs:        event.EntityIDs,
		Context:          event.Context,
		Decision:         event.Decision,
		Outcome:          event.Outcome,
		RecordVersion:    audit.RecordVersion,
		SourceService:    event.SourceService,
	}

	hash, err := audit.ComputeRecordHash(record)
	if err != nil {
		return nil, err
	}
	record.RecordHash = hash
	return record, nil
}

// VerifyRecent verifies the last n records of a tenant's chain.
func (w *ChainWriter) VerifyRecent(ctx context.Context, tenantID string, n int) (*audit.VerificationResult, error) {
	records, err := w.records.GetRecent(ctx, tenantID, n)
	if err != nil {
		return nil, err
	}
	return w.verifyWindow(records), nil
}

// VerifyRange verifies records with from <= sequence <= to.
func (w *ChainWriter) VerifyRange(ctx context.Context, tenantID string, from, to int64) (*audit.VerificationResult, error) {
	records, err := w.records.GetRange(ctx, tenantID, from, to)
	if err != nil {
		return nil, err
	}
	return w.verifyWindow(records), nil
}

// VerifyAll verifies a tenant's entire chain from genesis.
func (w *ChainWriter) VerifyAll(ctx context.Context, tenantID string) (*audit.VerificationResult, error) {
	records, err := w.records.GetAll(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return w.verifier.VerifyChain(records), nil
}

// verifyWindow verifies a window that may start mid-chain. The verifier
// checks per-record hashes and intra-window linkage; the first record's
// previous_hash has no in-window predecessor and is only checked against the
// zero anchor when the window starts at genesis.
func (w *ChainWriter) verifyWindow(records []*audit.Record) *audit.VerificationResult {
	return w.verifier.VerifyChain(records)
}
