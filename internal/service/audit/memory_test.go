package audit

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/aegisops/aegis-soc-backend/internal/domain/audit"
	"github.com/aegisops/aegis-soc-backend/internal/domain/errors"
)

// memoryStore is an in-memory RecordRepository + ChainStateRepository used
// across the package tests. InsertWithState mirrors the transactional
// contract: a failed insert leaves chain state untouched.
type memoryStore struct {
	mu      sync.Mutex
	records map[string][]*audit.Record // tenant -> records, insertion order
	states  map[string]*audit.ChainState

	failNextInsert bool
	insertCount    int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		records: make(map[string][]*audit.Record),
		states:  make(map[string]*audit.ChainState),
	}
}

func (m *memoryStore) InsertWithState(_ context.Context, record *audit.Record, state *audit.ChainState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNextInsert {
		m.failNextInsert = false
		return errors.NewInternalError("simulated insert failure")
	}
	m.records[record.TenantID] = append(m.records[record.TenantID], record.Clone())
	st := *state
	m.states[state.TenantID] = &st
	m.insertCount++
	return nil
}

func (m *memoryStore) GetRecent(_ context.Context, tenantID string, n int) ([]*audit.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.sorted(tenantID)
	if len(all) > n {
		all = all[len(all)-n:]
	}
	return all, nil
}

func (m *memoryStore) GetRange(_ context.Context, tenantID string, from, to int64) ([]*audit.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*audit.Record
	for _, r := range m.sorted(tenantID) {
		if r.SequenceNumber >= from && r.SequenceNumber <= to {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memoryStore) GetAll(_ context.Context, tenantID string) ([]*audit.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sorted(tenantID), nil
}

func (m *memoryStore) GetByInvestigation(_ context.Context, tenantID, investigationID string) ([]*audit.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*audit.Record
	for _, r := range m.sorted(tenantID) {
		if r.InvestigationID == investigationID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memoryStore) GetRandomSample(_ context.Context, tenantID string, n int) ([]*audit.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.sorted(tenantID)
	rand.Shuffle(len(all), func(i, j int) { all[i], all[j] = all[j], all[i] })
	if len(all) > n {
		all = all[:n]
	}
	return all, nil
}

func (m *memoryStore) MaxSequence(_ context.Context, tenantID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.sorted(tenantID)
	if len(all) == 0 {
		return -1, nil
	}
	return all[len(all)-1].SequenceNumber, nil
}

func (m *memoryStore) GetMonth(_ context.Context, year int, month time.Month) ([]*audit.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tenants := make([]string, 0, len(m.records))
	for t := range m.records {
		tenants = append(tenants, t)
	}
	sort.Strings(tenants)
	var out []*audit.Record
	for _, t := range tenants {
		for _, r := range m.sorted(t) {
			if r.Timestamp.Year() == year && r.Timestamp.Month() == month {
				out = append(out, r)
			}
		}
	}
	return out, nil
}

func (m *memoryStore) TenantsInMonth(_ context.Context, year int, month time.Month) ([]string, error) {
	records, _ := m.GetMonth(context.Background(), year, month)
	seen := map[string]struct{}{}
	var out []string
	for _, r := range records {
		if _, ok := seen[r.TenantID]; !ok {
			seen[r.TenantID] = struct{}{}
			out = append(out, r.TenantID)
		}
	}
	return out, nil
}

func (m *memoryStore) ListTenants(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for t := range m.states {
		out = append(out, t)
	}
	sort.Strings(out)
	return out, nil
}

func (m *memoryStore) Get(_ context.Context, tenantID string) (*audit.ChainState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[tenantID]
	if !ok {
		return nil, errors.ErrRecordNotFound
	}
	cp := *st
	return &cp, nil
}

func (m *memoryStore) Upsert(_ context.Context, state *audit.ChainState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := *state
	m.states[state.TenantID] = &st
	return nil
}

func (m *memoryStore) sorted(tenantID string) []*audit.Record {
	out := make([]*audit.Record, len(m.records[tenantID]))
	copy(out, m.records[tenantID])
	sort.Slice(out, func(i, j int) bool {
		return out[i].SequenceNumber < out[j].SequenceNumber
	})
	return out
}

// tamper replaces a stored record field in place, bypassing the append-only
// contract, to simulate storage-level corruption.
func (m *memoryStore) tamper(tenantID string, seq int64, mutate func(*audit.Record)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records[tenantID] {
		if r.SequenceNumber == seq {
			mutate(r)
			return
		}
	}
}
