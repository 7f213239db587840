package application_test

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ericfisherdev/feesync/internal/domain/model"
	"github.com/ericfisherdev/feesync/internal/domain/port/driven"
)

// --- Mock implementations ---

type mockProviderClient struct {
	provider          model.Provider
	fetchTransaction  func(ctx context.Context, cred model.Credential, id string) (model.TransactionFact, error)
	fetchSettlement   func(ctx context.Context, cred model.Credential, id string) (model.SettlementFact, error)
	refreshCredential func(ctx context.Context, cred model.Credential) (model.Credential, error)
	listTransactions  func(ctx context.Context, cred model.Credential, from, to time.Time) ([]model.TransactionFact, error)

	fetchCalls      atomic.Int32
	settlementCalls atomic.Int32
	refreshCalls    atomic.Int32
	listCalls       atomic.Int32
}

var _ driven.ProviderClient = (*mockProviderClient)(nil)

func (m *mockProviderClient) Provider() model.Provider { return m.provider }

func (m *mockProviderClient) FetchTransaction(ctx context.Context, cred model.Credential, id string) (model.TransactionFact, error) {
	m.fetchCalls.Add(1)
	if m.fetchTransaction == nil {
		return model.TransactionFact{}, model.ErrNotFound
	}
	return m.fetchTransaction(ctx, cred, id)
}

func (m *mockProviderClient) FetchSettlement(ctx context.Context, cred model.Credential, id string) (model.SettlementFact, error) {
	m.settlementCalls.Add(1)
	if m.fetchSettlement == nil {
		return model.SettlementFact{}, model.ErrUnsupported
	}
	return m.fetchSettlement(ctx, cred, id)
}

func (m *mockProviderClient) RefreshCredential(ctx context.Context, cred model.Credential) (model.Credential, error) {
	m.refreshCalls.Add(1)
	if m.refreshCredential == nil {
		return model.Credential{}, model.ErrRefreshDenied
	}
	return m.refreshCredential(ctx, cred)
}

func (m *mockProviderClient) ListTransactions(ctx context.Context, cred model.Credential, from, to time.Time) ([]model.TransactionFact, error) {
	m.listCalls.Add(1)
	if m.listTransactions == nil {
		return nil, nil
	}
	return m.listTransactions(ctx, cred, from, to)
}

type mockCredentialStore struct {
	mu     sync.Mutex
	creds  map[string]model.Credential
	puts   atomic.Int32
	getErr func() error
}

var _ driven.CredentialStore = (*mockCredentialStore)(nil)

func newMockCredentialStore(creds ...model.Credential) *mockCredentialStore {
	m := &mockCredentialStore{creds: make(map[string]model.Credential)}
	for _, c := range creds {
		m.creds[c.Key()] = c
	}
	return m
}

func (m *mockCredentialStore) Get(_ context.Context, provider model.Provider, account string) (model.Credential, error) {
	if m.getErr != nil {
		if err := m.getErr(); err != nil {
			return model.Credential{}, err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.creds[model.AccountKey(provider, account)]
	if !ok {
		return model.Credential{}, model.ErrCredentialNotFound
	}
	return c, nil
}

func (m *mockCredentialStore) Put(_ context.Context, cred model.Credential) error {
	m.puts.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds[cred.Key()] = cred
	return nil
}

func (m *mockCredentialStore) List(_ context.Context) ([]model.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Credential, 0, len(m.creds))
	for _, c := range m.creds {
		out = append(out, c)
	}
	return out, nil
}

func (m *mockCredentialStore) Delete(_ context.Context, provider model.Provider, account string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.creds, model.AccountKey(provider, account))
	return nil
}

// memFeeCache mirrors the last-write-wins semantics of the SQLite cache.
type memFeeCache struct {
	mu      sync.Mutex
	entries map[string]model.CacheEntry
	stores  atomic.Int32
}

var _ driven.FeeCache = (*memFeeCache)(nil)

func newMemFeeCache() *memFeeCache {
	return &memFeeCache{entries: make(map[string]model.CacheEntry)}
}

func (m *memFeeCache) Lookup(_ context.Context, provider model.Provider, txID string) (*model.CacheEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[string(provider)+"|"+txID]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (m *memFeeCache) Store(_ context.Context, entry model.CacheEntry) (bool, error) {
	m.stores.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	key := string(entry.Provider) + "|" + entry.TransactionID
	if cur, ok := m.entries[key]; ok && cur.FetchedAt.After(entry.FetchedAt) {
		return false, nil
	}
	m.entries[key] = entry
	return true, nil
}

func (m *memFeeCache) Stats(_ context.Context, _ time.Time) (model.CacheStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return model.CacheStats{Count: len(m.entries)}, nil
}

func (m *memFeeCache) Clear(_ context.Context, scope model.CacheScope) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k, e := range m.entries {
		if scope.Provider != "" && e.Provider != scope.Provider {
			continue
		}
		if scope.Account != "" && e.Account != scope.Account {
			continue
		}
		delete(m.entries, k)
		n++
	}
	return n, nil
}

func (m *memFeeCache) DeleteFetchedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k, e := range m.entries {
		if e.FetchedAt.Before(cutoff) {
			delete(m.entries, k)
			n++
		}
	}
	return n, nil
}

func (m *memFeeCache) get(provider model.Provider, txID string) (model.CacheEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[string(provider)+"|"+txID]
	return e, ok
}

type memRateCache struct {
	mu      sync.Mutex
	entries map[string]model.SettlementRateEntry
}

var _ driven.SettlementRateCache = (*memRateCache)(nil)

func newMemRateCache() *memRateCache {
	return &memRateCache{entries: make(map[string]model.SettlementRateEntry)}
}

func (m *memRateCache) Lookup(_ context.Context, provider model.Provider, id string) (*model.SettlementRateEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[string(provider)+"|"+id]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (m *memRateCache) Store(_ context.Context, entry model.SettlementRateEntry) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[string(entry.Provider)+"|"+entry.SettlementID] = entry
	return true, nil
}

func (m *memRateCache) Clear(_ context.Context, _ model.CacheScope) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := int64(len(m.entries))
	m.entries = make(map[string]model.SettlementRateEntry)
	return n, nil
}

func (m *memRateCache) DeleteFetchedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k, e := range m.entries {
		if e.FetchedAt.Before(cutoff) {
			delete(m.entries, k)
			n++
		}
	}
	return n, nil
}

type mockPaymentStore struct {
	mu       sync.Mutex
	pending  []model.PaymentRecord
	listErr  error
	updates  []model.FeeUpdate
	upserted []model.PaymentRecord
}

var _ driven.PaymentStore = (*mockPaymentStore)(nil)

func (m *mockPaymentStore) ListPending(_ context.Context, _ model.SyncScope, _ bool) ([]model.PaymentRecord, error) {
	return m.pending, m.listErr
}

func (m *mockPaymentStore) ApplyFee(_ context.Context, update model.FeeUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates = append(m.updates, update)
	return nil
}

func (m *mockPaymentStore) Upsert(_ context.Context, p model.PaymentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserted = append(m.upserted, p)
	return nil
}

func (m *mockPaymentStore) GetByID(_ context.Context, _ string) (*model.PaymentRecord, error) {
	return nil, nil
}

// updatesByPayment returns the applied updates keyed by payment id.
func (m *mockPaymentStore) updatesByPayment() map[string]model.FeeUpdate {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]model.FeeUpdate, len(m.updates))
	for _, u := range m.updates {
		out[u.PaymentID] = u
	}
	return out
}

type mockSyncLog struct {
	mu   sync.Mutex
	runs []model.SyncResult
}

var _ driven.SyncLog = (*mockSyncLog)(nil)

func (m *mockSyncLog) RecordRun(_ context.Context, result model.SyncResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, result)
	return nil
}

func (m *mockSyncLog) ListDiagnostics(_ context.Context, _ string, _ int) ([]model.SyncDiagnostic, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.SyncDiagnostic
	for _, r := range m.runs {
		out = append(out, r.Errors...)
	}
	return out, nil
}

func (m *mockSyncLog) ListRuns(_ context.Context, _ string, _ int) ([]model.SyncResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]model.SyncResult(nil), m.runs...)
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out, nil
}
