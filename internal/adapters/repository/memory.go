package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/okian/bikeharvest/internal/domain/model"
	"github.com/okian/bikeharvest/internal/domain/persist"
	"github.com/okian/bikeharvest/pkg/logger"
	"github.com/okian/bikeharvest/pkg/metrics"
)

// snapshot is the on-disk form of a MemoryStore.
type snapshot struct {
	SavedAt       time.Time                   `json:"saved_at"`
	Comprehensive []model.ComprehensiveRecord `json:"comprehensive"`
	Raw           []model.RawRecord           `json:"raw"`
	Failures      []model.FailureRecord       `json:"failures"`
	Canonical     []*model.CanonicalRecord    `json:"canonical"`
}

// MemoryStore is an in-memory Store. Transactions are serialized and staged;
// readers never observe a partially applied transaction.
type MemoryStore struct {
	mu            sync.RWMutex
	comprehensive map[string]model.ComprehensiveRecord
	raw           map[string]model.RawRecord
	failures      map[string]model.FailureRecord
	canonical     map[string]*model.CanonicalRecord
	combos        map[model.Combination]string

	txMu   sync.Mutex
	closed bool

	snapshotPath          string
	metricsUpdateInterval time.Duration
	log                   logger.Logger

	wg       sync.WaitGroup
	stopChan chan struct{}
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore constructs a memory store, loading the snapshot when one is
// configured and exists.
func NewMemoryStore(ctx context.Context, opts ...Option) (*MemoryStore, error) {
	s := &MemoryStore{
		comprehensive:         make(map[string]model.ComprehensiveRecord),
		raw:                   make(map[string]model.RawRecord),
		failures:              make(map[string]model.FailureRecord),
		canonical:             make(map[string]*model.CanonicalRecord),
		combos:                make(map[model.Combination]string),
		metricsUpdateInterval: 5 * time.Second,
		stopChan:              make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.Get().Named("memory_store")
	}

	if s.snapshotPath != "" {
		if err := s.load(); err != nil {
			return nil, err
		}
	}

	s.startMetricsUpdater(ctx)
	return s, nil
}

// Comprehensive implements Store.
func (s *MemoryStore) Comprehensive(_ context.Context, key string) (*model.ComprehensiveRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.comprehensive[key]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

// Raw implements Store.
func (s *MemoryStore) Raw(_ context.Context, key string) (*model.RawRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.raw[key]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

// LastFailure implements Store.
func (s *MemoryStore) LastFailure(_ context.Context, key string) (*model.FailureRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.failures[key]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

// Canonical implements Store.
func (s *MemoryStore) Canonical(_ context.Context, syntheticKey string) (*model.CanonicalRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.canonical[syntheticKey]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

// Canonicals implements Store.
func (s *MemoryStore) Canonicals(_ context.Context) ([]*model.CanonicalRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.CanonicalRecord, 0, len(s.canonical))
	for _, rec := range s.canonical {
		cp := *rec
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SyntheticKey < out[j].SyntheticKey })
	return out, nil
}

// PutComprehensive implements Store.
func (s *MemoryStore) PutComprehensive(_ context.Context, rec model.ComprehensiveRecord) error {
	if rec.Key == "" {
		return ErrEmptyKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.comprehensive[rec.Key] = rec
	return nil
}

// RecordFailure implements Store. Only the latest failure per key is kept.
func (s *MemoryStore) RecordFailure(_ context.Context, rec model.FailureRecord) error {
	if rec.Key == "" {
		return ErrEmptyKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.failures[rec.Key] = rec
	return nil
}

// WithTransaction implements Store. Writes made through tx are applied only
// when fn returns nil; a panic in fn discards them and is re-raised.
func (s *MemoryStore) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx persist.Tx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	tx := &memoryTx{
		s:         s,
		raw:       make(map[string]model.RawRecord),
		canonical: make(map[string]*model.CanonicalRecord),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for k, rec := range tx.raw {
		s.raw[k] = rec
	}
	for k, rec := range tx.canonical {
		if prev, ok := s.canonical[k]; ok && s.combos[prev.Combination()] == k {
			delete(s.combos, prev.Combination())
		}
		s.canonical[k] = rec
		if _, taken := s.combos[rec.Combination()]; !taken {
			s.combos[rec.Combination()] = k
		}
	}
	return nil
}

// Count implements Store.
func (s *MemoryStore) Count(_ context.Context) (Counts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Counts{
		StoreComprehensive: len(s.comprehensive),
		StoreRaw:           len(s.raw),
		StoreFailures:      len(s.failures),
		StoreCanonical:     len(s.canonical),
	}, nil
}

// Close stops the background goroutines and writes the snapshot.
func (s *MemoryStore) Close() error {
	select {
	case <-s.stopChan:
		return nil
	default:
		close(s.stopChan)
	}
	s.wg.Wait()

	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	if s.snapshotPath == "" {
		return nil
	}
	return s.save()
}

// Flush writes the snapshot without closing the store.
func (s *MemoryStore) Flush() error {
	if s.snapshotPath == "" {
		return nil
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return s.save()
}

func (s *MemoryStore) load() error {
	data, err := os.ReadFile(s.snapshotPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: read %s: %w", ErrSnapshot, s.snapshotPath, err)
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("%w: decode %s: %w", ErrSnapshot, s.snapshotPath, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range snap.Comprehensive {
		s.comprehensive[rec.Key] = rec
	}
	for _, rec := range snap.Raw {
		s.raw[rec.Key] = rec
	}
	for _, rec := range snap.Failures {
		s.failures[rec.Key] = rec
	}
	for _, rec := range snap.Canonical {
		s.canonical[rec.SyntheticKey] = rec
		if _, taken := s.combos[rec.Combination()]; !taken {
			s.combos[rec.Combination()] = rec.SyntheticKey
		}
	}
	s.log.Info(context.Background(), "snapshot loaded",
		logger.String("path", s.snapshotPath),
		logger.Int("raw", len(s.raw)),
		logger.Int("canonical", len(s.canonical)))
	return nil
}

// save writes to a temp file in the same directory and renames it over the
// snapshot.
func (s *MemoryStore) save() error {
	s.mu.RLock()
	snap := snapshot{SavedAt: time.Now().UTC()}
	for _, k := range sortedKeys(s.comprehensive) {
		snap.Comprehensive = append(snap.Comprehensive, s.comprehensive[k])
	}
	for _, k := range sortedKeys(s.raw) {
		snap.Raw = append(snap.Raw, s.raw[k])
	}
	for _, k := range sortedKeys(s.failures) {
		snap.Failures = append(snap.Failures, s.failures[k])
	}
	for _, k := range sortedKeys(s.canonical) {
		snap.Canonical = append(snap.Canonical, s.canonical[k])
	}
	s.mu.RUnlock()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode: %w", ErrSnapshot, err)
	}
	dir := filepath.Dir(s.snapshotPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: %w", ErrSnapshot, err)
	}
	tmp, err := os.CreateTemp(dir, ".snapshot-*")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSnapshot, err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("%w: write: %w", ErrSnapshot, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("%w: %w", ErrSnapshot, err)
	}
	if err := os.Rename(tmp.Name(), s.snapshotPath); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("%w: %w", ErrSnapshot, err)
	}
	return nil
}

// startMetricsUpdater starts a background goroutine that publishes store sizes.
func (s *MemoryStore) startMetricsUpdater(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.metricsUpdateInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopChan:
				return
			case <-ticker.C:
				s.updateMetrics()
			}
		}
	}()
}

func (s *MemoryStore) updateMetrics() {
	counts, _ := s.Count(context.Background())
	for name, n := range counts {
		metrics.UpdateStoreRecords(name, n)
	}
}

// memoryTx stages writes. Reads see staged writes first.
type memoryTx struct {
	s         *MemoryStore
	raw       map[string]model.RawRecord
	canonical map[string]*model.CanonicalRecord
}

func (t *memoryTx) RawExists(_ context.Context, key string) (bool, error) {
	if _, ok := t.raw[key]; ok {
		return true, nil
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	_, ok := t.s.raw[key]
	return ok, nil
}

func (t *memoryTx) InsertRaw(_ context.Context, rec model.RawRecord) error {
	if rec.Key == "" {
		return ErrEmptyKey
	}
	t.raw[rec.Key] = rec
	return nil
}

func (t *memoryTx) CombinationOwner(_ context.Context, c model.Combination) (string, error) {
	for _, k := range sortedKeys(t.canonical) {
		if t.canonical[k].Combination() == c {
			return k, nil
		}
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	return t.s.combos[c], nil
}

func (t *memoryTx) UpsertCanonical(_ context.Context, rec *model.CanonicalRecord) error {
	if rec == nil || rec.SyntheticKey == "" {
		return ErrEmptyKey
	}
	cp := *rec
	t.canonical[rec.SyntheticKey] = &cp
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
