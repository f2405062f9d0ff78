package mission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/timshannon/badgerhold/v4"

	"github.com/mbhatt1/hive-sub000/internal/types"
	"github.com/mbhatt1/hive-sub000/internal/workflow"
)

// badgerMission is the stored form of a Mission. The context is kept as JSON
// since gob cannot encode arbitrary nested interface values.
type badgerMission struct {
	ID            string
	ScanType      string
	Status        string `badgerhold:"index"`
	Context       []byte
	Error         string
	FindingsCount int
	CreatedAt     time.Time
	UpdatedAt     time.Time
	CompletedAt   *time.Time
}

// BadgerStore persists missions in an embedded Badger key-value store.
type BadgerStore struct {
	store *badgerhold.Store
	// mu serializes read-modify-write updates.
	mu sync.Mutex
}

// OpenBadgerStore opens (or creates) a Badger database in dir.
func OpenBadgerStore(dir string) (*BadgerStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, types.WrapError(types.STORE_OPEN_FAILED, "failed to create database directory", err)
	}

	options := badgerhold.DefaultOptions
	options.Dir = dir
	options.ValueDir = dir
	options.Logger = nil

	store, err := badgerhold.Open(options)
	if err != nil {
		return nil, types.WrapError(types.STORE_OPEN_FAILED, "failed to open badger database", err)
	}
	return &BadgerStore{store: store}, nil
}

// Create implements Store.
func (s *BadgerStore) Create(_ context.Context, m *Mission) error {
	if m == nil {
		return fmt.Errorf("mission cannot be nil")
	}
	rec, err := toBadger(m)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.Insert(rec.ID, rec); err != nil {
		if errors.Is(err, badgerhold.ErrKeyExists) {
			return fmt.Errorf("%w: %s", ErrMissionExists, m.ID)
		}
		return types.WrapError(types.STORE_WRITE_FAILED, "failed to insert mission", err)
	}
	return nil
}

// Get implements Store.
func (s *BadgerStore) Get(_ context.Context, id types.ID) (*Mission, error) {
	var rec badgerMission
	if err := s.store.Get(id.String(), &rec); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, types.WrapError(types.STORE_QUERY_FAILED, "failed to load mission", err)
	}
	return fromBadger(&rec)
}

// Put implements Store.
func (s *BadgerStore) Put(ctx context.Context, id types.ID, status Status, delta Delta) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := m.Apply(status, delta, time.Now().UTC()); err != nil {
		return err
	}
	rec, err := toBadger(m)
	if err != nil {
		return err
	}
	if err := s.store.Update(rec.ID, rec); err != nil {
		return types.WrapError(types.STORE_WRITE_FAILED, "failed to update mission", err)
	}
	return nil
}

// List implements Store.
func (s *BadgerStore) List(_ context.Context, filter Filter) ([]*Mission, error) {
	query := badgerhold.Where("ID").Ne("")
	if filter.Status != "" {
		query = query.And("Status").Eq(string(filter.Status))
	}
	query = query.SortBy("CreatedAt").Reverse()
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var recs []badgerMission
	if err := s.store.Find(&recs, query); err != nil {
		return nil, types.WrapError(types.STORE_QUERY_FAILED, "failed to list missions", err)
	}

	out := make([]*Mission, 0, len(recs))
	for i := range recs {
		m, err := fromBadger(&recs[i])
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// Close implements Store.
func (s *BadgerStore) Close() error {
	return s.store.Close()
}

func toBadger(m *Mission) (*badgerMission, error) {
	contextJSON, err := json.Marshal(m.Context)
	if err != nil {
		return nil, types.WrapError(types.STORE_WRITE_FAILED, "failed to encode mission context", err)
	}
	return &badgerMission{
		ID:            m.ID.String(),
		ScanType:      m.ScanType,
		Status:        string(m.Status),
		Context:       contextJSON,
		Error:         m.Error,
		FindingsCount: m.FindingsCount,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
		CompletedAt:   m.CompletedAt,
	}, nil
}

func fromBadger(rec *badgerMission) (*Mission, error) {
	var raw map[string]any
	if len(rec.Context) > 0 {
		if err := json.Unmarshal(rec.Context, &raw); err != nil {
			return nil, types.WrapError(types.STORE_QUERY_FAILED, "failed to decode mission context", err)
		}
	}
	return &Mission{
		ID:            types.ID(rec.ID),
		ScanType:      rec.ScanType,
		Status:        Status(rec.Status),
		Context:       workflow.NewDocument(raw),
		Error:         rec.Error,
		FindingsCount: rec.FindingsCount,
		CreatedAt:     rec.CreatedAt,
		UpdatedAt:     rec.UpdatedAt,
		CompletedAt:   rec.CompletedAt,
	}, nil
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*BadgerStore)(nil)
)
