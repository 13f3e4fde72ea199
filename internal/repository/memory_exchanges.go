package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"dialysis-ledger/internal/domain"

	"github.com/google/uuid"
)

// MemoryExchangeStore in-process record store for tests and local runs.
// It derives uf exactly like the generated columns in db/001_init.sql.
type MemoryExchangeStore struct {
	mu  sync.RWMutex
	pd  map[string]domain.PDExchange
	hd  map[string]domain.HDExchange
	now func() time.Time
}

func NewMemoryExchangeStore() *MemoryExchangeStore {
	return &MemoryExchangeStore{
		pd:  make(map[string]domain.PDExchange),
		hd:  make(map[string]domain.HDExchange),
		now: time.Now,
	}
}

var _ ExchangeStore = (*MemoryExchangeStore)(nil)

func pdUF(e *domain.PDExchange) {
	e.UF = nil
	if e.DrainVolume != nil {
		e.UF = domain.Float64(*e.DrainVolume - e.FillVolume)
	}
}

func inRange(ts domain.CivilTime, opts ListOptions) bool {
	if opts.From != nil && ts.Before(*opts.From) {
		return false
	}
	if opts.To != nil && ts.After(*opts.To) {
		return false
	}
	return true
}

func sortByTimestamp[T any](items []T, ts func(T) domain.CivilTime, created func(T) time.Time, asc bool) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := ts(items[i]), ts(items[j])
		if a.Equal(b) {
			if asc {
				return created(items[i]).Before(created(items[j]))
			}
			return created(items[i]).After(created(items[j]))
		}
		if asc {
			return a.Before(b)
		}
		return a.After(b)
	})
}

func (m *MemoryExchangeStore) ListPDExchanges(_ context.Context, patientID string, opts ListOptions) ([]domain.PDExchange, error) {
	if patientID == "" {
		return nil, fmt.Errorf("patient_id is required")
	}
	m.mu.RLock()
	out := []domain.PDExchange{}
	for _, e := range m.pd {
		if e.PatientID == patientID && inRange(e.Timestamp, opts) {
			out = append(out, e)
		}
	}
	m.mu.RUnlock()

	sortByTimestamp(out,
		func(e domain.PDExchange) domain.CivilTime { return e.Timestamp },
		func(e domain.PDExchange) time.Time { return e.CreatedAt },
		opts.Ascending)
	return out, nil
}

func (m *MemoryExchangeStore) InsertPDExchange(_ context.Context, e *domain.PDExchange) (*domain.PDExchange, error) {
	if e == nil || e.PatientID == "" {
		return nil, fmt.Errorf("patient_id is required")
	}
	stored := *e
	stored.ID = uuid.NewString()
	stored.CreatedAt = m.now().UTC()
	pdUF(&stored)

	m.mu.Lock()
	m.pd[stored.ID] = stored
	m.mu.Unlock()
	return &stored, nil
}

func (m *MemoryExchangeStore) UpdatePDExchange(_ context.Context, patientID, id string, edit domain.PDEdit) (*domain.PDExchange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.pd[id]
	if !ok || e.PatientID != patientID {
		return nil, ErrNotFound
	}
	e.FillVolume = edit.FillVolume
	e.DrainVolume = edit.DrainVolume
	e.Weight = edit.Weight
	e.BaxterStrength = edit.BaxterStrength
	e.Notes = edit.Notes
	pdUF(&e)
	m.pd[id] = e
	return &e, nil
}

func (m *MemoryExchangeStore) DeletePDExchange(_ context.Context, patientID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.pd[id]
	if !ok || e.PatientID != patientID {
		return ErrNotFound
	}
	delete(m.pd, id)
	return nil
}

func (m *MemoryExchangeStore) ListHDExchanges(_ context.Context, patientID string, opts ListOptions) ([]domain.HDExchange, error) {
	if patientID == "" {
		return nil, fmt.Errorf("patient_id is required")
	}
	m.mu.RLock()
	out := []domain.HDExchange{}
	for _, e := range m.hd {
		if e.PatientID == patientID && inRange(e.Timestamp, opts) {
			out = append(out, e)
		}
	}
	m.mu.RUnlock()

	sortByTimestamp(out,
		func(e domain.HDExchange) domain.CivilTime { return e.Timestamp },
		func(e domain.HDExchange) time.Time { return e.CreatedAt },
		opts.Ascending)
	return out, nil
}

func (m *MemoryExchangeStore) InsertHDExchange(_ context.Context, e *domain.HDExchange) (*domain.HDExchange, error) {
	if e == nil || e.PatientID == "" {
		return nil, fmt.Errorf("patient_id is required")
	}
	stored := *e
	stored.ID = uuid.NewString()
	stored.CreatedAt = m.now().UTC()
	stored.UF = domain.Float64(stored.PreWeight - stored.PostWeight)

	m.mu.Lock()
	m.hd[stored.ID] = stored
	m.mu.Unlock()
	return &stored, nil
}

func (m *MemoryExchangeStore) DeleteHDExchange(_ context.Context, patientID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.hd[id]
	if !ok || e.PatientID != patientID {
		return ErrNotFound
	}
	delete(m.hd, id)
	return nil
}
