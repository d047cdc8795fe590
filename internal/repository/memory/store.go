// Package memory keeps the whole rental dataset in process memory. It backs unit tests and the
// "memory" database driver. Transactions are serialized and roll back by restoring a snapshot.
package memory

import (
	"context"
	"maps"
	"slices"
	"sync"

	"equiprent-backend/internal/domain"
	"equiprent-backend/internal/repository"
)

type dataset struct {
	equipment  map[int32]domain.Equipment
	categories map[int32]domain.Category
	units      map[int32]domain.Unit
	projects   map[int32]domain.Project
	lineItems  map[int32]domain.LineItem
	history    []domain.StatusHistoryEntry
	scanLogs   []domain.ScanLog
	sequences  map[string]int64
	invoices   map[string]domain.Invoice
	activities []domain.Activity
	apiKeys    map[int32]domain.APIKey
	lastID     int32
}

func newDataset() *dataset {
	return &dataset{
		equipment:  map[int32]domain.Equipment{},
		categories: map[int32]domain.Category{},
		units:      map[int32]domain.Unit{},
		projects:   map[int32]domain.Project{},
		lineItems:  map[int32]domain.LineItem{},
		sequences:  map[string]int64{},
		invoices:   map[string]domain.Invoice{},
		apiKeys:    map[int32]domain.APIKey{},
	}
}

// snapshot copies the containers. Stored values never share slices with callers, so a
// shallow copy of each map is enough to restore state.
func (d *dataset) snapshot() *dataset {
	return &dataset{
		equipment:  maps.Clone(d.equipment),
		categories: maps.Clone(d.categories),
		units:      maps.Clone(d.units),
		projects:   maps.Clone(d.projects),
		lineItems:  maps.Clone(d.lineItems),
		history:    slices.Clone(d.history),
		scanLogs:   slices.Clone(d.scanLogs),
		sequences:  maps.Clone(d.sequences),
		invoices:   maps.Clone(d.invoices),
		activities: slices.Clone(d.activities),
		apiKeys:    maps.Clone(d.apiKeys),
		lastID:     d.lastID,
	}
}

func (d *dataset) nextID() int32 {
	d.lastID++
	return d.lastID
}

type Store struct {
	mu   sync.Mutex
	data *dataset
}

func NewStore() *Store {
	return &Store{data: newDataset()}
}

// session binds repositories to the store. Inside a transaction the store lock is already held.
type session struct {
	store *Store
	inTx  bool
}

func (s *session) do(fn func(d *dataset) error) error {
	if !s.inTx {
		s.store.mu.Lock()
		defer s.store.mu.Unlock()
	}
	return fn(s.store.data)
}

func (s *Store) repos(inTx bool) repository.Repositories {
	sess := &session{store: s, inTx: inTx}
	return repository.Repositories{
		Equipment:  &equipmentRepo{sess},
		Categories: &categoryRepo{sess},
		Units:      &unitRepo{sess},
		Projects:   &projectRepo{sess},
		LineItems:  &lineItemRepo{sess},
		History:    &historyRepo{sess},
		ScanLogs:   &scanLogRepo{sess},
		Sequences:  &sequenceRepo{sess},
		Invoices:   &invoiceRepo{sess},
		Activities: &activityRepo{sess},
		APIKeys:    &apiKeyRepo{sess},
	}
}

func (s *Store) Repos() repository.Repositories {
	return s.repos(false)
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, r repository.Repositories) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	saved := s.data.snapshot()
	err := fn(ctx, s.repos(true))
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		s.data = saved
	}
	return err
}
