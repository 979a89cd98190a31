package graph

import (
	"context"
	"fmt"
	"sync"

	lcierrors "github.com/Ramsey-B/fern/pkg/errors"
)

// UnresolvedInputError is returned by WriteDatabase when an exchange input
// names an activity that exists neither in the written batch nor in the graph.
type UnresolvedInputError struct {
	Database string
	Activity Key
	Input    Key
}

func (e *UnresolvedInputError) Error() string {
	return fmt.Sprintf("writing database %q: exchange of %s references missing activity %s", e.Database, e.Activity, e.Input)
}

type memoryDatabase struct {
	depends    []string
	activities []Activity
	index      map[string]int
}

func newMemoryDatabase(depends []string, activities []Activity) *memoryDatabase {
	db := &memoryDatabase{
		depends:    append([]string{}, depends...),
		activities: make([]Activity, len(activities)),
		index:      make(map[string]int, len(activities)),
	}
	for i := range activities {
		db.activities[i] = activities[i].Clone()
		db.index[activities[i].Code] = i
	}
	return db
}

// Memory is an in-process graph. Databases keep their activities in insertion
// order and exchanges point at inputs by Key, so cycles need no special care.
type Memory struct {
	mu        sync.RWMutex
	order     []string
	databases map[string]*memoryDatabase
}

var _ Graph = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{databases: map[string]*memoryDatabase{}}
}

func (m *Memory) Databases(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string{}, m.order...), nil
}

func (m *Memory) DatabaseDependencies(_ context.Context, name string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	db, ok := m.databases[name]
	if !ok {
		return nil, &lcierrors.NotFoundError{Entity: "database", Key: name}
	}
	return append([]string{}, db.depends...), nil
}

func (m *Memory) HasDatabase(_ context.Context, name string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.databases[name]
	return ok, nil
}

// Activities returns copies of the activities of database, empty when the
// database does not exist.
func (m *Memory) Activities(_ context.Context, database string) ([]Activity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	db, ok := m.databases[database]
	if !ok {
		return []Activity{}, nil
	}
	out := make([]Activity, len(db.activities))
	for i := range db.activities {
		out[i] = db.activities[i].Clone()
	}
	return out, nil
}

func (m *Memory) Activity(_ context.Context, key Key) (*Activity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	db, ok := m.databases[key.Database]
	if !ok {
		return nil, nil
	}
	i, ok := db.index[key.Code]
	if !ok {
		return nil, nil
	}
	activity := db.activities[i].Clone()
	return &activity, nil
}

// WriteDatabase creates database name with activities. Activities and their
// exchanges are re-keyed onto name. Nothing is written when name already
// exists or an exchange input does not resolve.
func (m *Memory) WriteDatabase(_ context.Context, name string, depends []string, activities []Activity) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.databases[name]; ok {
		return &lcierrors.DatabaseExistsError{Name: name}
	}

	batch := make([]Activity, len(activities))
	codes := make(map[string]struct{}, len(activities))
	for i := range activities {
		activity := activities[i].Clone()
		activity.Database = name
		if _, dup := codes[activity.Code]; dup {
			return fmt.Errorf("writing database %q: duplicate activity code %q", name, activity.Code)
		}
		codes[activity.Code] = struct{}{}
		for j := range activity.Exchanges {
			activity.Exchanges[j].Output = activity.Key()
		}
		batch[i] = activity
	}

	for i := range batch {
		for _, exchange := range batch[i].Exchanges {
			if exchange.Input.Database == name {
				if _, ok := codes[exchange.Input.Code]; ok {
					continue
				}
			} else if m.hasActivity(exchange.Input) {
				continue
			}
			return &UnresolvedInputError{Database: name, Activity: batch[i].Key(), Input: exchange.Input}
		}
	}

	m.put(name, depends, batch)
	return nil
}

func (m *Memory) hasActivity(key Key) bool {
	db, ok := m.databases[key.Database]
	if !ok {
		return false
	}
	_, ok = db.index[key.Code]
	return ok
}

func (m *Memory) put(name string, depends []string, activities []Activity) {
	if _, ok := m.databases[name]; !ok {
		m.order = append(m.order, name)
	}
	m.databases[name] = newMemoryDatabase(depends, activities)
}

// Clone returns an independent deep copy of m.
func (m *Memory) Clone() *Memory {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := NewMemory()
	for _, name := range m.order {
		db := m.databases[name]
		out.put(name, db.depends, db.activities)
	}
	return out
}

// Snapshot copies every database of src into a new Memory without validating
// inputs, so dangling references in src are preserved as they are.
func Snapshot(ctx context.Context, src Source) (*Memory, error) {
	names, err := src.Databases(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list source databases: %w", err)
	}

	out := NewMemory()
	for _, name := range names {
		depends, err := src.DatabaseDependencies(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("failed to read dependencies of %s: %w", name, err)
		}
		activities, err := src.Activities(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("failed to read activities of %s: %w", name, err)
		}
		out.put(name, depends, activities)
	}
	return out, nil
}
