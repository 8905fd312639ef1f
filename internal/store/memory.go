package store

import (
	"context"
	"sort"
	"strconv"
	"sync"

	"github.com/savegress/pamflow/internal/identifier"
)

type identifierKey struct {
	value  string
	idType string
	system string
}

type seriesKey struct {
	idType string
	system string
}

// Memory is an in-process Backend and VenueStore
type Memory struct {
	mu          sync.RWMutex
	identifiers map[identifierKey]struct{}
	maxNumeric  map[seriesKey]int64
	namespaces  map[string]identifier.Namespace
	venues      map[string]string
}

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{
		identifiers: make(map[identifierKey]struct{}),
		maxNumeric:  make(map[seriesKey]int64),
		namespaces:  make(map[string]identifier.Namespace),
		venues:      make(map[string]string),
	}
}

func (m *Memory) Exists(_ context.Context, value, idType, system string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.identifiers[identifierKey{value, idType, system}]
	return ok, nil
}

func (m *Memory) Insert(_ context.Context, value, idType, system string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := identifierKey{value, idType, system}
	if _, ok := m.identifiers[k]; ok {
		return identifier.ErrDuplicate
	}
	m.identifiers[k] = struct{}{}

	if isNumeric(value) {
		n, _ := strconv.ParseInt(value, 10, 64)
		s := seriesKey{idType, system}
		if cur, ok := m.maxNumeric[s]; !ok || n > cur {
			m.maxNumeric[s] = n
		}
	}
	return nil
}

func (m *Memory) Delete(_ context.Context, value, idType, system string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := identifierKey{value, idType, system}
	if _, ok := m.identifiers[k]; !ok {
		return nil
	}
	delete(m.identifiers, k)

	if !isNumeric(value) {
		return nil
	}
	n, _ := strconv.ParseInt(value, 10, 64)
	s := seriesKey{idType, system}
	if m.maxNumeric[s] != n {
		return nil
	}

	// the series maximum was removed; recompute it
	delete(m.maxNumeric, s)
	for other := range m.identifiers {
		if other.idType != idType || other.system != system || !isNumeric(other.value) {
			continue
		}
		v, _ := strconv.ParseInt(other.value, 10, 64)
		if cur, ok := m.maxNumeric[s]; !ok || v > cur {
			m.maxNumeric[s] = v
		}
	}
	return nil
}

func (m *Memory) MaxNumeric(_ context.Context, idType, system string) (int64, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.maxNumeric[seriesKey{idType, system}]
	return n, ok, nil
}

func (m *Memory) Namespace(_ context.Context, idType string) (identifier.Namespace, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ns, ok := m.namespaces[idType]
	return ns, ok, nil
}

func (m *Memory) Namespaces(_ context.Context) ([]identifier.Namespace, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]identifier.Namespace, 0, len(m.namespaces))
	for _, ns := range m.namespaces {
		out = append(out, ns)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out, nil
}

func (m *Memory) PutNamespace(_ context.Context, ns identifier.Namespace) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.namespaces[ns.Type] = ns
	return nil
}

func (m *Memory) DeleteNamespace(_ context.Context, idType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.namespaces[idType]; !ok {
		return ErrNotFound
	}
	delete(m.namespaces, idType)
	return nil
}

func (m *Memory) LastTrigger(_ context.Context, venue string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.venues[venue], nil
}

func (m *Memory) SetLastTrigger(_ context.Context, venue, trigger string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.venues[venue] = trigger
	return nil
}

func (m *Memory) ResetVenue(_ context.Context, venue string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.venues, venue)
	return nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }
