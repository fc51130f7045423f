package kv

import (
	"context"
	"path"
	"sync"
	"time"
)

// Memory is an in-memory Store implementation. It is safe for concurrent
// use and intended primarily for testing. TTLs are honored lazily on read.
type Memory struct {
	mu      sync.RWMutex
	strings map[string]memVal
	lists   map[string][]string
	hashes  map[string]map[string]string
	expiry  map[string]time.Time

	now func() time.Time
}

type memVal struct {
	value string
}

var _ Store = (*Memory)(nil)

// NewMemory creates a new in-memory Store.
func NewMemory() *Memory {
	return &Memory{
		strings: make(map[string]memVal),
		lists:   make(map[string][]string),
		hashes:  make(map[string]map[string]string),
		expiry:  make(map[string]time.Time),
		now:     time.Now,
	}
}

// expired reports whether key has a passed deadline; caller holds the lock.
func (m *Memory) expired(key string) bool {
	dl, ok := m.expiry[key]
	return ok && m.now().After(dl)
}

func (m *Memory) purge(key string) {
	delete(m.strings, key)
	delete(m.lists, key)
	delete(m.hashes, key)
	delete(m.expiry, key)
}

func (m *Memory) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.expired(key) {
		m.purge(key)
	}
	v, ok := m.strings[key]
	if !ok {
		return "", ErrNotFound
	}
	return v.value, nil
}

func (m *Memory) SetEx(_ context.Context, key string, ttl time.Duration, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.strings[key] = memVal{value: value}
	if ttl > 0 {
		m.expiry[key] = m.now().Add(ttl)
	} else {
		delete(m.expiry, key)
	}
	return nil
}

func (m *Memory) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		m.purge(k)
	}
	return nil
}

func (m *Memory) LPush(_ context.Context, key string, values ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.expired(key) {
		m.purge(key)
	}
	list := m.lists[key]
	for _, v := range values {
		list = append([]string{v}, list...)
	}
	m.lists[key] = list
	return nil
}

func (m *Memory) LTrim(_ context.Context, key string, n int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list, ok := m.lists[key]
	if !ok {
		return nil
	}
	if int64(len(list)) > n {
		m.lists[key] = list[:n]
	}
	return nil
}

func (m *Memory) LRange(_ context.Context, key string, n int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.expired(key) {
		m.purge(key)
		return nil, nil
	}
	list := m.lists[key]
	if int64(len(list)) > n {
		list = list[:n]
	}
	out := make([]string, len(list))
	copy(out, list)
	return out, nil
}

func (m *Memory) Expire(_ context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, s := m.strings[key]
	_, l := m.lists[key]
	_, h := m.hashes[key]
	if s || l || h {
		m.expiry[key] = m.now().Add(ttl)
	}
	return nil
}

func (m *Memory) HSet(_ context.Context, key string, fields map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.expired(key) {
		m.purge(key)
	}
	h := m.hashes[key]
	if h == nil {
		h = make(map[string]string, len(fields))
		m.hashes[key] = h
	}
	for k, v := range fields {
		h[k] = v
	}
	return nil
}

func (m *Memory) HGetAll(_ context.Context, key string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.expired(key) {
		m.purge(key)
	}
	out := make(map[string]string, len(m.hashes[key]))
	for k, v := range m.hashes[key] {
		out[k] = v
	}
	return out, nil
}

func (m *Memory) Keys(_ context.Context, pattern string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]struct{})
	for k := range m.strings {
		seen[k] = struct{}{}
	}
	for k := range m.lists {
		seen[k] = struct{}{}
	}
	for k := range m.hashes {
		seen[k] = struct{}{}
	}
	var out []string
	for k := range seen {
		if m.expired(k) {
			continue
		}
		ok, err := path.Match(pattern, k)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, k)
		}
	}
	return out, nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }
