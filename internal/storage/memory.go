package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var errNodeDown = errors.New("node unavailable")

// MemoryStore is an in-memory ContentStore for tests. Content identifiers
// derive from the bytes, so putting identical content twice yields the same
// cid. Failure injection: Unavailable fails every call until cleared, while
// FailPuts and FailPins fail the next N calls of the matching method. Toggle
// the failure fields only between calls.
type MemoryStore struct {
	mu       sync.Mutex
	objects  map[string][]byte
	pinned   map[string]bool
	putCalls int
	pinCalls int

	FailPuts    int
	FailPins    int
	Unavailable bool
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		objects: make(map[string][]byte),
		pinned:  make(map[string]bool),
	}
}

// Put stores data under a deterministic content identifier.
func (s *MemoryStore) Put(ctx context.Context, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putCalls++
	if s.Unavailable {
		return "", errNodeDown
	}
	if s.FailPuts > 0 {
		s.FailPuts--
		return "", errors.New("injected put failure")
	}
	cid := "mem-" + HashArtifact(data)
	s.objects[cid] = append([]byte(nil), data...)
	return cid, nil
}

// Pin marks previously stored content as pinned.
func (s *MemoryStore) Pin(ctx context.Context, cid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pinCalls++
	if s.Unavailable {
		return errNodeDown
	}
	if s.FailPins > 0 {
		s.FailPins--
		return errors.New("injected pin failure")
	}
	if _, ok := s.objects[cid]; !ok {
		return fmt.Errorf("unknown cid %s", cid)
	}
	s.pinned[cid] = true
	return nil
}

// Get returns a copy of the stored content.
func (s *MemoryStore) Get(ctx context.Context, cid string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Unavailable {
		return nil, errNodeDown
	}
	data, ok := s.objects[cid]
	if !ok {
		return nil, fmt.Errorf("unknown cid %s", cid)
	}
	return append([]byte(nil), data...), nil
}

// Status reports the store as healthy unless Unavailable is set.
func (s *MemoryStore) Status(ctx context.Context) (*NodeStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Unavailable {
		return &NodeStatus{Available: false, Error: errNodeDown.Error()}, nil
	}
	return &NodeStatus{Available: true, PeerID: "memory", Version: "memorystore/1"}, nil
}

// PutCalls returns how many times Put was invoked, failures included.
func (s *MemoryStore) PutCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putCalls
}

// PinCalls returns how many times Pin was invoked, failures included.
func (s *MemoryStore) PinCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pinCalls
}

// PinnedCount returns the number of distinct pinned identifiers.
func (s *MemoryStore) PinnedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pinned)
}

// IsPinned reports whether a cid is pinned.
func (s *MemoryStore) IsPinned(cid string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pinned[cid]
}

// ObjectCount returns the number of distinct stored objects.
func (s *MemoryStore) ObjectCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}
