// Package state implements the State Store (spec §6.5, C10): a per-thread
// snapshot of Run state written at suspension boundaries (disambiguation
// awaiting reply, or persisted before a cooperative cancel) and resumed on
// the next process_user_message for the same thread_id.
//
// The entry shape and per-thread write serialization are grounded on the
// Store pattern this repo already uses for the read-shared Schema and
// Column-Value stores (internal/schema/store.go, internal/columnvalue),
// generalized here to a mutable, per-key-locked store since State Store
// entries are written, not just read.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// CurrentVersion is bumped whenever Envelope's shape changes in a way that
// is not forward-compatible. Thread resumption versioning (SPEC_FULL
// SUPPLEMENTED FEATURES): a version mismatch on Load triggers a fresh Run
// rather than a mis-route into state the new code can't interpret.
const CurrentVersion = 1

// ErrVersionMismatch signals that a persisted entry carries a version other
// than CurrentVersion and must not be resumed.
var ErrVersionMismatch = errors.New("state: persisted envelope version mismatch")

// ErrNotFound signals no entry exists for the given thread_id.
var ErrNotFound = errors.New("state: no entry for thread")

// Envelope is one State Store entry (spec §6.5). SerializedAgentThreads and
// Decomposition are opaque to callers — spec §6.5: "Format is opaque to
// callers but must round-trip through serialize/deserialize with no
// semantic change" — so they're carried as raw JSON rather than typed
// structs the state package would otherwise need to know the shape of.
type Envelope struct {
	Version                int             `json:"version"`
	ThreadID               string          `json:"thread_id"`
	SerializedAgentThreads json.RawMessage `json:"serialized_agent_threads"`
	Decomposition          json.RawMessage `json:"decomposition"`
	CurrentRound           int             `json:"current_round"`
	CurrentAgent           string          `json:"current_agent"`
	CreatedAt              time.Time       `json:"created_at"`
	UpdatedAt              time.Time       `json:"updated_at"`
}

// Marshal serializes the envelope, stamping CurrentVersion.
func Marshal(env *Envelope) ([]byte, error) {
	env.Version = CurrentVersion
	b, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("state: failed to marshal envelope: %w", err)
	}
	return b, nil
}

// Unmarshal deserializes an envelope and rejects one stamped with a
// different version.
func Unmarshal(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("state: failed to unmarshal envelope: %w", err)
	}
	if env.Version != CurrentVersion {
		return nil, ErrVersionMismatch
	}
	return &env, nil
}

// Store is the in-process State Store. Writes for a given thread_id are
// serialized (spec §5 Shared-resource policy: "State Store writes are
// per-thread and serialized by thread_id"); writes for distinct threads
// proceed independently.
type Store struct {
	mu      sync.RWMutex
	entries map[string][]byte
	locks   map[string]*sync.Mutex
}

// NewStore creates an empty State Store.
func NewStore() *Store {
	return &Store{
		entries: make(map[string][]byte),
		locks:   make(map[string]*sync.Mutex),
	}
}

func (s *Store) lockFor(threadID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[threadID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[threadID] = l
	}
	return l
}

// Save persists env under env.ThreadID, serializing concurrent writers for
// the same thread.
func (s *Store) Save(env *Envelope) error {
	if env.ThreadID == "" {
		return errors.New("state: thread_id is required")
	}
	threadLock := s.lockFor(env.ThreadID)
	threadLock.Lock()
	defer threadLock.Unlock()

	now := env.UpdatedAt
	if now.IsZero() {
		now = env.CreatedAt
	}
	env.UpdatedAt = now

	data, err := Marshal(env)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.entries[env.ThreadID] = data
	s.mu.Unlock()
	return nil
}

// Load retrieves and deserializes the entry for threadID. It returns
// ErrNotFound if absent and ErrVersionMismatch if the stored entry carries a
// version other than CurrentVersion — callers should treat both as "start a
// fresh Run".
func (s *Store) Load(threadID string) (*Envelope, error) {
	s.mu.RLock()
	data, ok := s.entries[threadID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return Unmarshal(data)
}

// Clear removes the persisted entry for threadID (spec §4.1 step 5: "Clear
// the thread from the State Store").
func (s *Store) Clear(threadID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, threadID)
	delete(s.locks, threadID)
}
