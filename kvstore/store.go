// Package kvstore implements the replicated state machine that the
// raft package applies committed log entries against: an in-memory
// string-to-string map driven by a small command grammar ("SET k v",
// "GET k", and the term-boundary "NO-OP").
package kvstore

import (
	"strings"
	"sync"

	"github.com/ardalan-k/raftkv/raft"
)

// Result is returned by Apply for both GET and SET commands so the
// client surface can translate it into the wire reply codes without
// re-parsing the command string.
type Result struct {
	// Found reports whether a GET found the key, or whether a SET was
	// applied (always true for SET).
	Found bool

	// Value is the key's value for a successful GET, or the value just
	// written for a SET. Empty for a GET miss.
	Value string
}

// Store is a concurrency-safe in-memory key-value map. It has no
// write-ahead log of its own: durability comes from the raft log this
// store's Apply is driven from, so duplicating that here would only
// add a second, redundant source of truth.
type Store struct {
	mu   sync.RWMutex
	data map[string]string
}

// New returns an empty Store.
func New() *Store {
	return &Store{data: make(map[string]string)}
}

// Apply implements raft.StateMachine. It is called once per committed
// operation entry (in log order, with the Raft node's mutex held; NO-OP
// entries are not passed in) plus directly for lease-backed reads, so it
// must not block.
func (s *Store) Apply(operation *raft.Operation) interface{} {
	command := string(operation.Bytes)
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return Result{}
	}

	switch fields[0] {
	case "NO-OP":
		return nil

	case "GET":
		if len(fields) < 2 {
			return Result{}
		}
		s.mu.RLock()
		value, ok := s.data[fields[1]]
		s.mu.RUnlock()
		return Result{Found: ok, Value: value}

	case "SET":
		if len(fields) < 3 {
			return Result{}
		}
		key := fields[1]
		value := strings.Join(fields[2:], " ")
		s.mu.Lock()
		s.data[key] = value
		s.mu.Unlock()
		return Result{Found: true, Value: value}

	default:
		return Result{}
	}
}

// Get is a direct, non-Raft-routed accessor for tests that want to
// inspect state without going through Apply.
func (s *Store) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.data[key]
	return value, ok
}

// Len reports how many keys are currently stored.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
