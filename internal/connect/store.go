// Package connect persists which site domains are allowed to act through the
// wallet. The store is the authoritative gate for connection-gated RPC methods.
package connect

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Entry is one approved connection. ConnectedAt refreshes on reconnect.
type Entry struct {
	Address     string    `json:"address,omitempty"`
	ConnectedAt time.Time `json:"connectedAt"`
}

// On-disk representation
type connectionsFile struct {
	Connections map[string]Entry `json:"connections"`
	Updated     string           `json:"updated,omitempty"`
}

// Store is a JSON-file-backed domain -> Entry map. Mutations rewrite the whole
// file; record-level atomicity comes from the single rename underneath.
type Store struct {
	mu          sync.RWMutex
	path        string
	connections map[string]Entry
	now         func() time.Time
}

// NewStore creates a store backed by a JSON file.
func NewStore(path string) *Store {
	return &Store{
		path:        path,
		connections: make(map[string]Entry),
		now:         time.Now,
	}
}

// Load reads the connection map from disk. Missing file = no connections yet.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read connections file: %w", err)
	}

	var cf connectionsFile
	if err := json.Unmarshal(b, &cf); err != nil {
		return fmt.Errorf("parse connections file: %w", err)
	}
	if cf.Connections == nil {
		cf.Connections = make(map[string]Entry)
	}
	s.connections = cf.Connections
	return nil
}

func (s *Store) save() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("mkdir connections dir: %w", err)
	}

	cf := connectionsFile{
		Connections: s.connections,
		Updated:     s.now().UTC().Format(time.RFC3339),
	}
	b, err := json.MarshalIndent(cf, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal connections: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return fmt.Errorf("write connections file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace connections file: %w", err)
	}
	return nil
}

// IsConnected checks whether a domain has an approved connection.
func (s *Store) IsConnected(domain string) bool {
	domain = NormalizeDomain(domain)
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.connections[domain]
	return ok
}

// Get returns the entry for a domain, if present.
func (s *Store) Get(domain string) (Entry, bool) {
	domain = NormalizeDomain(domain)
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.connections[domain]
	return e, ok
}

// Upsert records an approved connection. Reconnecting an existing domain
// refreshes ConnectedAt without duplicating the entry; an empty address keeps
// the previously stored one.
func (s *Store) Upsert(domain, address string) error {
	domain = NormalizeDomain(domain)
	if domain == "" {
		return fmt.Errorf("empty domain")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.connections[domain]
	if address != "" {
		e.Address = address
	}
	e.ConnectedAt = s.now()
	s.connections[domain] = e

	return s.save()
}

// Remove deletes a domain's connection. A no-op when the domain is absent.
func (s *Store) Remove(domain string) error {
	domain = NormalizeDomain(domain)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.connections[domain]; !ok {
		return nil
	}
	delete(s.connections, domain)
	return s.save()
}

// ClearAll removes every connection. Only an explicit wallet-clear calls this;
// normal disconnect goes through Remove.
func (s *Store) ClearAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.connections = make(map[string]Entry)
	return s.save()
}

// List returns the connected domains in stable order (safe for JSON responses).
func (s *Store) List() map[string]Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]Entry, len(s.connections))
	for k, v := range s.connections {
		out[k] = v
	}
	return out
}

// Domains returns the connected domains sorted alphabetically.
func (s *Store) Domains() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.connections))
	for k := range s.connections {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
