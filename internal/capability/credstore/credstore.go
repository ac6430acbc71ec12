// Package credstore encapsulates the WebOS pairing-credential JSON file
// as an atomic read-modify-write store guarded by a file lock, replacing
// original_source's pattern (devices/tv.py register_client) of opening
// the file read-write and mutating it in place mid-handshake. This
// removes the window where a crash mid-write could corrupt the
// credential file.
package credstore

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// Store is a JSON object keyed by device host, holding the pairing
// payload each WebOS TV's registration handshake needs to persist.
type Store struct {
	path string
	lock *flock.Flock
}

// Open prepares a Store backed by the file at path, creating an empty
// JSON object there if it does not yet exist.
func Open(path string) (*Store, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
		if err := os.WriteFile(path, []byte("{}"), 0o600); err != nil {
			return nil, err
		}
	}
	return &Store{path: path, lock: flock.New(path + ".lock")}, nil
}

// Get returns the raw pairing payload for host, or nil if absent.
func (s *Store) Get(host string) (json.RawMessage, error) {
	if err := s.lock.Lock(); err != nil {
		return nil, err
	}
	defer s.lock.Unlock()

	all, err := s.readLocked()
	if err != nil {
		return nil, err
	}
	return all[host], nil
}

// Update atomically loads the store, applies mutate to host's current
// payload (nil if absent), and writes the result back if mutate returns
// a non-nil payload.
func (s *Store) Update(host string, mutate func(current json.RawMessage) (json.RawMessage, error)) error {
	if err := s.lock.Lock(); err != nil {
		return err
	}
	defer s.lock.Unlock()

	all, err := s.readLocked()
	if err != nil {
		return err
	}

	next, err := mutate(all[host])
	if err != nil {
		return err
	}
	if next == nil {
		return nil
	}
	all[host] = next

	return s.writeLocked(all)
}

func (s *Store) readLocked() (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}
	all := map[string]json.RawMessage{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &all); err != nil {
			return nil, err
		}
	}
	return all, nil
}

func (s *Store) writeLocked(all map[string]json.RawMessage) error {
	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
