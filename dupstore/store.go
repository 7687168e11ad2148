// Package dupstore implements the persisted duplicate-detection index.
// Records are keyed by content hash plus base file name, so the same bytes
// under the same name transferred to or from the same peer can be flagged
// before a redundant re-send. The index is advisory: persistence failures
// are swallowed and never affect transfer correctness.
package dupstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// MaxRecordsPerKey caps the record list kept under a single key. Inserting
// beyond the cap evicts the oldest entries first.
const MaxRecordsPerKey = 1000

// Record is one logged transfer of a file hash to or from a peer.
// The JSON field names are format-significant: the index file on disk maps
// "hash_basename" keys to lists of these objects.
type Record struct {
	Path      string    `json:"path"`
	Hash      string    `json:"hash"`
	Peer      string    `json:"peer"`
	Timestamp time.Time `json:"timestamp"`
}

// Store is a mutex-serialized duplicate index persisted to a JSON file.
// It may be shared by multiple concurrent transfer sessions.
type Store struct {
	mu      sync.Mutex
	path    string
	records map[string][]Record
	now     func() time.Time
}

// Open loads the index at path, creating an empty store when the file does
// not exist. A corrupt index file is discarded and replaced on the next
// mutation; duplicate tracking is advisory and must never block startup.
func Open(path string) (*Store, error) {
	s := &Store{
		path:    path,
		records: make(map[string][]Record),
		now:     time.Now,
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read duplicate index: %w", err)
	}

	if err := json.Unmarshal(data, &s.records); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Open",
			"path":     path,
			"error":    err.Error(),
		}).Warn("Duplicate index is corrupt, starting fresh")
		s.records = make(map[string][]Record)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Open",
		"path":     path,
		"keys":     len(s.records),
	}).Debug("Duplicate index loaded")

	return s, nil
}

// key derives the index key for a path and content hash.
func key(path, hash string) string {
	return hash + "_" + filepath.Base(path)
}

// RecordTransfer appends a record for the given file and peer, truncating
// the key's list to the most recent MaxRecordsPerKey entries, then persists
// the full index to disk best-effort.
func (s *Store) RecordTransfer(path, hash, peer string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(path, hash)
	s.records[k] = append(s.records[k], Record{
		Path:      path,
		Hash:      hash,
		Peer:      peer,
		Timestamp: s.now(),
	})
	if n := len(s.records[k]); n > MaxRecordsPerKey {
		s.records[k] = append([]Record(nil), s.records[k][n-MaxRecordsPerKey:]...)
	}

	s.persistLocked()
}

// IsDuplicate reports whether an existing record under the same key carries
// an identical hash and an identical peer address. On a match the prior
// record is returned.
func (s *Store) IsDuplicate(path, hash, peer string) (bool, *Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.records[key(path, hash)] {
		if r.Hash == hash && r.Peer == peer {
			match := r
			return true, &match
		}
	}
	return false, nil
}

// Lookup returns all records under the key for path and hash, regardless of
// peer, for "you've sent this file before" advisories. The returned slice
// is a copy.
func (s *Store) Lookup(path, hash string) []Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	found := s.records[key(path, hash)]
	if len(found) == 0 {
		return nil
	}
	return append([]Record(nil), found...)
}

// Clear wipes all records and persists the empty index.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = make(map[string][]Record)
	s.persistLocked()

	logrus.WithFields(logrus.Fields{
		"function": "Clear",
		"path":     s.path,
	}).Info("Duplicate index cleared")
}

// Keys returns a sorted snapshot of all index keys. Useful for collaborator
// views over the duplicate database.
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.records))
	for k := range s.records {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// persistLocked writes the index to disk. Failures are logged and
// swallowed; the caller must hold s.mu.
func (s *Store) persistLocked() {
	data, err := json.MarshalIndent(s.records, "", "  ")
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "persistLocked",
			"error":    err.Error(),
		}).Warn("Failed to encode duplicate index")
		return
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "persistLocked",
			"path":     s.path,
			"error":    err.Error(),
		}).Warn("Failed to persist duplicate index")
	}
}
