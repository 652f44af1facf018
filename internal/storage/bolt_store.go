package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.etcd.io/bbolt"

	"feedload/internal/report"
)

const (
	BucketRuns = "runs"

	// MaxRuns is how many run summaries are kept; older ones are pruned on Save.
	MaxRuns = 100
)

var (
	ErrNotFound  = errors.New("run not found")
	ErrAmbiguous = errors.New("run id prefix is ambiguous")
)

// Store keeps run summaries in a bbolt file, keyed by start time so that
// cursor order is chronological.
type Store struct {
	db       *bbolt.DB
	filePath string
}

// DefaultPath is ~/.feedload/history.db.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".feedload", "history.db"), nil
}

func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open history %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(BucketRuns))
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{
		db:       db,
		filePath: path,
	}, nil
}

func (s *Store) Path() string {
	return s.filePath
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func key(a report.Artifact) []byte {
	return []byte(fmt.Sprintf("%020d-%s", a.Started.UnixNano(), a.RunID))
}

// Save stores a and prunes the oldest runs beyond MaxRuns.
func (s *Store) Save(a report.Artifact) error {
	data, err := json.Marshal(a)
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(BucketRuns))
		if err := b.Put(key(a), data); err != nil {
			return err
		}

		var stale [][]byte
		n := 0
		c := b.Cursor()
		for k, _ := c.Last(); k != nil; k, _ = c.Prev() {
			if n++; n > MaxRuns {
				stale = append(stale, append([]byte(nil), k...))
			}
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// List returns stored runs, newest first. Entries that fail to decode are skipped.
func (s *Store) List() ([]report.Artifact, error) {
	var items []report.Artifact

	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(BucketRuns)).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var a report.Artifact
			if err := json.Unmarshal(v, &a); err == nil {
				items = append(items, a)
			}
		}
		return nil
	})
	return items, err
}

// Get finds a run by its id or a unique id prefix.
func (s *Store) Get(id string) (*report.Artifact, error) {
	if id == "" {
		return nil, ErrNotFound
	}

	var found *report.Artifact
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(BucketRuns)).ForEach(func(k, v []byte) error {
			_, runID, _ := strings.Cut(string(k), "-")
			if !strings.HasPrefix(runID, id) {
				return nil
			}
			if found != nil && runID != id {
				return ErrAmbiguous
			}
			var a report.Artifact
			if err := json.Unmarshal(v, &a); err != nil {
				return err
			}
			found = &a
			if runID == id {
				return errExact
			}
			return nil
		})
	})
	if errors.Is(err, errExact) {
		err = nil
	}
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return found, nil
}

var errExact = errors.New("exact match")
