// Package storage persists audit records, findings and workflows in bbolt.
package storage

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/btree"
	"go.etcd.io/bbolt"
)

// Bucket names in bbolt
var (
	bucketAudit     = []byte("audit")
	bucketFindings  = []byte("findings")
	bucketWorkflows = []byte("workflows")
	bucketMeta      = []byte("meta")

	keyRevision = []byte("current_revision")
)

// Store is the bbolt-backed persistence layer
type Store struct {
	mu sync.RWMutex

	// In-memory workflow index for filtered listing
	workflows *btree.BTreeG[*WorkflowState]
	byID      map[string]*WorkflowState

	db *bbolt.DB

	// Current revision number, bumped on every write
	currentRev int64

	dir string
	now func() time.Time
}

// WorkflowState is the indexed projection of a stored workflow
type WorkflowState struct {
	ID            string
	Type          string
	CorrelationID string
	Status        string
	Version       int64
	CreatedAt     time.Time
}

func lessWorkflow(a, b *WorkflowState) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// Open opens (or creates) the store in dir
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	dbPath := filepath.Join(dir, "vigil.db")

	db, err := bbolt.Open(dbPath, 0600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range [][]byte{bucketAudit, bucketFindings, bucketWorkflows, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize buckets: %w", err)
	}

	s := &Store{
		workflows: btree.NewG[*WorkflowState](32, lessWorkflow),
		byID:      make(map[string]*WorkflowState),
		db:        db,
		dir:       dir,
		now:       time.Now,
	}

	if err := s.loadRevision(); err != nil {
		_ = db.Close()
		return nil, err
	}

	if err := s.rebuildIndex(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the store
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path
func (s *Store) Path() string {
	return filepath.Join(s.dir, "vigil.db")
}

// CurrentRevision returns the current revision number
func (s *Store) CurrentRevision() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentRev
}

// Compact removes audit records and findings older than before. Workflows
// are kept. Returns the number of deleted keys.
func (s *Store) Compact(ctx context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := sinceKey(before)
	deleted := 0

	err := s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketAudit, bucketFindings} {
			bucket := tx.Bucket(name)
			c := bucket.Cursor()

			var toDelete [][]byte
			for k, _ := c.First(); k != nil && bytes.Compare(k, cutoff) < 0; k, _ = c.Next() {
				if err := ctx.Err(); err != nil {
					return fmt.Errorf("compaction cancelled: %w", err)
				}
				key := make([]byte, len(k))
				copy(key, k)
				toDelete = append(toDelete, key)
			}

			for _, key := range toDelete {
				if err := bucket.Delete(key); err != nil {
					return err
				}
			}
			deleted += len(toDelete)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to compact store: %w", err)
	}

	return deleted, nil
}

func (s *Store) loadRevision() error {
	return s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketMeta).Get(keyRevision)
		if len(data) == 8 {
			s.currentRev = int64(binary.BigEndian.Uint64(data)) //nolint:gosec // revision is always positive
		}
		return nil
	})
}

// putRevision persists rev inside an open write transaction
func putRevision(tx *bbolt.Tx, rev int64) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(rev)) //nolint:gosec // revision is always positive
	return tx.Bucket(bucketMeta).Put(keyRevision, buf)
}

func (s *Store) rebuildIndex() error {
	return s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketWorkflows).ForEach(func(k, v []byte) error {
			var rec WorkflowRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("failed to decode workflow %s: %w", k, err)
			}
			s.indexWorkflow(rec)
			return nil
		})
	})
}

// makeTimeKey creates a timestamp-ordered key.
// Uses timestamp (nanoseconds) + revision for uniqueness and ordering
func makeTimeKey(timestamp, revision int64) []byte {
	key := make([]byte, 16)
	binary.BigEndian.PutUint64(key[0:8], uint64(timestamp)) //nolint:gosec // timestamp is always positive
	binary.BigEndian.PutUint64(key[8:16], uint64(revision)) //nolint:gosec // revision is always positive
	return key
}

// sinceKey returns the first key at or after t. Times before the Unix epoch
// map to the start of the bucket.
func sinceKey(t time.Time) []byte {
	if t.Before(time.Unix(0, 0)) {
		return makeTimeKey(0, 0)
	}
	return makeTimeKey(t.UnixNano(), 0)
}
