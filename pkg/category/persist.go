package category

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/taskforge/pkg/types"
)

var bucketCategories = []byte("categories")

// Store persists learned category resource models across manager
// restarts, the way warren's BoltStore persists one bucket per record
// kind — narrowed here to the single bucket this manager actually needs.
type Store struct {
	db *bolt.DB
}

// OpenStore opens (creating if absent) the category snapshot database
// under dataDir.
func OpenStore(dataDir string) (*Store, error) {
	dbPath := filepath.Join(dataDir, "categories.db")
	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open category store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketCategories)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Save snapshots one category's model.
func (s *Store) Save(c *types.Category) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal category %s: %w", c.Name, err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCategories).Put([]byte(c.Name), data)
	})
}

// LoadAll returns every persisted category model, keyed by name.
func (s *Store) LoadAll() (map[string]*types.Category, error) {
	out := make(map[string]*types.Category)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCategories)
		return b.ForEach(func(k, v []byte) error {
			var c types.Category
			if err := json.Unmarshal(v, &c); err != nil {
				return fmt.Errorf("unmarshal category %s: %w", k, err)
			}
			out[string(k)] = &c
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// LoadInto restores every persisted category into the engine and wires
// store as the engine's persistence backend, so every later meaningful
// update (Observe) is snapshotted back to it (e.g. at manager startup,
// so learned allocations survive a restart).
func (e *Engine) LoadInto(store *Store) error {
	saved, err := store.LoadAll()
	if err != nil {
		return err
	}
	for name, c := range saved {
		if c.Buckets == nil {
			c.Buckets = make(map[string][]int64)
		}
		e.categories[name] = c
	}
	if def, ok := e.categories["default"]; ok {
		e.defaultCat = def
	}
	e.store = store
	return nil
}
