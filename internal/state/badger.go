package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// BadgerConfig holds configuration for the embedded Badger backend.
type BadgerConfig struct {
	// Path is the directory for Badger files. Ignored when InMemory is true.
	Path string

	// InMemory keeps everything in RAM. Useful for testing.
	InMemory bool

	// SyncWrites fsyncs every commit.
	SyncWrites bool

	// Logger receives Badger's internal log output. Nil disables it.
	Logger logrus.FieldLogger
}

// BadgerStore keeps processing state in Badger under
// "state/<version>\x00<sourceFile>".
type BadgerStore struct {
	db *badger.DB
}

const badgerKeyPrefix = "state/"

func badgerKey(version, sourceFile string) []byte {
	return []byte(badgerKeyPrefix + version + "\x00" + sourceFile)
}

func badgerVersionPrefix(version string) []byte {
	return []byte(badgerKeyPrefix + version + "\x00")
}

// OpenBadger opens a Badger database with the given configuration.
func OpenBadger(cfg BadgerConfig) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent state database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create state directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)

	// logrus.FieldLogger already has Badger's Errorf/Warningf/Infof/Debugf.
	if cfg.Logger != nil {
		opts = opts.WithLogger(cfg.Logger)
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: open badger database: %v", ErrStoreUnavailable, err)
	}
	return &BadgerStore{db: db}, nil
}

// Close closes the database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// Get returns the stored state or a default empty one.
func (s *BadgerStore) Get(ctx context.Context, sourceFile, version string) (*ProcessingState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var st *ProcessingState
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(version, sourceFile))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			decoded, err := decodeState(string(val))
			st = decoded
			return err
		})
	})
	if err != nil {
		return nil, fmt.Errorf("reading processing state: %w", err)
	}
	if st == nil {
		return New(sourceFile, version), nil
	}
	return st, nil
}

// Save upserts the record, keeping the id already stored for the key.
func (s *BadgerStore) Save(ctx context.Context, st *ProcessingState) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	key := badgerKey(st.Version, st.SourceFile)
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
			if st.ID == "" {
				st.ID = uuid.NewString()
			}
		case err != nil:
			return err
		default:
			var existing struct {
				ID string `json:"id"`
			}
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &existing)
			}); err != nil {
				return err
			}
			if existing.ID != "" {
				st.ID = existing.ID
			} else if st.ID == "" {
				st.ID = uuid.NewString()
			}
		}

		st.UpdatedAt = time.Now().UTC()
		payload, err := json.Marshal(st)
		if err != nil {
			return err
		}
		return txn.Set(key, payload)
	})
	if err != nil {
		return fmt.Errorf("saving processing state: %w", err)
	}
	return nil
}

// List returns every stored record ordered by version then source file.
func (s *BadgerStore) List(ctx context.Context) ([]*ProcessingState, error) {
	var states []*ProcessingState
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(badgerKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := it.Item().Value(func(val []byte) error {
				st, err := decodeState(string(val))
				if err != nil {
					return err
				}
				states = append(states, st)
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing processing state: %w", err)
	}

	sort.Slice(states, func(i, j int) bool {
		if states[i].Version != states[j].Version {
			return states[i].Version < states[j].Version
		}
		return states[i].SourceFile < states[j].SourceFile
	})
	return states, nil
}

// DeleteVersion removes every record of a version.
func (s *BadgerStore) DeleteVersion(ctx context.Context, version string) (int, error) {
	prefix := badgerVersionPrefix(version)

	var keys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scanning processing state: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		if err := wb.Delete(k); err != nil {
			return 0, fmt.Errorf("deleting processing state: %w", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, fmt.Errorf("deleting processing state: %w", err)
	}
	return len(keys), nil
}
