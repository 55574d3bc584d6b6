package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/arturoeanton/go-rag-chat-ollama/internal/domain"
	"github.com/arturoeanton/go-rag-chat-ollama/internal/port"
)

const (
	keyPrefix       = "job:"
	maxTxnRetries   = 8
	interruptedText = "job interrupted by server restart"
)

// BadgerStore persists jobs in BadgerDB. Terminal records carry a TTL equal
// to the retention window, so expired jobs disappear even without a sweep.
type BadgerStore struct {
	db        *badger.DB
	retention time.Duration
}

var _ port.JobStore = (*BadgerStore)(nil)

// NewBadgerStore opens the database at dir. An empty dir opens an
// in-memory instance. Jobs left Pending by a previous process are failed,
// since no worker can ever resolve them.
func NewBadgerStore(dir string, retention time.Duration) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	s := &BadgerStore{db: db, retention: retention}
	if err := s.failOrphans(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// Create persists a new job.
func (s *BadgerStore) Create(_ context.Context, job domain.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(jobKey(job.ID)); err == nil {
			return fmt.Errorf("create job %s: duplicate id", job.ID)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(jobKey(job.ID), data)
	})
}

// Get returns a job by id.
func (s *BadgerStore) Get(_ context.Context, id string) (domain.Job, error) {
	var job domain.Job
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		job, err = readJob(txn, id)
		return err
	})
	return job, err
}

// Resolve writes a terminal state unless one is already stored. Concurrent
// resolvers are serialized by Badger's optimistic transactions.
func (s *BadgerStore) Resolve(_ context.Context, job domain.Job) (domain.Job, bool, error) {
	if !job.State.Terminal() {
		return domain.Job{}, false, fmt.Errorf("resolve job %s: state %q is not terminal", job.ID, job.State)
	}
	data, err := json.Marshal(job)
	if err != nil {
		return domain.Job{}, false, fmt.Errorf("marshal job: %w", err)
	}

	for attempt := 0; attempt < maxTxnRetries; attempt++ {
		var (
			stored   domain.Job
			resolved bool
		)
		err := s.db.Update(func(txn *badger.Txn) error {
			current, err := readJob(txn, job.ID)
			if err != nil {
				return err
			}
			if current.State.Terminal() {
				stored = current
				return nil
			}
			if err := txn.SetEntry(s.entry(job.ID, data)); err != nil {
				return err
			}
			stored, resolved = job, true
			return nil
		})
		if errors.Is(err, badger.ErrConflict) {
			continue
		}
		if err != nil {
			return domain.Job{}, false, fmt.Errorf("resolve job %s: %w", job.ID, err)
		}
		return stored, resolved, nil
	}
	return domain.Job{}, false, fmt.Errorf("resolve job %s: %w", job.ID, badger.ErrConflict)
}

// Sweep deletes terminal jobs resolved before cutoff.
func (s *BadgerStore) Sweep(_ context.Context, cutoff time.Time) (int, error) {
	var expired [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(keyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			var job domain.Job
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &job)
			}); err != nil {
				return err
			}
			if job.State.Terminal() && job.ResolvedAt.Before(cutoff) {
				expired = append(expired, item.KeyCopy(nil))
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scan jobs: %w", err)
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range expired {
		if err := wb.Delete(key); err != nil {
			return 0, fmt.Errorf("delete job: %w", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, fmt.Errorf("flush sweep: %w", err)
	}
	return len(expired), nil
}

func (s *BadgerStore) failOrphans() error {
	var orphans []domain.Job
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(keyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var job domain.Job
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &job)
			}); err != nil {
				return err
			}
			if !job.State.Terminal() {
				orphans = append(orphans, job)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("scan orphaned jobs: %w", err)
	}

	for _, job := range orphans {
		job.State = domain.JobFailed
		job.Error = interruptedText
		job.ResolvedAt = time.Now().UTC()
		if _, _, err := s.Resolve(context.Background(), job); err != nil {
			return err
		}
	}
	if len(orphans) > 0 {
		slog.Warn("failed orphaned jobs", "count", len(orphans))
	}
	return nil
}

func (s *BadgerStore) entry(id string, data []byte) *badger.Entry {
	e := badger.NewEntry(jobKey(id), data)
	if s.retention > 0 {
		e = e.WithTTL(s.retention)
	}
	return e
}

func readJob(txn *badger.Txn, id string) (domain.Job, error) {
	var job domain.Job
	item, err := txn.Get(jobKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return job, fmt.Errorf("get job %s: %w", id, port.ErrNotFound)
	}
	if err != nil {
		return job, fmt.Errorf("get job %s: %w", id, err)
	}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &job)
	})
	return job, err
}

func jobKey(id string) []byte {
	return []byte(keyPrefix + id)
}
