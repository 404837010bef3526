package tracking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/hupe1980/reid/codec"
)

var (
	// ErrRunNotFound is returned when a run store has no record of a run.
	ErrRunNotFound = errors.New("run not found")

	// ErrArtifactNotFound is returned when a run has no artifact of a name.
	ErrArtifactNotFound = errors.New("artifact not found")
)

// BadgerOptions configures a BadgerSink.
type BadgerOptions struct {
	// Dir is the database directory. Required unless InMemory is set.
	Dir string
	// InMemory keeps the database in memory only.
	InMemory bool
	Logger   *slog.Logger
}

// BadgerSink keeps a local, queryable history of runs in BadgerDB.
//
// Keys:
//
//	run/<run>/params
//	run/<run>/epoch/<epoch, 6 digits>
//	run/<run>/artifact/<name>
//
// Params and epoch values are msgpack-encoded; artifacts are stored as is.
type BadgerSink struct {
	db    *badger.DB
	codec codec.MsgPack
}

// OpenBadger opens or creates a run store.
func OpenBadger(opts BadgerOptions) (*BadgerSink, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("tracking: BadgerOptions.Dir is required for on-disk mode")
	}

	dbOpts := badger.DefaultOptions(opts.Dir)
	if opts.InMemory {
		dbOpts = dbOpts.WithInMemory(true)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	dbOpts = dbOpts.WithLogger(badgerLogger{logger: logger.With("component", "badger")})

	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, err
	}
	return &BadgerSink{db: db}, nil
}

func paramsKey(run string) []byte {
	return []byte("run/" + run + "/params")
}

func epochKey(run string, epoch int) []byte {
	return fmt.Appendf(nil, "run/%s/epoch/%06d", run, epoch)
}

func artifactKey(run, name string) []byte {
	return []byte("run/" + run + "/artifact/" + name)
}

func (s *BadgerSink) set(key []byte, v any) error {
	data, err := s.codec.Marshal(v)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
}

func (s *BadgerSink) LogParams(_ context.Context, run string, p Params) error {
	return s.set(paramsKey(run), p)
}

func (s *BadgerSink) LogEpoch(_ context.Context, e Epoch) error {
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	return s.set(epochKey(e.Run, e.Epoch), e)
}

func (s *BadgerSink) LogArtifact(_ context.Context, run, name string, data []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(artifactKey(run, name), data)
	})
}

// Artifact returns a copy of the artifact logged for run under name.
func (s *BadgerSink) Artifact(run, name string) ([]byte, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(artifactKey(run, name))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrArtifactNotFound
	}
	return data, err
}

// Params returns the parameters logged for run.
func (s *BadgerSink) Params(run string) (Params, error) {
	var p Params
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(paramsKey(run))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return s.codec.Unmarshal(val, &p)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrRunNotFound
	}
	return p, err
}

// Epochs returns the epoch records of run in epoch order.
func (s *BadgerSink) Epochs(run string) ([]Epoch, error) {
	prefix := []byte("run/" + run + "/epoch/")

	var out []Epoch
	err := s.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Prefix = prefix
		it := txn.NewIterator(iterOpts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var e Epoch
			if err := it.Item().Value(func(val []byte) error {
				return s.codec.Unmarshal(val, &e)
			}); err != nil {
				return err
			}
			out = append(out, e)
		}
		return nil
	})
	return out, err
}

// Runs lists the names of all recorded runs.
func (s *BadgerSink) Runs() ([]string, error) {
	prefix := []byte("run/")
	seen := map[string]bool{}
	var runs []string

	err := s.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Prefix = prefix
		iterOpts.PrefetchValues = false
		it := txn.NewIterator(iterOpts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			rest := strings.TrimPrefix(string(it.Item().Key()), "run/")
			run, _, _ := strings.Cut(rest, "/")
			if !seen[run] {
				seen[run] = true
				runs = append(runs, run)
			}
		}
		return nil
	})
	return runs, err
}

func (s *BadgerSink) Close() error {
	return s.db.Close()
}

// badgerLogger routes badger warnings and errors to slog.
type badgerLogger struct {
	logger *slog.Logger
}

func (l badgerLogger) Errorf(f string, v ...any)   { l.logger.Error(strings.TrimSpace(fmt.Sprintf(f, v...))) }
func (l badgerLogger) Warningf(f string, v ...any) { l.logger.Warn(strings.TrimSpace(fmt.Sprintf(f, v...))) }
func (badgerLogger) Infof(string, ...any)          {}
func (badgerLogger) Debugf(string, ...any)         {}
