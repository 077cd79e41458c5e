// Package history journals every exchange with the backend in a BadgerDB
// store so past conversations can be listed later.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	log "log/slog"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

const keyPrefix = "x/"

// Exchange is one utterance and the reply it produced.
type Exchange struct {
	ID        string          `json:"id"`
	At        time.Time       `json:"at"`
	Utterance string          `json:"utterance"`
	Reply     string          `json:"reply"`
	Intent    string          `json:"intent,omitempty"`
	Debug     json.RawMessage `json:"debug,omitempty"`
	AudioURL  string          `json:"audio_url,omitempty"`
}

type Options struct {
	// Dir holds the data files. Required unless InMemory.
	Dir      string
	InMemory bool
}

type Journal struct {
	db *badger.DB
}

func Open(opts Options) (*Journal, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("history: dir is required")
	}

	dbOpts := badger.DefaultOptions(opts.Dir).WithLogger(badgerLogger{})
	if opts.InMemory {
		dbOpts = dbOpts.WithInMemory(true)
	}

	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	return &Journal{db: db}, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

// Append stores e, filling in ID and At when they are empty.
func (j *Journal) Append(e Exchange) (Exchange, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}

	val, err := json.Marshal(e)
	if err != nil {
		return e, err
	}

	err = j.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(e), val)
	})
	if err != nil {
		return e, fmt.Errorf("append exchange: %w", err)
	}
	return e, nil
}

// key sorts by time, so iteration order is chronological.
func key(e Exchange) []byte {
	return []byte(fmt.Sprintf("%s%020d/%s", keyPrefix, e.At.UnixNano(), e.ID))
}

// List returns the stored exchanges oldest first. limit > 0 keeps only the
// most recent ones.
func (j *Journal) List(limit int) ([]Exchange, error) {
	var out []Exchange

	err := j.db.View(func(txn *badger.Txn) error {
		prefix := []byte(keyPrefix)
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Prefix = prefix
		it := txn.NewIterator(iterOpts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			val, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}

			var e Exchange
			if err := json.Unmarshal(val, &e); err != nil {
				log.Warn("Skipping corrupt history entry", "key", string(it.Item().Key()), "err", err)
				continue
			}
			out = append(out, e)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}

	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// Print writes exchanges in a human readable form.
func Print(w io.Writer, entries []Exchange) error {
	if len(entries) == 0 {
		_, err := fmt.Fprintln(w, "(sem histórico)")
		return err
	}

	for _, e := range entries {
		var b strings.Builder
		fmt.Fprintf(&b, "[%s]", e.At.Local().Format("2006-01-02 15:04:05"))
		if e.Intent != "" {
			fmt.Fprintf(&b, " (%s)", e.Intent)
		}
		b.WriteByte('\n')
		fmt.Fprintf(&b, "  Você: %q\n", e.Utterance)
		fmt.Fprintf(&b, "  virtKino: %q\n", e.Reply)

		if _, err := io.WriteString(w, b.String()); err != nil {
			return err
		}
	}
	return nil
}

type badgerLogger struct{}

func (badgerLogger) Errorf(f string, v ...interface{}) {
	log.Error("Badger", "msg", strings.TrimSpace(fmt.Sprintf(f, v...)))
}
func (badgerLogger) Warningf(f string, v ...interface{}) {
	log.Warn("Badger", "msg", strings.TrimSpace(fmt.Sprintf(f, v...)))
}
func (badgerLogger) Infof(string, ...interface{})  {}
func (badgerLogger) Debugf(string, ...interface{}) {}
