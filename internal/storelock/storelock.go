// Package storelock serializes docslot processes over one set of stores. A writer holds the
// lock exclusively for as long as it may append or commit; readers hold it shared, so they
// never see a vector file that another process is rewriting.
package storelock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

// ErrLocked is returned when another process holds the lock in a conflicting mode.
var ErrLocked = errors.New("stores are in use by another docslot process")

// DefaultTimeout bounds how long Acquire waits for a conflicting holder to go away.
const DefaultTimeout = 200 * time.Millisecond

// Mode is the kind of lock a process needs.
type Mode int

const (
	// Shared lets any number of readers in and keeps writers out.
	Shared Mode = iota
	// Exclusive admits one writer and no readers.
	Exclusive
)

func (m Mode) String() string {
	if m == Exclusive {
		return "exclusive"
	}
	return "shared"
}

// Path returns the lock file that guards the stores of a registry database.
func Path(databasePath string) string {
	return databasePath + ".lock"
}

// Lock is a held store lock. The OS drops it if the process dies.
type Lock struct {
	db   *bbolt.DB
	path string
	mode Mode
}

// Acquire takes the lock at path in mode, waiting at most timeout (DefaultTimeout when zero).
// The lock file is a bbolt database whose open takes the OS file lock: read-only opens lock
// it shared, read-write opens exclusive.
func Acquire(path string, mode Mode, timeout time.Duration) (*Lock, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	if mode == Shared {
		// a read-only open cannot create the file
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			l, err := Acquire(path, Exclusive, timeout)
			if err != nil {
				return nil, err
			}
			if err := l.Release(); err != nil {
				return nil, err
			}
		}
	}
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: timeout, ReadOnly: mode == Shared})
	if errors.Is(err, bbolt.ErrTimeout) {
		return nil, fmt.Errorf("%w: could not take %s lock on %s", ErrLocked, mode, path)
	}
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	return &Lock{db: db, path: path, mode: mode}, nil
}

// Mode reports how the lock is held.
func (l *Lock) Mode() Mode {
	return l.mode
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// Release drops the lock. Releasing twice is a no-op.
func (l *Lock) Release() error {
	if l == nil || l.db == nil {
		return nil
	}
	err := l.db.Close()
	l.db = nil
	return err
}
