package storage

import "github.com/pkg/errors"

// ErrClosed is returned by Read, WriteBlock and TryFinalize on a Store
// after Close.
var ErrClosed = errors.New("storage: store is closed")

// StorageIO wraps an underlying file-system error. It is always fatal to
// the torrent that produced it: the destination is
// unusable, not merely the current operation.
type StorageIO struct {
	Op  string
	Err error
}

func (e *StorageIO) Error() string { return "storage: " + e.Op + ": " + e.Err.Error() }
func (e *StorageIO) Unwrap() error { return e.Err }

func wrapIO(op string, err error) error {
	if err == nil {
		return nil
	}
	return errors.WithStack(&StorageIO{Op: op, Err: err})
}
