// Package store provides a goroutine safe key-value interface over the
// places a data release can live: an S3 bucket, a directory tree on local
// disk, or memory. Values are streams rather than byte slices since the
// artifacts in a release can be many gigabytes.
//
// A release bucket is immutable once published, so most of this package is
// concerned with the read-only ROStore interface. The writable Store
// interface exists for the local filesystem and memory implementations,
// which the test suites and mirroring tools need.
//
// Keys are forward-slash separated paths relative to the store root, for
// example "behavior_sessions/1234.nwb" or
// "manifests/visual-behavior_manifest_v0.3.0.json".
package store

import (
	"errors"
	"io"
	"strings"
)

// ReadAtCloser combines the io.ReaderAt and io.Closer interfaces.
type ReadAtCloser interface {
	io.ReaderAt
	io.Closer
}

// ROStore is the read-only store interface the rest of obscache consumes.
// Open returns a ReadAtCloser along with the total size of the value, which
// lets callers verify download completeness without a second round trip.
type ROStore interface {
	List() <-chan string
	ListPrefix(prefix string) ([]string, error)
	Open(key string) (ReadAtCloser, int64, error)
}

// Store is a ROStore that also accepts writes. Values are immutable once
// stored, but they may be deleted and then replaced with a new value.
type Store interface {
	ROStore
	Create(key string) (io.WriteCloser, error)
	Delete(key string) error
}

var (
	// ErrNotExist means the key is not present in the store.
	ErrNotExist = errors.New("key does not exist")

	// ErrKeyExists indicates an attempt to create a key which already exists.
	ErrKeyExists = errors.New("key already exists")

	// ErrBadKey means the key is empty, absolute, or tries to escape the
	// store root with a ".." element.
	ErrBadKey = errors.New("malformed key")
)

// IsNotExist returns true if err, or any error in its cause chain,
// indicates a missing key. It also recognizes the miss codes returned by
// the S3 SDK.
func IsNotExist(err error) bool {
	for err != nil {
		if err == ErrNotExist {
			return true
		}
		if coder, ok := err.(interface{ Code() string }); ok {
			code := coder.Code()
			if code == "NoSuchKey" || code == "NotFound" {
				return true
			}
		}
		causer, ok := err.(interface{ Cause() error })
		if !ok {
			return false
		}
		err = causer.Cause()
	}
	return false
}

// checkKey validates that key is a well formed relative path.
func checkKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") {
		return ErrBadKey
	}
	for _, elem := range strings.Split(key, "/") {
		if elem == "" || elem == "." || elem == ".." {
			return ErrBadKey
		}
	}
	return nil
}

// NewReader converts a ReaderAt into an io.Reader. It is here as a utility
// to help work with the ReadAtCloser returned by Open.
func NewReader(r io.ReaderAt) io.Reader {
	return &reader{r: r}
}

type reader struct {
	r   io.ReaderAt
	off int64
}

func (r *reader) Read(p []byte) (n int, err error) {
	n, err = r.r.ReadAt(p, r.off)
	r.off += int64(n)
	if err == io.EOF && n > 0 {
		// reading less than a full buffer is not an error for an io.Reader
		err = nil
	}
	return
}
