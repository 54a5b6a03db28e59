package store

import (
	"io"
	"io/ioutil"
	"log"
	"os"
	"path/filepath"
	"strings"

	raven "github.com/getsentry/raven-go"
)

// FileSystem implements a Store over a directory tree. Keys map directly to
// relative paths under the root, so a local mirror of a release bucket made
// with `aws s3 sync` can be opened in place.
//
// New values are first written into a scratch directory under the root and
// moved to their final path only when the writer is closed, so readers never
// observe a partially written value.
type FileSystem struct {
	root string
}

// the subdir new values are staged in while they are being written.
const scratchdir = ".scratch"

var _ Store = &FileSystem{}

// NewFileSystem creates a FileSystem store rooted at the given path.
func NewFileSystem(root string) *FileSystem {
	return &FileSystem{root: root}
}

// List returns a channel enumerating every key in this store. The scratch
// directory is not included.
func (s *FileSystem) List() <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		err := filepath.Walk(s.root, func(p string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			rel, err := filepath.Rel(s.root, p)
			if err != nil {
				return err
			}
			if info.IsDir() {
				if rel == scratchdir {
					return filepath.SkipDir
				}
				return nil
			}
			out <- filepath.ToSlash(rel)
			return nil
		})
		if err != nil && !os.IsNotExist(err) {
			log.Println("filesystem list:", s.root, err)
			raven.CaptureError(err, map[string]string{"Root": s.root})
		}
	}()
	return out
}

// ListPrefix returns every key beginning with the given prefix. Since keys
// are paths, the walk is restricted to the deepest directory the prefix
// names, which keeps listing a single manifest directory cheap even when
// the store holds a full mirror.
func (s *FileSystem) ListPrefix(prefix string) ([]string, error) {
	dir := prefix
	if i := strings.LastIndex(prefix, "/"); i >= 0 {
		dir = prefix[:i]
	} else {
		dir = ""
	}
	var result []string
	start := filepath.Join(s.root, filepath.FromSlash(dir))
	err := filepath.Walk(start, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if info.IsDir() {
			if key == scratchdir {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(key, prefix) {
			result = append(result, key)
		}
		return nil
	})
	if os.IsNotExist(err) {
		err = nil
	}
	return result, err
}

// Open returns a reader for the given key along with its size.
func (s *FileSystem) Open(key string) (ReadAtCloser, int64, error) {
	if err := checkKey(key); err != nil {
		return nil, 0, err
	}
	f, err := os.Open(filepath.Join(s.root, filepath.FromSlash(key)))
	if os.IsNotExist(err) {
		return nil, 0, ErrNotExist
	}
	if err != nil {
		return nil, 0, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	return f, fi.Size(), nil
}

// Create returns a writer saving a new value under the given key. The data
// is staged in the scratch directory and moved into place on Close.
func (s *FileSystem) Create(key string) (io.WriteCloser, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}
	target := filepath.Join(s.root, filepath.FromSlash(key))
	if _, err := os.Stat(target); err == nil {
		return nil, ErrKeyExists
	}
	scratch := filepath.Join(s.root, scratchdir)
	if err := os.MkdirAll(scratch, 0775); err != nil {
		return nil, err
	}
	f, err := ioutil.TempFile(scratch, "put-")
	if err != nil {
		return nil, err
	}
	return &moveCloser{WriteCloser: f, source: f.Name(), target: target}, nil
}

// moveCloser stages writes in a scratch file and moves it to the final
// location when closed.
type moveCloser struct {
	io.WriteCloser
	source string
	target string
}

func (w *moveCloser) Close() error {
	err := w.WriteCloser.Close()
	if err != nil {
		os.Remove(w.source)
		return err
	}
	if _, err := os.Stat(w.target); err == nil {
		os.Remove(w.source)
		return ErrKeyExists
	}
	if err := os.MkdirAll(filepath.Dir(w.target), 0775); err != nil {
		os.Remove(w.source)
		return err
	}
	return os.Rename(w.source, w.target)
}

// Delete removes the given key. It is not an error if the key is absent.
func (s *FileSystem) Delete(key string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	err := os.Remove(filepath.Join(s.root, filepath.FromSlash(key)))
	if err != nil && os.IsNotExist(err) {
		err = nil
	}
	return err
}
