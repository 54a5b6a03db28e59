// Package filecache maintains the persistent local copy of downloaded
// artifacts, keyed by the stable file id a release manifest assigns to each
// artifact. An artifact is downloaded on first use, verified against the
// size and digest the manifest records, and installed atomically, so a
// reader never observes a partial file at the final path. Entries outlive
// the session and are removed only by explicit invalidation.
//
// Concurrent requests for the same file id collapse into a single
// download; requests for distinct ids proceed independently, limited by a
// gate on the number of simultaneous remote reads.
package filecache

import (
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/neurodata/obscache/manifest"
	"github.com/neurodata/obscache/store"
	"github.com/neurodata/obscache/util"
)

// A DownloadError reports a failed remote fetch after the internal retry
// budget is exhausted. It is retryable from the caller's point of view.
type DownloadError struct {
	FileID string
	Key    string
	Err    error
}

func (e DownloadError) Error() string {
	return fmt.Sprintf("downloading file %s (%s): %s", e.FileID, e.Key, e.Err)
}

// A CorruptError means an artifact failed verification even after being
// freshly downloaded. The cache never serves data in this state.
type CorruptError struct {
	FileID string
	Path   string
	Reason string
}

func (e CorruptError) Error() string {
	return fmt.Sprintf("file %s at %s is corrupt: %s", e.FileID, e.Path, e.Reason)
}

const (
	// where in-progress downloads are staged.
	scratchdir = ".scratch"

	// suffix of the sidecar written next to each verified artifact.
	metaSuffix = ".meta.json"

	downloadAttempts = 3
	retryDelay       = 250 * time.Millisecond
)

// sidecar is the per-entry metadata recorded after a verified download.
// A present artifact without a matching sidecar is treated as corrupt.
type sidecar struct {
	FileID string `json:"file_id"`
	Key    string `json:"key"`
	Size   int64  `json:"size"`
	MD5    string `json:"md5"`
}

// A Cache is the local artifact store for one cache directory. It is safe
// for use from multiple goroutines. Multiple processes sharing the
// directory are tolerated: installs are atomic renames, and a competing
// completed download is detected and reused.
type Cache struct {
	dir    string
	remote store.ROStore
	gate   util.Gate

	mu       sync.Mutex
	inflight map[string]*flight
}

type flight struct {
	wg   sync.WaitGroup
	path string
	err  error
}

// New creates a cache rooted at dir, downloading misses from remote.
// maxDownloads limits simultaneous remote reads; 0 means a default of 4.
func New(dir string, remote store.ROStore, maxDownloads int) (*Cache, error) {
	if maxDownloads <= 0 {
		maxDownloads = 4
	}
	if err := os.MkdirAll(filepath.Join(dir, scratchdir), 0775); err != nil {
		return nil, errors.Wrapf(err, "creating cache directory %s", dir)
	}
	return &Cache{
		dir:      dir,
		remote:   remote,
		gate:     util.NewGate(maxDownloads),
		inflight: make(map[string]*flight),
	}, nil
}

// Get returns the local path of the artifact the record names, downloading
// it first if needed. A verified hit performs no network access. The first
// caller for a given file id does the download; concurrent callers for the
// same id wait for it and share the result.
func (c *Cache) Get(fileID string, rec manifest.FileRecord) (string, error) {
	c.mu.Lock()
	if f, ok := c.inflight[fileID]; ok {
		c.mu.Unlock()
		f.wg.Wait()
		return f.path, f.err
	}
	f := &flight{}
	f.wg.Add(1)
	c.inflight[fileID] = f
	c.mu.Unlock()

	f.path, f.err = c.get(fileID, rec)

	c.mu.Lock()
	delete(c.inflight, fileID)
	c.mu.Unlock()
	f.wg.Done()
	return f.path, f.err
}

// Contains reports whether a verified entry for the record is already on
// disk. It does not download.
func (c *Cache) Contains(fileID string, rec manifest.FileRecord) bool {
	err := c.verify(c.path(rec), fileID, rec)
	return err == nil
}

// Invalidate removes the local copy of the artifact, if any. The next Get
// for the same id will download again. Removing an id that was never
// cached is not an error. An in-progress download for the id is allowed to
// finish first.
func (c *Cache) Invalidate(fileID string, rec manifest.FileRecord) error {
	c.mu.Lock()
	f := c.inflight[fileID]
	c.mu.Unlock()
	if f != nil {
		f.wg.Wait()
	}
	path := c.path(rec)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "invalidating file %s", fileID)
	}
	if err := os.Remove(path + metaSuffix); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "invalidating file %s", fileID)
	}
	return nil
}

// path returns the final local path for a record: the remote key laid out
// under the cache root, so the cache directory mirrors the release tree.
func (c *Cache) path(rec manifest.FileRecord) string {
	return filepath.Join(c.dir, filepath.FromSlash(rec.Key))
}

func (c *Cache) get(fileID string, rec manifest.FileRecord) (string, error) {
	path := c.path(rec)
	err := c.verify(path, fileID, rec)
	if err == nil {
		return path, nil
	}
	if !os.IsNotExist(errors.Cause(err)) {
		// a prior download is present but bad. Remove it and fall
		// through to a fresh download rather than serve corrupt data.
		log.Printf("cache: re-downloading %s: %s", fileID, err)
		os.Remove(path)
		os.Remove(path + metaSuffix)
	}

	verifyFailures := 0
	for attempt := 1; ; attempt++ {
		err = c.download(fileID, rec, path)
		if err == nil {
			return path, nil
		}
		if _, ok := err.(CorruptError); ok {
			// the fetch completed but the content did not match the
			// manifest. Retry once; a second mismatch is not going to
			// fix itself.
			verifyFailures++
			if verifyFailures > 1 {
				return "", err
			}
			continue
		}
		if attempt >= downloadAttempts {
			return "", DownloadError{FileID: fileID, Key: rec.Key, Err: err}
		}
		log.Printf("cache: download %s attempt %d: %s", fileID, attempt, err)
		time.Sleep(time.Duration(attempt) * retryDelay)
	}
}

// verify checks that the artifact at path matches what the manifest
// records. A missing artifact returns the underlying not-exist error; any
// other failure returns a CorruptError.
func (c *Cache) verify(path, fileID string, rec manifest.FileRecord) error {
	fi, err := os.Stat(path)
	if err != nil {
		return err
	}
	raw, err := ioutil.ReadFile(path + metaSuffix)
	if err != nil {
		if os.IsNotExist(err) {
			return CorruptError{FileID: fileID, Path: path, Reason: "missing cache metadata"}
		}
		return CorruptError{FileID: fileID, Path: path, Reason: err.Error()}
	}
	var sc sidecar
	if err := json.Unmarshal(raw, &sc); err != nil {
		return CorruptError{FileID: fileID, Path: path, Reason: "unreadable cache metadata"}
	}
	if sc.Size != fi.Size() {
		return CorruptError{FileID: fileID, Path: path,
			Reason: fmt.Sprintf("size %d does not match recorded size %d", fi.Size(), sc.Size)}
	}
	if rec.Size != 0 && rec.Size != fi.Size() {
		return CorruptError{FileID: fileID, Path: path,
			Reason: fmt.Sprintf("size %d does not match manifest size %d", fi.Size(), rec.Size)}
	}
	if rec.MD5 != "" && sc.MD5 != rec.MD5 {
		return CorruptError{FileID: fileID, Path: path, Reason: "digest does not match manifest"}
	}
	return nil
}

// download fetches the record into a scratch file, verifies it, and
// installs it at path. The scratch file is always cleaned up on failure.
func (c *Cache) download(fileID string, rec manifest.FileRecord, path string) error {
	c.gate.Enter()
	defer c.gate.Leave()

	rac, size, err := c.remote.Open(rec.Key)
	if err != nil {
		return errors.Wrap(err, "remote open")
	}
	defer rac.Close()

	tmp, err := ioutil.TempFile(filepath.Join(c.dir, scratchdir), "dl-")
	if err != nil {
		return errors.Wrap(err, "creating scratch file")
	}
	tmpname := tmp.Name()
	defer os.Remove(tmpname)

	hw := util.NewMD5Writer(tmp)
	n, err := io.Copy(hw, store.NewReader(rac))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return errors.Wrap(err, "copying")
	}

	// verify completeness before the artifact becomes visible
	if n != size {
		return CorruptError{FileID: fileID, Path: tmpname,
			Reason: fmt.Sprintf("received %d of %d bytes", n, size)}
	}
	if rec.Size != 0 && n != rec.Size {
		return CorruptError{FileID: fileID, Path: tmpname,
			Reason: fmt.Sprintf("size %d does not match manifest size %d", n, rec.Size)}
	}
	if !hw.Check(rec.MD5) {
		return CorruptError{FileID: fileID, Path: tmpname, Reason: "digest does not match manifest"}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0775); err != nil {
		return errors.Wrap(err, "creating cache subdirectory")
	}
	if err := os.Rename(tmpname, path); err != nil {
		return errors.Wrap(err, "installing artifact")
	}
	return c.writeSidecar(path, sidecar{FileID: fileID, Key: rec.Key, Size: n, MD5: hw.SumHex()})
}

// writeSidecar records the entry metadata next to the artifact, also via
// an atomic rename so a half-written sidecar is never seen.
func (c *Cache) writeSidecar(path string, sc sidecar) error {
	raw, err := json.Marshal(sc)
	if err != nil {
		return err
	}
	tmp, err := ioutil.TempFile(filepath.Join(c.dir, scratchdir), "meta-")
	if err != nil {
		return err
	}
	tmpname := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpname)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpname)
		return err
	}
	return os.Rename(tmpname, path+metaSuffix)
}
