package store

import (
	"bytes"
	"io"
	"sort"
	"strings"
	"sync"
)

// Memory is a Store kept entirely in memory. It is intended for testing.
type Memory struct {
	m     sync.RWMutex
	store map[string][]byte
}

var _ Store = &Memory{}

// NewMemory returns a new, empty memory store.
func NewMemory() *Memory {
	return &Memory{store: make(map[string][]byte)}
}

// List returns a channel giving every key in the store. The listing is a
// snapshot taken when List is called.
func (ms *Memory) List() <-chan string {
	keys := ms.snapshot("")
	c := make(chan string)
	go func() {
		for _, k := range keys {
			c <- k
		}
		close(c)
	}()
	return c
}

// ListPrefix returns all the keys which begin with the given prefix.
func (ms *Memory) ListPrefix(prefix string) ([]string, error) {
	return ms.snapshot(prefix), nil
}

func (ms *Memory) snapshot(prefix string) []string {
	ms.m.RLock()
	var result []string
	for k := range ms.store {
		if strings.HasPrefix(k, prefix) {
			result = append(result, k)
		}
	}
	ms.m.RUnlock()
	sort.Strings(result)
	return result
}

// Open returns a reader and the size of the given value.
func (ms *Memory) Open(key string) (ReadAtCloser, int64, error) {
	ms.m.RLock()
	v, ok := ms.store[key]
	ms.m.RUnlock()
	if !ok {
		return nil, 0, ErrNotExist
	}
	return nopCloser{bytes.NewReader(v)}, int64(len(v)), nil
}

type nopCloser struct {
	io.ReaderAt
}

func (nopCloser) Close() error { return nil }

// Create returns a writer for a new value. The value becomes visible to
// readers only when the writer is closed.
func (ms *Memory) Create(key string) (io.WriteCloser, error) {
	ms.m.RLock()
	_, exists := ms.store[key]
	ms.m.RUnlock()
	if exists {
		return nil, ErrKeyExists
	}
	return &memWriter{parent: ms, key: key}, nil
}

type memWriter struct {
	parent *Memory
	key    string
	buf    bytes.Buffer
}

func (w *memWriter) Write(p []byte) (int, error) {
	return w.buf.Write(p)
}

func (w *memWriter) Close() error {
	w.parent.m.Lock()
	w.parent.store[w.key] = w.buf.Bytes()
	w.parent.m.Unlock()
	return nil
}

// Delete the given key from the store. It is not an error if the key does
// not exist.
func (ms *Memory) Delete(key string) error {
	ms.m.Lock()
	delete(ms.store, key)
	ms.m.Unlock()
	return nil
}
