// Package storetest provides functions for exercising anything implementing
// the store interfaces.
package storetest

import (
	"bytes"
	"crypto/md5"
	"io"
	"math"
	"math/rand"
	"sync"
	"testing"

	"github.com/neurodata/obscache/store"
)

type blob struct {
	key  string
	hash []byte
	size int64
}

// Stress spawns goroutines to simultaneously read and write the given
// store. It is a good test to run with the -race flag.
//
// Sizes are generated until their sum reaches totalsize (default 16 MB).
// For each size a random blob is stored, then read back and compared, then
// randomly deleted or read again. Does not exercise List or ListPrefix.
func Stress(t *testing.T, s store.Store, totalsize int64) {
	if totalsize == 0 {
		totalsize = 16 * 1024 * 1024
	}
	sizes := make(chan int64)
	dwnld := make(chan blob, 1000)
	done := make(chan struct{})
	var uppool, downpool sync.WaitGroup

	for i := 0; i < 5; i++ {
		uppool.Add(1)
		go func() {
			writer(t, s, sizes, dwnld)
			uppool.Done()
		}()
	}
	for i := 0; i < 10; i++ {
		downpool.Add(1)
		go func() {
			reader(t, s, dwnld, done)
			downpool.Done()
		}()
	}

	generatesizes(sizes, totalsize)
	close(sizes)
	uppool.Wait()
	close(done)
	downpool.Wait()
}

// randomReader provides n bytes of pseudo-random data. n may be much larger
// than len(data).
type randomReader struct {
	n    int64
	data []byte
}

func (r *randomReader) Read(p []byte) (int, error) {
	if r.n <= 0 {
		return 0, io.EOF
	}
	total := 0
	data := r.data
	for len(p) > 0 && r.n > 0 {
		if r.n < int64(len(data)) {
			data = data[:int(r.n)]
		}
		n := copy(p, data)
		p = p[n:]
		r.n -= int64(n)
		total += n
	}
	return total, nil
}

func writer(t *testing.T, s store.Store, in <-chan int64, out chan<- blob) {
	h := md5.New()
	const L = 64 * 1024
	buffer := make([]byte, L)

	for size := range in {
		h.Reset()
		buffer = buffer[:L]
		rand.Read(buffer)
		keystr := randomKey(buffer)
	retry:
		w, err := s.Create(keystr)
		if err == store.ErrKeyExists {
			keystr += "a"
			goto retry
		} else if err != nil {
			t.Error(err)
			continue
		}
		mw := io.MultiWriter(h, w)
		n, err := io.Copy(mw, &randomReader{data: buffer, n: size})
		if n != size {
			t.Error("expected", size, "only wrote", n)
		}
		if err != nil {
			t.Error(err)
		}
		err = w.Close()
		if err != nil {
			t.Error(keystr, size, err)
			continue
		}
		out <- blob{key: keystr, hash: h.Sum(nil), size: size}
	}
}

// randomKey derives a path-shaped key from random bytes: one directory
// element and one name element of lowercase letters.
func randomKey(buffer []byte) string {
	var key []byte
	j := int(buffer[0])
	klen := int(buffer[j])&0x1f + 4
	for len(key) < klen {
		if buffer[j] >= 'a' && buffer[j] <= 'z' {
			key = append(key, buffer[j])
			if len(key) == 2 {
				key = append(key, '/')
			}
		}
		j++
	}
	return string(key)
}

func reader(t *testing.T, s store.Store, in chan blob, done chan struct{}) {
	h := md5.New()
	for {
		var blob blob
		select {
		case <-done:
			return
		case blob = <-in:
		}
		rac, size, err := s.Open(blob.key)
		if err != nil {
			t.Error(err)
			continue
		}
		if size != blob.size {
			t.Error("expected", blob.size, "Open() returned", size)
		}
		h.Reset()
		n, err := io.Copy(h, store.NewReader(rac))
		if err != nil {
			t.Error(err)
		}
		if n != size {
			t.Error("expected", size, "but read", n)
		}
		err = rac.Close()
		if err != nil {
			t.Error(err)
		}
		if !bytes.Equal(blob.hash, h.Sum(nil)) {
			t.Errorf("hashes unequal. %#v. received %x", blob, h.Sum(nil))
			continue
		}

		// figure out what to do next
		if rand.Float32() < 0.5 {
			if err := s.Delete(blob.key); err != nil {
				t.Error(err)
			}
		} else {
			in <- blob
		}
	}
}

func generatesizes(out chan<- int64, totalsize int64) {
	// generate the exponent uniformly at random so sizes cover a wide range
	for totalsize > 0 {
		x := 15 * rand.Float64()
		size := int64(math.Trunc(math.Exp(x)))
		out <- size
		totalsize -= size
	}
}
