package store

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	raven "github.com/getsentry/raven-go"
)

// S3 is a read-only view of a release bucket on AWS S3 (or anything
// speaking its protocol, e.g. Minio). Releases are immutable once
// published, so this store intentionally has no write path.
//
// Do not change Bucket or Prefix concurrently with calls using the
// structure.
type S3 struct {
	svc    *s3.S3
	Bucket string
	Prefix string
	sizes  *sizecache // remembered HEAD info
}

var _ ROStore = &S3{}

// NewS3 creates a read-only S3 store. Prefix is prepended to all keys,
// which allows one bucket to hold several projects. The credentials in the
// session are used for all accesses; for public release buckets use a
// session with anonymous credentials.
func NewS3(bucket, prefix string, awsSession *session.Session) *S3 {
	return &S3{
		Bucket: bucket,
		Prefix: prefix,
		svc:    s3.New(awsSession),
		sizes:  newSizeCache(),
	}
}

// List returns a channel enumerating every key under the store's Prefix.
func (s *S3) List() <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		input := &s3.ListObjectsV2Input{
			Bucket: aws.String(s.Bucket),
			Prefix: aws.String(s.Prefix),
		}
		err := s.svc.ListObjectsV2Pages(input,
			func(page *s3.ListObjectsV2Output, lastpage bool) bool {
				for _, item := range page.Contents {
					out <- strings.TrimPrefix(*item.Key, s.Prefix)
				}
				return !lastpage
			})
		if err != nil {
			log.Println("S3 List:", s.Prefix, err)
			raven.CaptureError(err, map[string]string{"Bucket": s.Bucket, "Prefix": s.Prefix})
		}
	}()
	return out
}

// ListPrefix returns the keys in this store that begin with the given
// prefix. The store's Prefix is prepended first.
func (s *S3) ListPrefix(prefix string) ([]string, error) {
	var result []string
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.Bucket),
		Prefix: aws.String(s.Prefix + prefix),
	}
	err := s.svc.ListObjectsV2Pages(input,
		func(page *s3.ListObjectsV2Output, lastpage bool) bool {
			for _, item := range page.Contents {
				result = append(result, strings.TrimPrefix(*item.Key, s.Prefix))
			}
			return !lastpage
		})
	if err != nil {
		log.Println("S3 ListPrefix:", s.Prefix, prefix, err)
		raven.CaptureError(err, map[string]string{"Bucket": s.Bucket, "Prefix": s.Prefix, "Pattern": prefix})
	}
	return result, err
}

// Open returns a ReadAtCloser for the given key. Data is paged in from S3
// as needed, with a handful of recently used pages kept in memory, so a
// sequential copy of a large artifact does not buffer the whole object.
func (s *S3) Open(key string) (ReadAtCloser, int64, error) {
	size, err := s.stat(key)
	if err != nil {
		return nil, 0, err
	}
	result := &s3ReadAtCloser{
		svc:    s.svc,
		bucket: s.Bucket,
		key:    s.Prefix + key,
		size:   size,
	}
	return result, size, nil
}

// stat returns the size of the given key, going to the network only when
// the size cache has no answer.
func (s *S3) stat(key string) (int64, error) {
	return s.sizes.Get(key, s.stat0)
}

// stat0 implements the actual HEAD request to S3.
func (s *S3) stat0(key string) (int64, error) {
	input := &s3.HeadObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(s.Prefix + key),
	}
	info, err := s.svc.HeadObject(input)
	if err != nil {
		if e, ok := err.(awserr.RequestFailure); ok && e.StatusCode() == http.StatusNotFound {
			return sizeMissing, ErrNotExist
		}
		return 0, err
	}
	return *info.ContentLength, nil
}

// s3ReadAtCloser adapts S3 range requests to the io.ReaderAt interface. It
// keeps a small MRU list of downloaded pages. Pages start at multiples of
// the page size, so pages in memory are disjoint.
//
// It is not safe to access this from more than one goroutine.
type s3ReadAtCloser struct {
	svc    *s3.S3
	bucket string
	key    string
	pages  []s3Page
	size   int64
}

type s3Page struct {
	data   []byte
	offset int64
}

// ReadAt implements the io.ReaderAt interface.
func (rac *s3ReadAtCloser) ReadAt(p []byte, offset int64) (int, error) {
	var err error
	startOffset := offset
	for len(p) > 0 {
		if offset >= rac.size {
			break
		}
		var page s3Page
		page, err = rac.getpage(offset)
		if err != nil {
			// don't return yet, some data may have been copied in a
			// previous loop
			break
		}
		n := copy(p, page.data[offset-page.offset:])
		p = p[n:]
		offset += int64(n)
	}
	// If data was copied and we have an EOF, don't return the EOF yet.
	// Conversely if nothing was copied and there is no error, we reached
	// the end.
	if err == io.EOF && startOffset != offset {
		err = nil
	} else if err == nil && startOffset == offset {
		err = io.EOF
	}
	return int(offset - startOffset), err
}

// the number of pages kept per open reader before evicting the LRU one.
const defaultNumPages = 5

// getpage finds in memory or loads the page covering the given offset.
func (rac *s3ReadAtCloser) getpage(offset int64) (s3Page, error) {
	i := rac.findpage(offset)
	if i == -1 {
		page, err := rac.loadpage(offset)
		if err != nil {
			return s3Page{}, err
		}
		if len(rac.pages) < defaultNumPages {
			rac.pages = append(rac.pages, page)
		}
		i = len(rac.pages) - 1
		rac.pages[i] = page
	}
	page := rac.pages[i]
	if i > 0 {
		// move page to the front of the cache
		copy(rac.pages[1:], rac.pages[:i])
		rac.pages[0] = page
	}
	return page, nil
}

func (rac *s3ReadAtCloser) findpage(offset int64) int {
	for i, page := range rac.pages {
		base := page.offset
		limit := base + int64(len(page.data))
		if base <= offset && offset < limit {
			return i
		}
	}
	return -1
}

const defaultPageSize = 10 * 1024 * 1024 // 10 MiB

// loadpage reads one page from S3. The starting offset is rounded down to a
// multiple of the page size; less than a full page may come back at the end
// of the object.
func (rac *s3ReadAtCloser) loadpage(offset int64) (s3Page, error) {
	startpos := (offset / defaultPageSize) * defaultPageSize
	endpos := startpos + defaultPageSize
	input := &s3.GetObjectInput{
		Bucket: aws.String(rac.bucket),
		Key:    aws.String(rac.key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", startpos, endpos-1)),
	}
	output, err := rac.svc.GetObject(input)
	if err != nil {
		log.Println("S3 loadpage:", rac.key, offset, err)
		// an invalid range error means we have gone past the end
		e, ok := err.(awserr.RequestFailure)
		if ok && e.StatusCode() == http.StatusRequestedRangeNotSatisfiable {
			err = io.EOF
		}
		return s3Page{}, err
	}
	data := &bytes.Buffer{}
	n, err := io.Copy(data, output.Body)
	output.Body.Close()
	if n == 0 && err == nil {
		// nothing was transferred and there was no error...?
		err = io.EOF
	}
	return s3Page{data: data.Bytes(), offset: startpos}, err
}

// Close this reader. The connection pool belongs to the shared service
// client, so there is nothing to release here.
func (rac *s3ReadAtCloser) Close() error {
	return nil
}

// A sizecache remembers the size or absence of remote objects so that
// repeated Opens of the same key do not repeat HEAD requests. The size is
// either a positive int64, 0 = unknown, or negative = key does not exist.
// Entries expire, with misses expiring sooner than hits.
type sizecache struct {
	m         sync.RWMutex
	cache     map[string]head
	sweeptime time.Time
}

type head struct {
	expire time.Time
	size   int64
}

const (
	sizeMissing int64 = -1

	missTTL = 1 * time.Hour
	hitTTL  = 240 * time.Hour
)

func newSizeCache() *sizecache {
	return &sizecache{cache: make(map[string]head)}
}

// Get returns the size associated with key, calling fill on a cache miss.
// Keys recorded as absent return ErrNotExist without going to the network.
func (s *sizecache) Get(key string, fill func(key string) (int64, error)) (int64, error) {
	s.m.Lock()
	defer s.m.Unlock()
	if time.Now().After(s.sweeptime) {
		go s.age()
	}
	entry := s.cache[key]
	if entry.size > 0 {
		return entry.size, nil
	}
	if entry.size < 0 {
		return 0, ErrNotExist
	}
	size, err := fill(key)
	s.set0(key, size)
	return size, err
}

func (s *sizecache) set0(key string, size int64) {
	ttl := hitTTL
	switch {
	case size < 0:
		ttl = missTTL
	case size == 0:
		ttl = 0
	}
	s.cache[key] = head{expire: time.Now().Add(ttl), size: size}
}

// age removes expired entries. It holds the lock the whole time.
func (s *sizecache) age() {
	s.m.Lock()
	defer s.m.Unlock()
	now := time.Now()
	s.sweeptime = now.Add(time.Hour)
	for k, v := range s.cache {
		if now.After(v.expire) {
			delete(s.cache, k)
		}
	}
}
