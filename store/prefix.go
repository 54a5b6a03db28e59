package store

import "strings"

// NewWithPrefix wraps a ROStore with one prefixing every key. Release
// buckets hold several projects side by side, so the rest of obscache works
// against a store scoped to one project, e.g.
// NewWithPrefix(s3store, "visual-behavior-ophys/").
func NewWithPrefix(s ROStore, prefix string) ROStore {
	return prefixstore{s: s, p: prefix}
}

type prefixstore struct {
	s ROStore
	p string
}

func (ps prefixstore) List() <-chan string {
	out := make(chan string)
	in := ps.s.List()
	go func() {
		plen := len(ps.p)
		for key := range in {
			if strings.HasPrefix(key, ps.p) {
				out <- key[plen:]
			}
		}
		close(out)
	}()
	return out
}

func (ps prefixstore) ListPrefix(prefix string) ([]string, error) {
	plen := len(ps.p)
	var result []string
	keys, err := ps.s.ListPrefix(ps.p + prefix)
	for _, key := range keys {
		if strings.HasPrefix(key, ps.p) {
			result = append(result, key[plen:])
		}
	}
	return result, err
}

func (ps prefixstore) Open(key string) (ReadAtCloser, int64, error) {
	return ps.s.Open(ps.p + key)
}
