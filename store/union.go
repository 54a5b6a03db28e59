package store

// Union is a read-only store layering a partial local mirror over the full
// remote release. Reads try the mirror first and fall back to the remote
// store, so a lab with a shared `aws s3 sync` mirror of the large artifacts
// only goes to the network for objects the mirror is missing. Listings
// combine both stores with duplicates removed.
type Union struct {
	mirror ROStore // consulted first
	remote ROStore
}

var _ ROStore = &Union{}

// NewUnion layers mirror over remote.
func NewUnion(mirror, remote ROStore) *Union {
	return &Union{mirror: mirror, remote: remote}
}

// List enumerates the keys in both stores, each key reported once.
func (u *Union) List() <-chan string {
	out := make(chan string)
	go mergechan(out, u.mirror.List(), u.remote.List())
	return out
}

// ListPrefix returns the deduplicated keys with the given prefix from both
// stores.
func (u *Union) ListPrefix(prefix string) ([]string, error) {
	a, err := u.mirror.ListPrefix(prefix)
	if err != nil {
		return nil, err
	}
	b, err := u.remote.ListPrefix(prefix)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(a))
	result := make([]string, 0, len(a)+len(b))
	for _, lst := range [][]string{a, b} {
		for _, key := range lst {
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			result = append(result, key)
		}
	}
	return result, nil
}

// Open returns the mirror's copy when present, otherwise the remote one.
func (u *Union) Open(key string) (ReadAtCloser, int64, error) {
	rac, n, err := u.mirror.Open(key)
	if err == nil {
		return rac, n, nil
	}
	if !IsNotExist(err) {
		return nil, 0, err
	}
	return u.remote.Open(key)
}

// mergechan merges in1 and in2 into c, removing duplicates. Closes c when
// both inputs are closed.
func mergechan(c chan<- string, in1, in2 <-chan string) {
	dedup := make(map[string]struct{})
	for in1 != nil || in2 != nil {
		var n string
		var ok bool
		select {
		case n, ok = <-in1:
			if !ok {
				in1 = nil
				continue
			}
		case n, ok = <-in2:
			if !ok {
				in2 = nil
				continue
			}
		}
		if _, ok = dedup[n]; !ok {
			dedup[n] = struct{}{}
			c <- n
		}
	}
	close(c)
}
