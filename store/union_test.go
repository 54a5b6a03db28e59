package store

import (
	"io/ioutil"
	"sort"
	"testing"
)

func put(t *testing.T, s Store, key, contents string) {
	t.Helper()
	w, err := s.Create(key)
	if err != nil {
		t.Fatal(key, err)
	}
	w.Write([]byte(contents))
	w.Close()
}

func TestUnionOpen(t *testing.T) {
	mirror := NewMemory()
	remote := NewMemory()
	put(t, mirror, "data/1.nwb", "local copy")
	put(t, remote, "data/1.nwb", "remote copy")
	put(t, remote, "data/2.nwb", "remote only")

	u := NewUnion(mirror, remote)

	// the mirror's copy shadows the remote one
	rac, _, err := u.Open("data/1.nwb")
	if err != nil {
		t.Fatal(err)
	}
	b, _ := ioutil.ReadAll(NewReader(rac))
	rac.Close()
	if string(b) != "local copy" {
		t.Errorf("read %q, expected the mirror's copy", b)
	}

	// misses in the mirror fall through
	rac, _, err = u.Open("data/2.nwb")
	if err != nil {
		t.Fatal(err)
	}
	b, _ = ioutil.ReadAll(NewReader(rac))
	rac.Close()
	if string(b) != "remote only" {
		t.Errorf("read %q", b)
	}

	if _, _, err = u.Open("data/3.nwb"); !IsNotExist(err) {
		t.Errorf("got %v, expected a miss", err)
	}
}

func TestUnionList(t *testing.T) {
	mirror := NewMemory()
	remote := NewMemory()
	put(t, mirror, "data/1.nwb", "x")
	put(t, remote, "data/1.nwb", "x")
	put(t, remote, "data/2.nwb", "x")

	u := NewUnion(mirror, remote)

	var listed []string
	for key := range u.List() {
		listed = append(listed, key)
	}
	sort.Strings(listed)
	if len(listed) != 2 || listed[0] != "data/1.nwb" || listed[1] != "data/2.nwb" {
		t.Errorf("List = %v", listed)
	}

	keys, err := u.ListPrefix("data/")
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 2 {
		t.Errorf("ListPrefix = %v", keys)
	}
}
