package store

import "testing"

func TestPrefixStore(t *testing.T) {
	mem := NewMemory()
	for _, key := range []string{
		"vb/manifests/m1.json",
		"vb/data/1.nwb",
		"other/manifests/m9.json",
	} {
		w, _ := mem.Create(key)
		w.Write([]byte(key))
		w.Close()
	}

	ps := NewWithPrefix(mem, "vb/")

	keys, err := ps.ListPrefix("manifests/")
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 1 || keys[0] != "manifests/m1.json" {
		t.Errorf("ListPrefix = %v", keys)
	}

	var all []string
	for key := range ps.List() {
		all = append(all, key)
	}
	if len(all) != 2 {
		t.Errorf("List = %v", all)
	}

	rac, size, err := ps.Open("data/1.nwb")
	if err != nil {
		t.Fatalf("Open: %s", err)
	}
	defer rac.Close()
	if size != int64(len("vb/data/1.nwb")) {
		t.Errorf("size = %d", size)
	}

	if _, _, err = ps.Open("manifests/m9.json"); !IsNotExist(err) {
		t.Errorf("Open outside prefix: got %v, expected a miss", err)
	}
}
