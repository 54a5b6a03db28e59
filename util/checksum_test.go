package util

import (
	"bytes"
	"io/ioutil"
	"strings"
	"testing"
)

// md5("hello world")
const helloMD5 = "5eb63bbbe01eeed093cb22bb8f5acdc3"

func TestMD5Writer(t *testing.T) {
	var buf bytes.Buffer
	w := NewMD5Writer(&buf)
	w.Write([]byte("hello "))
	w.Write([]byte("world"))
	if buf.String() != "hello world" {
		t.Errorf("wrote %q", buf.String())
	}
	if w.SumHex() != helloMD5 {
		t.Errorf("digest = %s", w.SumHex())
	}
	if !w.Check(helloMD5) {
		t.Error("Check rejected the correct digest")
	}
	if !w.Check("") {
		t.Error("Check rejected an empty goal")
	}
	if w.Check("00000000000000000000000000000000") {
		t.Error("Check accepted a wrong digest")
	}
}

func TestVerifyReaderMD5(t *testing.T) {
	ok, err := VerifyReaderMD5(strings.NewReader("hello world"), helloMD5)
	if err != nil || !ok {
		t.Errorf("ok=%v err=%v", ok, err)
	}
	ok, err = VerifyReaderMD5(strings.NewReader("hello world"), "beef")
	if err != nil || ok {
		t.Errorf("ok=%v err=%v for wrong digest", ok, err)
	}
	// empty goal must not consume the reader
	r := ioutil.NopCloser(strings.NewReader("data"))
	ok, err = VerifyReaderMD5(r, "")
	if err != nil || !ok {
		t.Errorf("ok=%v err=%v for empty goal", ok, err)
	}
}

func TestGate(t *testing.T) {
	g := NewGate(2)
	g.Enter()
	g.Enter()
	select {
	case g <- struct{}{}:
		t.Fatal("gate admitted a third entry")
	default:
	}
	g.Leave()
	g.Enter()
	g.Leave()
	g.Leave()
}
