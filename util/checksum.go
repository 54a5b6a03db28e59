// Package util holds small helpers shared by the cache layers: checksum
// plumbing and a concurrency gate.
package util

import (
	"crypto/md5"
	"encoding/hex"
	"hash"
	"io"
)

// An MD5Writer wraps an io.Writer and computes the MD5 digest of the bytes
// written through it. Release manifests record artifact digests as hex MD5
// strings, so the digest is exposed in that form.
type MD5Writer struct {
	io.Writer
	h hash.Hash
}

// NewMD5Writer returns an MD5Writer wrapping w.
func NewMD5Writer(w io.Writer) *MD5Writer {
	h := md5.New()
	return &MD5Writer{Writer: io.MultiWriter(w, h), h: h}
}

// SumHex returns the hex encoded digest of everything written so far.
func (w *MD5Writer) SumHex() string {
	return hex.EncodeToString(w.h.Sum(nil))
}

// Check compares the digest against goal. An empty goal is treated as
// matching, for manifests that do not record a digest.
func (w *MD5Writer) Check(goal string) bool {
	return goal == "" || goal == w.SumHex()
}

// VerifyReaderMD5 checksums the reader and compares against the hex goal.
// An empty goal matches without reading. The reader is not closed.
func VerifyReaderMD5(r io.Reader, goal string) (bool, error) {
	if goal == "" {
		return true, nil
	}
	h := md5.New()
	if _, err := io.Copy(h, r); err != nil {
		return false, err
	}
	return goal == hex.EncodeToString(h.Sum(nil)), nil
}
