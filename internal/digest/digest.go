// Package digest computes the fingerprints used to detect changes in the
// data tracked for repositories and issues.
//
// Values are serialized with a canonical, length-prefixed binary encoding
// before being hashed with SHA-256:
//
//   - optional values start with a presence byte (0 absent, 1 present)
//   - strings are a big-endian uint64 byte length followed by the bytes
//   - lists are a big-endian uint64 element count followed by the elements
//   - integers are big-endian int64
//
// A nil list is absent and an empty list is present, so they never produce
// the same digest.
package digest

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

// ErrSerialization is returned when the fields could not be serialized.
var ErrSerialization = errors.New("serialization failed")

// Repository returns the digest of a repository's topics, languages and
// stars.
func Repository(topics, languages []string, stars *int) (string, error) {
	return compute(func(e *encoder) {
		e.optionalStrings(topics)
		e.optionalStrings(languages)
		if stars == nil {
			e.absent()
		} else {
			e.present()
			e.int(int64(*stars))
		}
	})
}

// Issue returns the digest of an issue's title and labels.
func Issue(title string, labels []string) (string, error) {
	return compute(func(e *encoder) {
		e.string(title)
		e.strings(labels)
	})
}

func compute(encode func(*encoder)) (string, error) {
	h := sha256.New()
	e := &encoder{w: h}
	encode(e)
	if e.err != nil {
		return "", fmt.Errorf("%w: %v", ErrSerialization, e.err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// encoder writes the canonical encoding, keeping the first write error.
type encoder struct {
	w   io.Writer
	err error
	buf [8]byte
}

func (e *encoder) write(p []byte) {
	if e.err != nil {
		return
	}
	_, e.err = e.w.Write(p)
}

func (e *encoder) absent()  { e.write([]byte{0}) }
func (e *encoder) present() { e.write([]byte{1}) }

func (e *encoder) uint(v uint64) {
	binary.BigEndian.PutUint64(e.buf[:], v)
	e.write(e.buf[:])
}

func (e *encoder) int(v int64) {
	e.uint(uint64(v))
}

func (e *encoder) string(s string) {
	e.uint(uint64(len(s)))
	e.write([]byte(s))
}

func (e *encoder) strings(ss []string) {
	e.uint(uint64(len(ss)))
	for _, s := range ss {
		e.string(s)
	}
}

func (e *encoder) optionalStrings(ss []string) {
	if ss == nil {
		e.absent()
		return
	}
	e.present()
	e.strings(ss)
}
