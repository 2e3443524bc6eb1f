// Package secdesc implements the deduplicating table of raw Windows
// SECURITY_DESCRIPTOR byte blobs shared by every inode in a capture.
// Content addressing mirrors the length+hash index pattern used
// elsewhere in the wider WIM system's blob table, here scoped down to
// the in-memory security-data block alone.
package secdesc

import (
	"crypto/sha1"
	"encoding/binary"
	"io"

	"github.com/ant04x/wimlib/wimimage"
)

type key struct {
	length int
	hash   [sha1.Size]byte
}

// Set is an append-only, deduplicating table of security descriptors.
// The zero value is ready to use.
type Set struct {
	descriptors [][]byte
	index       map[key][]int // hash bucket -> candidate IDs, for collision tie-breaks
}

// Add inserts bytes, returning its stable ID. A byte-identical
// descriptor already in the set returns the existing ID instead of
// growing the table.
func (s *Set) Add(bytes []byte) int {
	if s.index == nil {
		s.index = make(map[key][]int)
	}

	k := key{length: len(bytes), hash: sha1.Sum(bytes)}
	for _, id := range s.index[k] {
		if bytesEqual(s.descriptors[id], bytes) {
			return id
		}
	}

	id := len(s.descriptors)
	cp := append([]byte(nil), bytes...)
	s.descriptors = append(s.descriptors, cp)
	s.index[k] = append(s.index[k], id)
	return id
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Len returns the number of distinct descriptors in the set.
func (s *Set) Len() int { return len(s.descriptors) }

// Get returns the descriptor bytes for id, or nil if out of range.
func (s *Set) Get(id int) []byte {
	if id < 0 || id >= len(s.descriptors) {
		return nil
	}
	return s.descriptors[id]
}

// Descriptors returns every descriptor in insertion (ID) order, for
// code that wants to rebuild a wimimage.Image's SecurityDescriptors
// slice directly.
func (s *Set) Descriptors() [][]byte {
	return s.descriptors
}

// FromDescriptors rebuilds a Set from an ordered descriptor list, the
// shape the metadata reader produces when it parses a security block:
// IDs are preserved as slice indices.
func FromDescriptors(descs [][]byte) *Set {
	s := &Set{index: make(map[key][]int)}
	for _, d := range descs {
		id := len(s.descriptors)
		s.descriptors = append(s.descriptors, d)
		k := key{length: len(d), hash: sha1.Sum(d)}
		s.index[k] = append(s.index[k], id)
	}
	return s
}

// TotalLength returns the serialized security-data block length,
// including the 8-byte header and the u64 size table, rounded up to an
// 8-byte multiple.
func (s *Set) TotalLength() int64 {
	n := int64(8) + 8*int64(len(s.descriptors))
	for _, d := range s.descriptors {
		n += int64(len(d))
	}
	return align8(n)
}

func align8(n int64) int64 {
	return (n + 7) &^ 7
}

// Serialize writes the on-wire security block: total_length,
// num_entries, the per-descriptor size table, the concatenated
// descriptor bytes, then zero padding out to the 8-byte boundary.
func (s *Set) Serialize(w io.Writer) error {
	total := s.TotalLength()

	var hdr [8]byte
	binary.LittleEndian.PutUint32(hdr[0:4], uint32(total))
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(len(s.descriptors)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}

	sizeBuf := make([]byte, 8*len(s.descriptors))
	for i, d := range s.descriptors {
		binary.LittleEndian.PutUint64(sizeBuf[i*8:i*8+8], uint64(len(d)))
	}
	if _, err := w.Write(sizeBuf); err != nil {
		return err
	}

	written := int64(8 + len(sizeBuf))
	for _, d := range s.descriptors {
		if _, err := w.Write(d); err != nil {
			return err
		}
		written += int64(len(d))
	}

	if pad := total - written; pad > 0 {
		if _, err := w.Write(make([]byte, pad)); err != nil {
			return err
		}
	}
	return nil
}

// ValidateInodes checks that every inode's SecurityID is either
// wimimage.NoSecurityID or indexes a descriptor in s.
func ValidateInodes(s *Set, inodes []*wimimage.Inode) error {
	for _, n := range inodes {
		if n.SecurityID == wimimage.NoSecurityID {
			continue
		}
		if n.SecurityID < 0 || int(n.SecurityID) >= s.Len() {
			return errInvalidSecurityID(n.SecurityID)
		}
	}
	return nil
}
