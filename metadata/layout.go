// Package metadata implements the metadata resource codec: the binary
// format a WIM image stores its security-descriptor table and
// directory-entry tree in.
package metadata

import (
	"golang.org/x/text/encoding/unicode"
)

// dentryHeaderSize is the fixed portion of a dentry record before its
// variable-length name fields: the sum of the fixed-width fields
// (length, attributes, security_id, subdir_offset, two reserved u64s,
// three timestamps, a 20-byte hash, the reparse/link-group fields and
// the three nbytes counters plus one reserved u16) is 108 bytes, not
// the 102 the prose elsewhere rounds to; this is the size the reader
// and writer actually agree on, so it is the one that matters for the
// round-trip law.
const dentryHeaderSize = 108

// securityBlockHeaderSize is the fixed u32+u32 header preceding a
// security block's size table.
const securityBlockHeaderSize = 8

// noSecurityID is the on-wire sentinel for "no security descriptor",
// stored as a signed 32-bit -1.
const noSecurityID = -1

// altStreamEntryHeaderSize is the fixed portion of one alternate-stream
// entry before its name: u64 length, u8 hash[20], u16 name_nbytes,
// u16 reserved.
const altStreamEntryHeaderSize = 8 + 20 + 2 + 2

var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// encodeUTF16LE transcodes s to raw UTF-16LE bytes, without a
// terminating NUL (callers append the required u16 0 themselves, since
// some wire fields' nbytes count excludes it and others don't).
func encodeUTF16LE(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	return utf16le.NewEncoder().Bytes([]byte(s))
}

// decodeUTF16LE transcodes raw UTF-16LE bytes (no terminating NUL) back
// to a Go string.
func decodeUTF16LE(b []byte) (string, error) {
	if len(b) == 0 {
		return "", nil
	}
	out, err := utf16le.NewDecoder().Bytes(b)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func align8(n int) int {
	return (n + 7) &^ 7
}
