package metadata

import "encoding/binary"

// dentryHeader is the fixed 108-byte portion of one on-wire dentry
// record, in wire field order.
type dentryHeader struct {
	Length       uint64
	Attributes   uint32
	SecurityID   int32
	SubdirOffset uint64
	Reserved     [2]uint64

	CreationTime   uint64
	LastAccessTime uint64
	LastWriteTime  uint64

	UnnamedStreamHash [20]byte

	ReparseFlags             uint32
	ReparseTagOrLinkGroupLow uint32
	HardLinkGroupID          uint64

	NumAlternateStreams uint16
	ShortNameNBytes     uint16
	FileNameNBytes      uint16
	Reserved2           uint16
}

func parseDentryHeader(b []byte) dentryHeader {
	_ = b[dentryHeaderSize-1] // bounds check hint, like encoding/binary's own helpers
	le := binary.LittleEndian

	var h dentryHeader
	h.Length = le.Uint64(b[0:8])
	h.Attributes = le.Uint32(b[8:12])
	h.SecurityID = int32(le.Uint32(b[12:16]))
	h.SubdirOffset = le.Uint64(b[16:24])
	h.Reserved[0] = le.Uint64(b[24:32])
	h.Reserved[1] = le.Uint64(b[32:40])
	h.CreationTime = le.Uint64(b[40:48])
	h.LastAccessTime = le.Uint64(b[48:56])
	h.LastWriteTime = le.Uint64(b[56:64])
	copy(h.UnnamedStreamHash[:], b[64:84])
	h.ReparseFlags = le.Uint32(b[84:88])
	h.ReparseTagOrLinkGroupLow = le.Uint32(b[88:92])
	h.HardLinkGroupID = le.Uint64(b[92:100])
	h.NumAlternateStreams = le.Uint16(b[100:102])
	h.ShortNameNBytes = le.Uint16(b[102:104])
	h.FileNameNBytes = le.Uint16(b[104:106])
	h.Reserved2 = le.Uint16(b[106:108])
	return h
}

func (h dentryHeader) marshal() []byte {
	b := make([]byte, dentryHeaderSize)
	le := binary.LittleEndian

	le.PutUint64(b[0:8], h.Length)
	le.PutUint32(b[8:12], h.Attributes)
	le.PutUint32(b[12:16], uint32(h.SecurityID))
	le.PutUint64(b[16:24], h.SubdirOffset)
	le.PutUint64(b[24:32], h.Reserved[0])
	le.PutUint64(b[32:40], h.Reserved[1])
	le.PutUint64(b[40:48], h.CreationTime)
	le.PutUint64(b[48:56], h.LastAccessTime)
	le.PutUint64(b[56:64], h.LastWriteTime)
	copy(b[64:84], h.UnnamedStreamHash[:])
	le.PutUint32(b[84:88], h.ReparseFlags)
	le.PutUint32(b[88:92], h.ReparseTagOrLinkGroupLow)
	le.PutUint64(b[92:100], h.HardLinkGroupID)
	le.PutUint16(b[100:102], h.NumAlternateStreams)
	le.PutUint16(b[102:104], h.ShortNameNBytes)
	le.PutUint16(b[104:106], h.FileNameNBytes)
	le.PutUint16(b[106:108], h.Reserved2)
	return b
}

// altStreamHeader is the fixed portion of one alternate-stream entry;
// these follow a dentry's main record, each one length-prefixed.
type altStreamHeader struct {
	// RecordLength is this entry's total on-wire size, header + name +
	// padding, the way a dentry's own Length field works.
	RecordLength uint64
	Hash         [20]byte
	NameNBytes   uint16
	Reserved     uint16
}

func parseAltStreamHeader(b []byte) altStreamHeader {
	_ = b[altStreamEntryHeaderSize-1]
	le := binary.LittleEndian

	var h altStreamHeader
	h.RecordLength = le.Uint64(b[0:8])
	copy(h.Hash[:], b[8:28])
	h.NameNBytes = le.Uint16(b[28:30])
	h.Reserved = le.Uint16(b[30:32])
	return h
}

func (h altStreamHeader) marshal() []byte {
	b := make([]byte, altStreamEntryHeaderSize)
	le := binary.LittleEndian

	le.PutUint64(b[0:8], h.RecordLength)
	copy(b[8:28], h.Hash[:])
	le.PutUint16(b[28:30], h.NameNBytes)
	le.PutUint16(b[30:32], h.Reserved)
	return b
}
