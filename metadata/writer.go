package metadata

import (
	"crypto/sha1"
	"encoding/binary"

	"github.com/ant04x/wimlib/internal/werrors"
	"github.com/ant04x/wimlib/secdesc"
	"github.com/ant04x/wimlib/wimimage"
)

// WriteResult is the buffer handed off to the external
// compressed-resource writer, plus its hash.
type WriteResult struct {
	Bytes []byte
	Hash  [20]byte
}

// WriteMetadataResource serializes img into the on-wire metadata
// resource format.
func WriteMetadataResource(img *wimimage.Image) (*WriteResult, error) {
	root := img.Root

	// Step 1: select image, synthesizing a filler root if none exists.
	if root == nil {
		filler := &wimimage.Inode{SecurityID: wimimage.NoSecurityID, Attributes: wimimage.FileAttributeDirectory}
		root = wimimage.NewRootDentry(filler)
	}

	// Step 2: recalculate security length.
	secSet := secdesc.FromDescriptors(img.SecurityDescriptors)
	secTotalLen := int(secSet.TotalLength())

	w := &offsetAssigner{offsets: make(map[*wimimage.Dentry]int)}

	rootMainLen := w.recordLength(root)
	rootTotalLen := rootMainLen + w.altStreamsLength(root)

	// Step 3: compute first child offset.
	firstChildOffset := secTotalLen + rootTotalLen + 8

	// Step 4: assign offsets, pre-order.
	finalCursor := w.assign(root, firstChildOffset)

	// Step 5: allocate buffer.
	buf := make([]byte, finalCursor)

	// Step 6: serialize.
	if err := secSet.Serialize(&sliceWriter{buf: buf}); err != nil {
		return nil, err
	}
	rootEnd := w.writeDentry(buf, secTotalLen, root)
	binary.LittleEndian.PutUint64(buf[rootEnd:rootEnd+8], 0)

	if off, ok := w.offsets[root]; ok && off != 0 {
		w.writeBlock(buf, off, root.Children)
	}

	if rootEnd+8 != firstChildOffset {
		return nil, werrors.WithOffset(werrors.InvalidParam, rootEnd+8, nil)
	}

	return &WriteResult{Bytes: buf, Hash: sha1.Sum(buf)}, nil
}

// offsetAssigner implements the two-pass pre-order layout algorithm: a
// first walk reserves every directory's child block and the exact
// final buffer size, a second walk (writeDentry/writeBlock) mirrors
// the same traversal order to serialize into it.
type offsetAssigner struct {
	offsets map[*wimimage.Dentry]int
}

// assign walks root pre-order, assigning every directory's
// subdir_offset and returning the final cursor value, which equals the
// total buffer size required.
func (w *offsetAssigner) assign(root *wimimage.Dentry, start int) int {
	cursor := start
	var visit func(d *wimimage.Dentry)
	visit = func(d *wimimage.Dentry) {
		if d.Inode == nil || !d.Inode.IsDirectory() || len(d.Children) == 0 {
			return
		}
		blockStart := cursor
		sum := 0
		for _, c := range d.Children {
			sum += w.recordLength(c) + w.altStreamsLength(c)
		}
		cursor = blockStart + sum + 8
		w.offsets[d] = blockStart
		for _, c := range d.Children {
			visit(c)
		}
	}
	visit(root)
	return cursor
}

// recordLength returns a dentry's fixed header plus its name fields,
// aligned to 8 bytes (its "main" record, before alternate streams).
func (w *offsetAssigner) recordLength(d *wimimage.Dentry) int {
	fileNameBytes, _ := encodeUTF16LE(d.LongName)
	shortNameBytes, _ := encodeUTF16LE(d.ShortName)
	n := dentryHeaderSize + len(fileNameBytes) + 2 + len(shortNameBytes) + 2
	return align8(n)
}

// altStreamsLength returns the total serialized size of d's alternate
// streams (every stream except the unnamed default data/reparse
// stream, whose hash lives in the dentry header itself).
func (w *offsetAssigner) altStreamsLength(d *wimimage.Dentry) int {
	total := 0
	for _, s := range altStreams(d) {
		nameBytes, _ := encodeUTF16LE(s.Name)
		total += align8(altStreamEntryHeaderSize + len(nameBytes) + 2)
	}
	return total
}

// altStreams returns the inode's streams that are serialized as
// alternate-stream entries: every named data stream. The unnamed data
// stream (or, for a reparse point, its single reparse stream) is
// represented inline via the dentry header's hash field instead.
func altStreams(d *wimimage.Dentry) []wimimage.Stream {
	if d.Inode == nil {
		return nil
	}
	var out []wimimage.Stream
	for _, s := range d.Inode.Streams {
		if s.Type == wimimage.StreamData && s.Name != "" {
			out = append(out, s)
		}
	}
	return out
}

// unnamedStreamHash returns the hash to store in the dentry header's
// unnamed_stream_hash field: the reparse stream's hash for a reparse
// point, otherwise the default data stream's hash.
func unnamedStreamHash(d *wimimage.Dentry) [20]byte {
	if d.Inode == nil {
		return [20]byte{}
	}
	if d.Inode.IsReparsePoint() {
		for _, s := range d.Inode.Streams {
			if s.Type == wimimage.StreamReparsePoint {
				return s.Hash
			}
		}
		return [20]byte{}
	}
	if s := d.Inode.UnnamedStream(); s != nil {
		return s.Hash
	}
	return [20]byte{}
}

// writeDentry serializes d's header, names and alternate streams at
// off, returning the offset immediately after (where a sibling, if
// any, begins).
func (w *offsetAssigner) writeDentry(buf []byte, off int, d *wimimage.Dentry) int {
	fileNameBytes, _ := encodeUTF16LE(d.LongName)
	shortNameBytes, _ := encodeUTF16LE(d.ShortName)
	mainLen := align8(dentryHeaderSize + len(fileNameBytes) + 2 + len(shortNameBytes) + 2)

	hdr := dentryHeader{
		Length:              uint64(mainLen),
		UnnamedStreamHash:   unnamedStreamHash(d),
		NumAlternateStreams: uint16(len(altStreams(d))),
		ShortNameNBytes:     uint16(len(shortNameBytes)),
		FileNameNBytes:      uint16(len(fileNameBytes)),
	}
	if d.Inode != nil {
		hdr.Attributes = d.Inode.Attributes
		hdr.SecurityID = d.Inode.SecurityID
		hdr.CreationTime = d.Inode.CreationTime
		hdr.LastAccessTime = d.Inode.LastAccessTime
		hdr.LastWriteTime = d.Inode.LastWriteTime
		hdr.HardLinkGroupID = d.Inode.Number
		if d.Inode.IsReparsePoint() {
			hdr.ReparseTagOrLinkGroupLow = d.Inode.ReparseTag
			hdr.ReparseFlags = d.Inode.ReparseFlags
		}
	}
	if off2, ok := w.offsets[d]; ok {
		hdr.SubdirOffset = uint64(off2)
	}

	copy(buf[off:off+dentryHeaderSize], hdr.marshal())
	pos := off + dentryHeaderSize
	pos += copy(buf[pos:], fileNameBytes)
	pos += 2 // u16 0 terminator
	pos += copy(buf[pos:], shortNameBytes)
	pos += 2 // u16 0 terminator

	mainEnd := off + mainLen
	for i := pos; i < mainEnd; i++ {
		buf[i] = 0
	}

	altPos := mainEnd
	for _, s := range altStreams(d) {
		nameBytes, _ := encodeUTF16LE(s.Name)
		recLen := align8(altStreamEntryHeaderSize + len(nameBytes) + 2)
		ah := altStreamHeader{RecordLength: uint64(recLen), Hash: s.Hash, NameNBytes: uint16(len(nameBytes))}
		copy(buf[altPos:altPos+altStreamEntryHeaderSize], ah.marshal())
		p := altPos + altStreamEntryHeaderSize
		p += copy(buf[p:], nameBytes)
		p += 2
		for i := p; i < altPos+recLen; i++ {
			buf[i] = 0
		}
		altPos += recLen
	}

	return altPos
}

// writeBlock writes children's records and streams starting at off,
// followed by the 8-byte end-of-directory sentinel, then recurses into
// every child directory's own reserved block.
func (w *offsetAssigner) writeBlock(buf []byte, off int, children []*wimimage.Dentry) {
	pos := off
	for _, c := range children {
		pos = w.writeDentry(buf, pos, c)
	}
	binary.LittleEndian.PutUint64(buf[pos:pos+8], 0)

	for _, c := range children {
		if childOff, ok := w.offsets[c]; ok && childOff != 0 {
			w.writeBlock(buf, childOff, c.Children)
		}
	}
}

// sliceWriter implements io.Writer over a fixed-size buffer slice,
// used so secdesc.Set.Serialize can write directly into the
// pre-allocated metadata resource buffer instead of a bytes.Buffer
// that would need copying afterward.
type sliceWriter struct {
	buf []byte
	pos int
}

func (w *sliceWriter) Write(p []byte) (int, error) {
	n := copy(w.buf[w.pos:], p)
	w.pos += n
	return n, nil
}
