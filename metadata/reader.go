package metadata

import (
	"crypto/sha1"
	"encoding/binary"

	"github.com/ant04x/wimlib/internal/logger"
	"github.com/ant04x/wimlib/internal/werrors"
	"github.com/ant04x/wimlib/secdesc"
	"github.com/ant04x/wimlib/wimimage"
)

// dentryMinSize is the smallest possible on-wire dentry record: just
// the 8-byte length field, reading zero, terminating an empty sibling
// list.
const dentryMinSize = 8

// ReadOptions configures ReadMetadataResource.
type ReadOptions struct {
	// ExpectedHash is the SHA-1 the external resource entry recorded
	// for this buffer.
	ExpectedHash [20]byte
	// DontCheckHash skips the whole-buffer hash verification, e.g.
	// because the caller already validated it through the resource
	// layer that handed the buffer over.
	DontCheckHash bool
}

// pendingDentry carries the raw per-dentry fields read off the wire
// until step 8 (inode reconstruction) can group them by hard link
// group ID into shared wimimage.Inode objects.
type pendingDentry struct {
	dentry  *wimimage.Dentry
	groupID uint64
	attrs   uint32
	secID   int32
	ctime   uint64
	atime   uint64
	wtime   uint64
	isRP    bool
	rpTag   uint32
	rpFlags uint32
	streams []wimimage.Stream
}

type decoder struct {
	buf     []byte
	visited map[int]bool
	pending []pendingDentry
}

// ReadMetadataResource parses buf into a wimimage.Image. buf must
// already be decompressed by the external resource layer.
func ReadMetadataResource(buf []byte, opts ReadOptions) (*wimimage.Image, error) {
	// Step 1: length floor.
	if len(buf) < securityBlockHeaderSize+dentryMinSize {
		return nil, werrors.WithOffset(werrors.InvalidMetadataResource, 0, nil)
	}

	// Step 2: hash check.
	if !opts.DontCheckHash {
		got := sha1.Sum(buf)
		if got != opts.ExpectedHash {
			return nil, werrors.WithOffset(werrors.InvalidMetadataResource, 0, nil)
		}
	}

	// Step 3: security data.
	sdSet, secTotalLen, err := parseSecurityBlock(buf)
	if err != nil {
		return nil, err
	}

	if secTotalLen+dentryMinSize > len(buf) {
		return nil, werrors.WithOffset(werrors.InvalidMetadataResource, secTotalLen, nil)
	}

	// Step 4: root dentry. An all-zero length field means an empty image,
	// valid only if the terminator is the last thing in the buffer;
	// trailing bytes after it mean the buffer was truncated or padded
	// incorrectly rather than genuinely holding no root.
	if binary.LittleEndian.Uint64(buf[secTotalLen:secTotalLen+8]) == 0 {
		if secTotalLen+dentryMinSize != len(buf) {
			return nil, werrors.WithOffset(werrors.InvalidMetadataResource, secTotalLen, nil)
		}
		return &wimimage.Image{SecurityDescriptors: sdSet.Descriptors()}, nil
	}

	d := &decoder{buf: buf, visited: make(map[int]bool)}

	root, _, err := d.readOneDentry(secTotalLen)
	if err != nil {
		return nil, err
	}

	// Step 5: root sanity.
	if root.dentry.LongName != "" || root.dentry.ShortName != "" {
		logger.Warnf("metadata: root dentry carries a non-empty name, discarding it")
		root.dentry.LongName = ""
		root.dentry.ShortName = ""
	}
	if root.attrs&wimimage.FileAttributeDirectory == 0 {
		return nil, werrors.WithOffset(werrors.InvalidMetadataResource, secTotalLen, nil)
	}

	// Step 6: self-parent.
	root.dentry.Parent = root.dentry

	// Step 7 (recursive tree read) already happened inside
	// readOneDentry, which recurses into subdir_offset for every
	// directory it parses.

	// Step 8: inode reconstruction.
	inodes := d.buildInodes()

	// Step 9: verify security IDs.
	if err := secdesc.ValidateInodes(sdSet, inodes); err != nil {
		return nil, err
	}

	return &wimimage.Image{
		Root:                root.dentry,
		SecurityDescriptors: sdSet.Descriptors(),
		Inodes:              inodes,
	}, nil
}

// parseSecurityBlock decodes the leading security-data block and
// returns the reconstructed set plus the block's total length (the
// offset the root dentry starts at).
func parseSecurityBlock(buf []byte) (*secdesc.Set, int, error) {
	totalLength := int(binary.LittleEndian.Uint32(buf[0:4]))
	numEntries := int(binary.LittleEndian.Uint32(buf[4:8]))

	if totalLength == 0 {
		totalLength = 8
		numEntries = 0
	}
	if totalLength < 8 || totalLength > len(buf) {
		return nil, 0, werrors.WithOffset(werrors.InvalidMetadataResource, 0, nil)
	}

	sizesEnd := 8 + 8*numEntries
	if sizesEnd > totalLength {
		return nil, 0, werrors.WithOffset(werrors.InvalidMetadataResource, 8, nil)
	}

	sizes := make([]uint64, numEntries)
	for i := 0; i < numEntries; i++ {
		off := 8 + 8*i
		sizes[i] = binary.LittleEndian.Uint64(buf[off : off+8])
	}

	descs := make([][]byte, numEntries)
	pos := sizesEnd
	for i, sz := range sizes {
		end := pos + int(sz)
		if end > totalLength {
			return nil, 0, werrors.WithOffset(werrors.InvalidMetadataResource, pos, nil)
		}
		descs[i] = append([]byte(nil), buf[pos:end]...)
		pos = end
	}

	return secdesc.FromDescriptors(descs), totalLength, nil
}

// readOneDentry parses the dentry at off: its fixed header, its names,
// its alternate streams, and — if it is a directory with a nonzero
// subdir_offset — its children, recursively. It returns the parsed
// record and the absolute offset immediately after it (where a
// sibling, if any, begins).
func (d *decoder) readOneDentry(off int) (pendingDentry, int, error) {
	if off < 0 || off+8 > len(d.buf) {
		return pendingDentry{}, 0, werrors.WithOffset(werrors.InvalidMetadataResource, off, nil)
	}
	length := binary.LittleEndian.Uint64(d.buf[off : off+8])
	if length == 0 || off+dentryHeaderSize > len(d.buf) {
		return pendingDentry{}, 0, werrors.WithOffset(werrors.InvalidMetadataResource, off, nil)
	}
	if d.visited[off] {
		return pendingDentry{}, 0, werrors.WithOffset(werrors.InvalidMetadataResource, off, nil)
	}
	d.visited[off] = true

	hdr := parseDentryHeader(d.buf[off : off+dentryHeaderSize])

	pos := off + dentryHeaderSize
	fileName, pos, err := d.readName(pos, int(hdr.FileNameNBytes))
	if err != nil {
		return pendingDentry{}, 0, err
	}
	shortName, pos, err := d.readName(pos, int(hdr.ShortNameNBytes))
	if err != nil {
		return pendingDentry{}, 0, err
	}
	pos = alignAbs8(pos)

	mainEnd := off + int(hdr.Length)
	if mainEnd < pos || mainEnd > len(d.buf) {
		return pendingDentry{}, 0, werrors.WithOffset(werrors.InvalidMetadataResource, off, nil)
	}

	pend := pendingDentry{
		dentry:  &wimimage.Dentry{LongName: fileName, ShortName: shortName, IsWin32Name: shortName != ""},
		groupID: hdr.HardLinkGroupID,
		attrs:   hdr.Attributes,
		secID:   hdr.SecurityID,
		ctime:   hdr.CreationTime,
		atime:   hdr.LastAccessTime,
		wtime:   hdr.LastWriteTime,
		isRP:    hdr.Attributes&wimimage.FileAttributeReparsePoint != 0,
		rpTag:   hdr.ReparseTagOrLinkGroupLow,
		rpFlags: hdr.ReparseFlags,
	}

	if pend.isRP {
		pend.streams = append(pend.streams, wimimage.Stream{
			Type: wimimage.StreamReparsePoint, Hash: hdr.UnnamedStreamHash, HashSet: true,
		})
	} else if hdr.UnnamedStreamHash != ([20]byte{}) {
		pend.streams = append(pend.streams, wimimage.Stream{
			Type: wimimage.StreamData, Hash: hdr.UnnamedStreamHash, HashSet: true,
		})
	}

	altPos := mainEnd
	for i := 0; i < int(hdr.NumAlternateStreams); i++ {
		if altPos+altStreamEntryHeaderSize > len(d.buf) {
			return pendingDentry{}, 0, werrors.WithOffset(werrors.InvalidMetadataResource, altPos, nil)
		}
		ah := parseAltStreamHeader(d.buf[altPos : altPos+altStreamEntryHeaderSize])
		namePos := altPos + altStreamEntryHeaderSize
		name, _, err := d.readName(namePos, int(ah.NameNBytes))
		if err != nil {
			return pendingDentry{}, 0, err
		}
		pend.streams = append(pend.streams, wimimage.Stream{
			Type: wimimage.StreamData, Name: name, Hash: ah.Hash, HashSet: true,
		})

		if ah.RecordLength == 0 || altPos+int(ah.RecordLength) > len(d.buf) {
			return pendingDentry{}, 0, werrors.WithOffset(werrors.InvalidMetadataResource, altPos, nil)
		}
		altPos += int(ah.RecordLength)
	}

	if pend.attrs&wimimage.FileAttributeDirectory != 0 && hdr.SubdirOffset != 0 {
		children, err := d.readSiblings(int(hdr.SubdirOffset))
		if err != nil {
			return pendingDentry{}, 0, err
		}
		for _, c := range children {
			c.dentry.Parent = pend.dentry
			pend.dentry.Children = append(pend.dentry.Children, c.dentry)
		}
	}

	d.pending = append(d.pending, pend)
	return pend, altPos, nil
}

// readSiblings reads a sibling list starting at off, stopping at the
// end-of-directory sentinel (a dentry whose length field is 0).
func (d *decoder) readSiblings(off int) ([]pendingDentry, error) {
	var out []pendingDentry
	cur := off
	for {
		if cur < 0 || cur+8 > len(d.buf) {
			return nil, werrors.WithOffset(werrors.InvalidMetadataResource, cur, nil)
		}
		if binary.LittleEndian.Uint64(d.buf[cur:cur+8]) == 0 {
			return out, nil
		}
		pend, next, err := d.readOneDentry(cur)
		if err != nil {
			return nil, err
		}
		out = append(out, pend)
		cur = next
	}
}

func (d *decoder) readName(pos, nbytes int) (string, int, error) {
	if nbytes == 0 {
		return "", pos + 2, nil // still consumes the u16 0 terminator
	}
	if pos+nbytes+2 > len(d.buf) {
		return "", 0, werrors.WithOffset(werrors.InvalidMetadataResource, pos, nil)
	}
	s, err := decodeUTF16LE(d.buf[pos : pos+nbytes])
	if err != nil {
		return "", 0, werrors.WithOffset(werrors.InvalidMetadataResource, pos, err)
	}
	return s, pos + nbytes + 2, nil
}

func alignAbs8(n int) int { return (n + 7) &^ 7 }

// buildInodes collapses dentries sharing a hard link group ID into one
// inode.
func (d *decoder) buildInodes() []*wimimage.Inode {
	byGroup := make(map[uint64]*wimimage.Inode)
	var order []uint64
	for _, p := range d.pending {
		inode, ok := byGroup[p.groupID]
		if !ok {
			inode = &wimimage.Inode{
				Number:         p.groupID,
				Attributes:     p.attrs,
				SecurityID:     p.secID,
				CreationTime:   p.ctime,
				LastAccessTime: p.atime,
				LastWriteTime:  p.wtime,
				Streams:        p.streams,
			}
			if p.isRP {
				inode.ReparseTag = p.rpTag
				inode.ReparseFlags = p.rpFlags
			}
			byGroup[p.groupID] = inode
			order = append(order, p.groupID)
		}
		inode.LinkCount++
		p.dentry.Inode = inode
	}

	out := make([]*wimimage.Inode, 0, len(order))
	for _, g := range order {
		out = append(out, byGroup[g])
	}
	return out
}
