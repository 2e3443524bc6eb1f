package ntfs

import (
	"context"

	"github.com/ant04x/wimlib/internal/werrors"
)

// reparseHeaderSize is the fixed 8-byte REPARSE_DATA_BUFFER header that
// precedes reparse-point payload data.
const reparseHeaderSize = 8

// BlobLocation identifies where a blob's bytes live. Only the
// in-volume variant is implemented here; other backing stores (e.g. an
// external payload archive) could supply their own BlobDescriptor
// constructors without changing this type.
type BlobLocation struct {
	Volume   *Volume
	MftNo    uint64
	AttrType AttrType
	AttrName string
}

// Equal reports whether two locations name the same blob: the same
// (volume, mft_no, attr_type, attr_name).
func (l BlobLocation) Equal(o BlobLocation) bool {
	return l.Volume.Native() == o.Volume.Native() &&
		l.MftNo == o.MftNo &&
		l.AttrType == o.AttrType &&
		l.AttrName == o.AttrName
}

// BlobDescriptor is an immutable handle to deferred file data. It is
// never read eagerly; ReadPrefix is the only way bytes flow out of it,
// and only after a caller (typically a parallel hashing/writing
// pipeline) decides to schedule the read.
type BlobDescriptor struct {
	Location BlobLocation
	// PayloadSize is the attribute's payload length, minus the 8-byte
	// reparse header when AttrType is AttrTypeReparsePoint.
	PayloadSize int64
	// SortKey is the starting LCN of the attribute's first allocated
	// extent, or 0 if unallocated/sparse.
	SortKey uint64
}

// Size implements wimimage.BlobRef.
func (b *BlobDescriptor) Size() int64 { return b.PayloadSize }

// NewInVolumeBlob builds a blob descriptor over a live volume attribute,
// taking a new reference on vol via Clone so the descriptor can outlive
// the scan that created it.
func NewInVolumeBlob(vol *Volume, mftNo uint64, attrType AttrType, attrName string, size int64, sortKey uint64) *BlobDescriptor {
	return &BlobDescriptor{
		Location:    BlobLocation{Volume: vol.Clone(), MftNo: mftNo, AttrType: attrType, AttrName: attrName},
		PayloadSize: size,
		SortKey:     sortKey,
	}
}

// Clone deep-copies the location data and acquires a new volume
// reference, so the clone can be released independently of the
// original.
func (b *BlobDescriptor) Clone() *BlobDescriptor {
	cp := *b
	cp.Location.Volume = b.Location.Volume.Clone()
	return &cp
}

// Release releases the volume reference held by this descriptor. After
// Release, the descriptor must not be read from again.
func (b *BlobDescriptor) Release(ctx context.Context) error {
	return b.Location.Volume.Release(ctx)
}

// Order is a total order on SortKey, used by an external scheduler to
// read blobs in roughly on-disk order. Ties are broken by MftNo then
// AttrName so the order is stable across repeated runs over the same
// capture.
func Order(a, b *BlobDescriptor) int {
	switch {
	case a.SortKey < b.SortKey:
		return -1
	case a.SortKey > b.SortKey:
		return 1
	}
	switch {
	case a.Location.MftNo < b.Location.MftNo:
		return -1
	case a.Location.MftNo > b.Location.MftNo:
		return 1
	}
	if a.Location.AttrName < b.Location.AttrName {
		return -1
	}
	if a.Location.AttrName > b.Location.AttrName {
		return 1
	}
	return 0
}

// ChunkSize is the recommended read_prefix chunk size (32-64 KiB is
// the usual sweet spot for NTFS cluster-aligned reads).
const ChunkSize = 64 * 1024

// ReadPrefix reads the first n bytes of the referenced attribute in
// ChunkSize chunks, delivering each to sink. For a REPARSE_POINT
// attribute, reading starts 8 bytes in, skipping the reparse header.
// sink may return a non-nil error to abort early; that error is
// returned from ReadPrefix unchanged. A short chunk read is reported as
// werrors.ReadError.
func (b *BlobDescriptor) ReadPrefix(ctx context.Context, n int, sink func([]byte) error) error {
	vol := b.Location.Volume
	plat := vol.Platform()

	h, err := plat.OpenInode(ctx, vol.Native(), MftReference{Number: b.Location.MftNo})
	if err != nil {
		return werrors.WithPath(werrors.NtfsError, vol.Device(), err)
	}
	defer plat.CloseInode(ctx, vol.Native(), h)

	attr, err := plat.OpenAttribute(ctx, vol.Native(), h, b.Location.AttrType, b.Location.AttrName)
	if err != nil {
		return werrors.WithPath(werrors.NtfsError, vol.Device(), err)
	}

	offset := int64(0)
	if b.Location.AttrType == AttrTypeReparsePoint {
		offset = reparseHeaderSize
	}

	remaining := n
	buf := make([]byte, ChunkSize)
	for remaining > 0 {
		chunkLen := len(buf)
		if remaining < chunkLen {
			chunkLen = remaining
		}

		read, err := plat.ReadAttributeAt(ctx, vol.Native(), h, attr, offset, buf[:chunkLen])
		if err != nil {
			return werrors.WithPath(werrors.ReadError, vol.Device(), err)
		}
		if read < chunkLen {
			return werrors.WithPath(werrors.ReadError, vol.Device(), werrors.UnexpectedEndOfFile)
		}

		if err := sink(buf[:chunkLen]); err != nil {
			return err
		}

		offset += int64(chunkLen)
		remaining -= chunkLen
	}

	return nil
}
