// Package ntfs defines the abstract NTFS platform library the volume
// scanner is built on, plus the two small value types (Volume,
// BlobDescriptor) that the rest of the system shares a reference to.
//
// Nothing in this package talks to a real device directly; the
// platform_windows.go file (grounded in rclone's backend/local
// *_windows.go family) implements Platform against golang.org/x/sys/windows, and
// ntfstest provides an in-memory fake for tests.
package ntfs

import "context"

// MftReference identifies a file on NTFS by (inode number, sequence).
type MftReference struct {
	Number   uint64
	Sequence uint16
}

// AttrType is the subset of NTFS attribute types this core cares about.
type AttrType int

const (
	AttrTypeData AttrType = iota
	AttrTypeReparsePoint
	AttrTypeUnknown
)

// AttributeInfo describes one attribute discovered by EnumerateAttributes.
type AttributeInfo struct {
	Type AttrType
	// Name is empty for the default unnamed data stream.
	Name string
	// Size is the attribute's authoritative payload length for both
	// resident and non-resident attributes, never the compressed or
	// allocated size.
	Size int64
}

// FileAttributes mirrors the subset of Win32 FILE_ATTRIBUTE_* flags and
// FILETIME timestamps the scanner needs from $FILE_ATTRIBUTES and $STANDARD_INFORMATION.
type FileAttributes struct {
	Flags           uint32 // FILE_ATTRIBUTE_* bitmask
	CreationTime    uint64 // Windows FILETIME
	LastWriteTime   uint64
	LastAccessTime  uint64
	IsDirectory     bool
	HardLinkCount   int
}

const (
	FileAttributeReparsePoint = 0x400
	FileAttributeEncrypted   = 0x4000
	FileAttributeDirectory   = 0x10
)

// DirEntry is one entry yielded by ReadDir, shaped like
// jacobsa-fuse's fuseutil.Dirent (Name + a type tag) rather than
// inventing a new shape for the same concept.
type DirEntry struct {
	Name      string
	Reference MftReference
	NameType  NameType
}

// NameType classifies an NTFS directory entry's name as the directory
// walk pairs long (Win32) names with their DOS short-name siblings.
type NameType int

const (
	// NameTypePosix is a long (POSIX) name with no DOS pair.
	NameTypePosix NameType = iota
	// NameTypeDosOnly is a short name with no Win32 pair.
	NameTypeDosOnly
	// NameTypeWin32AndDos is a long name that is paired with a DOS short
	// name: either a separate DOS-only entry for the same reference, or
	// the name itself when it already fits 8.3.
	NameTypeWin32AndDos
)

// VolumeHandle, InodeHandle and AttributeHandle are opaque tokens
// returned by a Platform implementation; the core never looks inside
// them.
type (
	VolumeHandle    any
	InodeHandle     any
	AttributeHandle any
)

// Platform is the NTFS library the scanner consumes. Every operation
// is fallible; no caching is assumed at this layer.
type Platform interface {
	MountReadOnly(ctx context.Context, device string) (VolumeHandle, error)
	Unmount(ctx context.Context, v VolumeHandle) error

	OpenInode(ctx context.Context, v VolumeHandle, ref MftReference) (InodeHandle, error)
	CloseInode(ctx context.Context, v VolumeHandle, h InodeHandle) error

	GetFileAttributes(ctx context.Context, v VolumeHandle, h InodeHandle) (FileAttributes, error)

	// GetACL fills buf with the raw SECURITY_DESCRIPTOR bytes for h. If
	// buf is too small, truncated is true and n is the required size, so
	// the caller can grow its buffer and retry.
	GetACL(ctx context.Context, v VolumeHandle, h InodeHandle, buf []byte) (n int, truncated bool, err error)

	EnumerateAttributes(ctx context.Context, v VolumeHandle, h InodeHandle, t AttrType) ([]AttributeInfo, error)
	OpenAttribute(ctx context.Context, v VolumeHandle, h InodeHandle, t AttrType, name string) (AttributeHandle, error)
	ReadAttributeAt(ctx context.Context, v VolumeHandle, h InodeHandle, a AttributeHandle, offset int64, buf []byte) (int, error)

	// FirstRunLCN returns the starting logical cluster number of a's
	// first allocated extent. ok is false if the attribute is resident
	// or its first run is a hole (sparse), in which case sort_key is 0.
	FirstRunLCN(ctx context.Context, v VolumeHandle, h InodeHandle, a AttributeHandle) (lcn uint64, ok bool, err error)

	// ReadDir invokes cb once per child entry in NTFS directory order,
	// skipping "." and "..". A non-nil return from cb stops iteration
	// and propagates, matching the callback-driven readdir design note.
	ReadDir(ctx context.Context, v VolumeHandle, h InodeHandle, cb func(DirEntry) error) error
}
