// Package ntfstest provides an in-memory fake of ntfs.Platform so the
// directory tree builder and the metadata codec can be exercised
// without a real mounted NTFS volume, the way jacobsa-fuse's sample
// filesystems and gcsfuse's fake GCS bucket let their callers be tested
// without the real backing service.
package ntfstest

import (
	"context"
	"fmt"
	"sync"

	"github.com/ant04x/wimlib/ntfs"
)

// Stream is one data or reparse-point stream attached to a fake file.
type Stream struct {
	Type    ntfs.AttrType
	Name    string
	Data    []byte
	LCN     uint64
	Sparse  bool
}

// File is one fake MFT entry: a file or a directory.
type File struct {
	Ref            ntfs.MftReference
	IsDir          bool
	Attributes     uint32
	CreationTime   uint64
	LastWriteTime  uint64
	LastAccessTime uint64
	ACL            []byte

	Streams []Stream

	// children, in NTFS directory order.
	children []childEntry
}

type childEntry struct {
	ref      ntfs.MftReference
	name     string
	nameType ntfs.NameType
	dosName  string
}

// Volume is a fake NTFS volume: a set of files keyed by MFT number.
type Volume struct {
	mu      sync.Mutex
	files   map[uint64]*File
	mounted bool
	root    ntfs.MftReference
}

// NewVolume returns an empty fake volume whose root directory has the
// given MFT reference.
func NewVolume(root ntfs.MftReference) *Volume {
	v := &Volume{files: make(map[uint64]*File), root: root}
	v.files[root.Number] = &File{Ref: root, IsDir: true}
	return v
}

// AddDir registers a directory under parent with the given name and
// name-type, returning the new directory so children can be added to
// it in turn.
func (v *Volume) AddDir(parent ntfs.MftReference, ref ntfs.MftReference, name string, nameType ntfs.NameType, dosName string) *File {
	v.mu.Lock()
	defer v.mu.Unlock()

	f := &File{Ref: ref, IsDir: true}
	v.files[ref.Number] = f
	v.link(parent, ref, name, nameType, dosName)
	return f
}

// AddFile registers a file under parent. Calling AddFile again with the
// same ref under a different parent creates a hard link: both dentries
// will resolve to the same *File.
func (v *Volume) AddFile(parent ntfs.MftReference, ref ntfs.MftReference, name string, nameType ntfs.NameType, dosName string) *File {
	v.mu.Lock()
	defer v.mu.Unlock()

	f, ok := v.files[ref.Number]
	if !ok {
		f = &File{Ref: ref}
		v.files[ref.Number] = f
	}
	v.link(parent, ref, name, nameType, dosName)
	return f
}

func (v *Volume) link(parent, ref ntfs.MftReference, name string, nameType ntfs.NameType, dosName string) {
	p := v.files[parent.Number]
	p.children = append(p.children, childEntry{ref: ref, name: name, nameType: nameType, dosName: dosName})
}

func (v *Volume) file(number uint64) (*File, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	f, ok := v.files[number]
	if !ok {
		return nil, fmt.Errorf("no such mft entry: %d", number)
	}
	return f, nil
}

// FakePlatform implements ntfs.Platform against a *Volume.
type FakePlatform struct {
	Volume *Volume
}

type openInode struct {
	vol *Volume
	f   *File
}

type openAttr struct {
	stream *Stream
}

func (p *FakePlatform) MountReadOnly(ctx context.Context, device string) (ntfs.VolumeHandle, error) {
	p.Volume.mu.Lock()
	defer p.Volume.mu.Unlock()
	if p.Volume.mounted {
		return nil, fmt.Errorf("already mounted")
	}
	p.Volume.mounted = true
	return p.Volume, nil
}

func (p *FakePlatform) Unmount(ctx context.Context, v ntfs.VolumeHandle) error {
	vol := v.(*Volume)
	vol.mu.Lock()
	defer vol.mu.Unlock()
	vol.mounted = false
	return nil
}

func (p *FakePlatform) OpenInode(ctx context.Context, v ntfs.VolumeHandle, ref ntfs.MftReference) (ntfs.InodeHandle, error) {
	vol := v.(*Volume)
	f, err := vol.file(ref.Number)
	if err != nil {
		return nil, err
	}
	return &openInode{vol: vol, f: f}, nil
}

func (p *FakePlatform) CloseInode(ctx context.Context, v ntfs.VolumeHandle, h ntfs.InodeHandle) error {
	return nil
}

func (p *FakePlatform) GetFileAttributes(ctx context.Context, v ntfs.VolumeHandle, h ntfs.InodeHandle) (ntfs.FileAttributes, error) {
	oi := h.(*openInode)
	attrs := oi.f.Attributes
	if oi.f.IsDir {
		attrs |= ntfs.FileAttributeDirectory
	}
	hasReparse := false
	for _, s := range oi.f.Streams {
		if s.Type == ntfs.AttrTypeReparsePoint {
			hasReparse = true
		}
	}
	if hasReparse {
		attrs |= ntfs.FileAttributeReparsePoint
	}
	return ntfs.FileAttributes{
		Flags:          attrs,
		CreationTime:   oi.f.CreationTime,
		LastWriteTime:  oi.f.LastWriteTime,
		LastAccessTime: oi.f.LastAccessTime,
		IsDirectory:    oi.f.IsDir,
		HardLinkCount:  1,
	}, nil
}

func (p *FakePlatform) GetACL(ctx context.Context, v ntfs.VolumeHandle, h ntfs.InodeHandle, buf []byte) (int, bool, error) {
	oi := h.(*openInode)
	if oi.f.ACL == nil {
		return 0, false, nil
	}
	if len(oi.f.ACL) > len(buf) {
		return len(oi.f.ACL), true, nil
	}
	copy(buf, oi.f.ACL)
	return len(oi.f.ACL), false, nil
}

func (p *FakePlatform) EnumerateAttributes(ctx context.Context, v ntfs.VolumeHandle, h ntfs.InodeHandle, t ntfs.AttrType) ([]ntfs.AttributeInfo, error) {
	oi := h.(*openInode)
	var out []ntfs.AttributeInfo
	for _, s := range oi.f.Streams {
		if s.Type != t {
			continue
		}
		out = append(out, ntfs.AttributeInfo{Type: s.Type, Name: s.Name, Size: int64(len(s.Data))})
	}
	return out, nil
}

func (p *FakePlatform) OpenAttribute(ctx context.Context, v ntfs.VolumeHandle, h ntfs.InodeHandle, t ntfs.AttrType, name string) (ntfs.AttributeHandle, error) {
	oi := h.(*openInode)
	for i := range oi.f.Streams {
		s := &oi.f.Streams[i]
		if s.Type == t && s.Name == name {
			return &openAttr{stream: s}, nil
		}
	}
	return nil, fmt.Errorf("no such attribute: type=%v name=%q", t, name)
}

func (p *FakePlatform) ReadAttributeAt(ctx context.Context, v ntfs.VolumeHandle, h ntfs.InodeHandle, a ntfs.AttributeHandle, offset int64, buf []byte) (int, error) {
	oa := a.(*openAttr)
	data := oa.stream.Data
	if offset >= int64(len(data)) {
		return 0, nil
	}
	n := copy(buf, data[offset:])
	return n, nil
}

func (p *FakePlatform) FirstRunLCN(ctx context.Context, v ntfs.VolumeHandle, h ntfs.InodeHandle, a ntfs.AttributeHandle) (uint64, bool, error) {
	oa := a.(*openAttr)
	if oa.stream.Sparse || oa.stream.LCN == 0 {
		return 0, false, nil
	}
	return oa.stream.LCN, true, nil
}

func (p *FakePlatform) ReadDir(ctx context.Context, v ntfs.VolumeHandle, h ntfs.InodeHandle, cb func(ntfs.DirEntry) error) error {
	oi := h.(*openInode)
	for _, c := range oi.f.children {
		if c.dosName != "" && c.nameType == ntfs.NameTypeWin32AndDos {
			// A genuine short name that differs from the long name is a
			// separate $FILE_NAME record; report it before the long
			// name so recurse_directory's pairing records the real
			// short name rather than the Win32+DOS entry's own
			// self-paired fallback.
			if err := cb(ntfs.DirEntry{Name: c.dosName, Reference: c.ref, NameType: ntfs.NameTypeDosOnly}); err != nil {
				return err
			}
		}
		entry := ntfs.DirEntry{Name: c.name, Reference: c.ref, NameType: c.nameType}
		if err := cb(entry); err != nil {
			return err
		}
	}
	return nil
}

var _ ntfs.Platform = (*FakePlatform)(nil)
