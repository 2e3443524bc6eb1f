// Package capture implements the NTFS directory tree builder: a
// recursive volume walk that produces a wimimage.Image, driving the
// inode table, DOS-name index and security descriptor set as it goes.
package capture

import (
	"context"
	"fmt"
	"path"

	"github.com/ant04x/wimlib/internal/logger"
	"github.com/ant04x/wimlib/internal/werrors"
	"github.com/ant04x/wimlib/ntfs"
	"github.com/ant04x/wimlib/secdesc"
	"github.com/ant04x/wimlib/wimimage"
)

// aclStackBufferSize is the initial stack-sized buffer GetACL is tried
// against before retrying with the exact required size.
const aclStackBufferSize = 4096

type builder struct {
	vol     *ntfs.Volume
	params  Params
	inodes  *inodeTable
	secSet  *secdesc.Set
	unhash  []wimimage.BlobRef
}

// BuildTree walks vol starting at rootRef, returning the captured
// image. The returned image's SecurityDescriptors and UnhashedBlobs
// fields are populated from the walk; Inodes lists every distinct
// inode reached.
func BuildTree(ctx context.Context, vol *ntfs.Volume, rootRef ntfs.MftReference, params Params) (*wimimage.Image, error) {
	if params.Matcher == nil || params.ErrHook == nil || params.Progress == nil || params.Clock == nil {
		defaults := NewParams()
		if params.Matcher == nil {
			params.Matcher = defaults.Matcher
		}
		if params.ErrHook == nil {
			params.ErrHook = defaults.ErrHook
		}
		if params.Progress == nil {
			params.Progress = defaults.Progress
		}
		if params.Clock == nil {
			params.Clock = defaults.Clock
		}
	}

	b := &builder{
		vol:    vol,
		params: params,
		inodes: newInodeTable(),
		secSet: &secdesc.Set{},
	}

	started := params.Clock.Now()
	root, err := b.processEntry(ctx, "", "", rootRef)
	if err != nil {
		return nil, err
	}
	if root != nil {
		root.Parent = root
	}
	logger.Infof("capture: run %s walked the volume in %s", params.RunID, params.Clock.Now().Sub(started))

	img := &wimimage.Image{
		Root:                root,
		SecurityDescriptors: b.secSet.Descriptors(),
		Inodes:              b.inodes.inodes(),
		UnhashedBlobs:       b.unhash,
	}
	return img, nil
}

// processEntry implements the per-inode capture algorithm: check
// exclusion, open the inode, classify and skip unsupported files,
// collect attributes/streams/security data, recurse into directories,
// then report progress. name is the entry's basename as yielded by the
// parent's readdir (empty for the root); dirPath is the already-joined
// capture path used for exclusion matching, error diagnostics and
// recursion.
func (b *builder) processEntry(ctx context.Context, dirPath, name string, ref ntfs.MftReference) (*wimimage.Dentry, error) {
	entryPath := dirPath
	if name != "" {
		entryPath = path.Join(dirPath, name)
	}
	if entryPath == "" {
		entryPath = "/"
	}

	// Step 1: exclusion check.
	decision, err := b.params.Matcher(entryPath)
	if err != nil {
		return nil, b.handle(entryPath, err)
	}
	if decision == PathExclude {
		b.params.Progress(entryPath, ProgressExcluded)
		return nil, nil
	}

	plat := b.vol.Platform()
	native := b.vol.Native()

	// Step 2: open inode.
	h, err := plat.OpenInode(ctx, native, ref)
	if err != nil {
		return nil, b.handle(entryPath, werrors.WithPath(werrors.NtfsError, entryPath, err))
	}
	defer plat.CloseInode(ctx, native, h)

	// Step 3: read $FILE_ATTRIBUTES.
	attrs, err := plat.GetFileAttributes(ctx, native, h)
	if err != nil {
		return nil, b.handle(entryPath, werrors.WithPath(werrors.NtfsError, entryPath, err))
	}

	// Step 4: encrypted check.
	if attrs.Flags&wimimage.FileAttributeEncrypted != 0 {
		if b.params.StrictUnsupportedExclusion {
			return nil, b.handle(entryPath, werrors.WithPath(werrors.UnsupportedFile, entryPath, nil))
		}
		b.params.Progress(entryPath, ProgressUnsupported)
		return nil, nil
	}

	// Step 5: allocate or share the dentry's inode.
	dentry, alreadySeen := b.inodes.newDentry(name, ref.Number)

	if !alreadySeen {
		// Step 6: timestamps, attributes.
		dentry.Inode.CreationTime = attrs.CreationTime
		dentry.Inode.LastWriteTime = attrs.LastWriteTime
		dentry.Inode.LastAccessTime = attrs.LastAccessTime
		dentry.Inode.Attributes = attrs.Flags

		// Step 7: reparse-point streams.
		if attrs.Flags&wimimage.FileAttributeReparsePoint != 0 {
			if err := b.scanAttributes(ctx, h, ntfs.AttrTypeReparsePoint, dentry.Inode, entryPath); err != nil {
				return nil, b.handle(entryPath, err)
			}
		}

		// Step 8: data streams.
		if err := b.scanAttributes(ctx, h, ntfs.AttrTypeData, dentry.Inode, entryPath); err != nil {
			return nil, b.handle(entryPath, err)
		}

		// Step 9: reparse fixup flag. Only symlink targets get rewritten
		// for the new mount point; other reparse tags (mount points,
		// deduplication, etc.) are left alone.
		if dentry.Inode.IsSymlinkReparsePoint() {
			dentry.Inode.ReparseFlags = reparseFlagNotFixed
			if b.params.RPFix {
				dentry.Inode.ReparseFlags &^= reparseFlagNotFixed
			}
		}

		// Step 10: security descriptor.
		if !b.params.NoACLs {
			sd, err := b.readACL(ctx, h, entryPath)
			if err != nil {
				return nil, b.handle(entryPath, err)
			}
			if sd != nil {
				dentry.Inode.SecurityID = int32(b.secSet.Add(sd))
			}
		}

		// Step 11: recurse.
		if attrs.IsDirectory {
			if err := b.recurseDirectory(ctx, entryPath, h, dentry); err != nil {
				return nil, err
			}
		}
	}

	// Step 12: progress.
	b.params.Progress(entryPath, ProgressOK)
	return dentry, nil
}

// reparseFlagNotFixed is the WIM-specific bookkeeping bit (stored in
// Inode.ReparseFlags, never in the tag itself) marking a symlink whose
// target has not yet been rewritten for the new mount point; RPFix
// clears it because a full-volume capture's paths are already
// self-consistent.
const reparseFlagNotFixed = 0x1

func (b *builder) handle(path string, err error) error {
	if err == nil {
		return nil
	}
	switch b.params.ErrHook(path, err) {
	case HookContinue:
		b.params.Progress(path, ProgressExcluded)
		return nil
	default:
		return err
	}
}

// scanAttributes enumerates attributes of type t, builds one stream
// per attribute, and attaches each to inode. Used for both reparse
// point data and regular data streams.
func (b *builder) scanAttributes(ctx context.Context, h ntfs.InodeHandle, t ntfs.AttrType, inode *wimimage.Inode, entryPath string) error {
	plat := b.vol.Platform()
	native := b.vol.Native()

	infos, err := plat.EnumerateAttributes(ctx, native, h, t)
	if err != nil {
		return werrors.WithPath(werrors.NtfsError, entryPath, err)
	}

	for _, info := range infos {
		stream := wimimage.Stream{Type: streamType(t), Name: info.Name}

		size := info.Size
		if t == ntfs.AttrTypeReparsePoint {
			if size < 8 {
				return werrors.WithPath(werrors.InvalidReparseData, entryPath, nil)
			}
			size -= 8
		}

		if t == ntfs.AttrTypeReparsePoint {
			if err := b.readReparseTag(ctx, h, info, inode, entryPath); err != nil {
				return err
			}
		}

		if size > 0 {
			attrHandle, err := plat.OpenAttribute(ctx, native, h, t, info.Name)
			if err != nil {
				return werrors.WithPath(werrors.NtfsError, entryPath, err)
			}
			sortKey := uint64(0)
			if lcn, ok, err := plat.FirstRunLCN(ctx, native, h, attrHandle); err == nil && ok {
				sortKey = lcn
			}

			blob := ntfs.NewInVolumeBlob(b.vol, inode.Number, t, info.Name, size, sortKey)
			stream.Blob = blob
			b.unhash = append(b.unhash, blob)
		}

		inode.Streams = append(inode.Streams, stream)
	}
	return nil
}

func streamType(t ntfs.AttrType) wimimage.StreamType {
	switch t {
	case ntfs.AttrTypeData:
		return wimimage.StreamData
	case ntfs.AttrTypeReparsePoint:
		return wimimage.StreamReparsePoint
	default:
		return wimimage.StreamUnknown
	}
}

// readReparseTag reads the first 4 bytes of a REPARSE_POINT attribute
// to capture its tag into inode.
func (b *builder) readReparseTag(ctx context.Context, h ntfs.InodeHandle, info ntfs.AttributeInfo, inode *wimimage.Inode, entryPath string) error {
	plat := b.vol.Platform()
	native := b.vol.Native()

	attrHandle, err := plat.OpenAttribute(ctx, native, h, ntfs.AttrTypeReparsePoint, info.Name)
	if err != nil {
		return werrors.WithPath(werrors.NtfsError, entryPath, err)
	}

	var tagBuf [4]byte
	n, err := plat.ReadAttributeAt(ctx, native, h, attrHandle, 0, tagBuf[:])
	if err != nil {
		return werrors.WithPath(werrors.ReadError, entryPath, err)
	}
	if n < 4 {
		return werrors.WithPath(werrors.InvalidReparseData, entryPath, nil)
	}

	inode.ReparseTag = uint32(tagBuf[0]) | uint32(tagBuf[1])<<8 | uint32(tagBuf[2])<<16 | uint32(tagBuf[3])<<24
	return nil
}

// readACL fetches h's raw SECURITY_DESCRIPTOR using the stack-then-heap
// retry pattern. Returns nil if the inode has no security descriptor
// at all.
func (b *builder) readACL(ctx context.Context, h ntfs.InodeHandle, entryPath string) ([]byte, error) {
	plat := b.vol.Platform()
	native := b.vol.Native()

	buf := make([]byte, aclStackBufferSize)
	n, truncated, err := plat.GetACL(ctx, native, h, buf)
	if err != nil {
		return nil, werrors.WithPath(werrors.NtfsError, entryPath, err)
	}
	if n == 0 {
		return nil, nil
	}
	if !truncated {
		return buf[:n], nil
	}

	buf = make([]byte, n)
	n2, truncated2, err := plat.GetACL(ctx, native, h, buf)
	if err != nil {
		return nil, werrors.WithPath(werrors.NtfsError, entryPath, err)
	}
	if truncated2 {
		return nil, werrors.WithPath(werrors.NtfsError, entryPath, fmt.Errorf("security descriptor grew between calls"))
	}
	return buf[:n2], nil
}
