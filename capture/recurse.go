package capture

import (
	"context"

	"github.com/ant04x/wimlib/internal/logger"
	"github.com/ant04x/wimlib/ntfs"
	"github.com/ant04x/wimlib/wimimage"
)

// recurseDirectory iterates h's directory entries, recursing into each
// one that is not a DOS-only name, then pairs every Win32-named child
// with its DOS short name collected along the way.
func (b *builder) recurseDirectory(ctx context.Context, dirPath string, h ntfs.InodeHandle, parent *wimimage.Dentry) error {
	dosNames := newDOSNameIndex()
	var win32Children []*wimimage.Dentry

	plat := b.vol.Platform()
	native := b.vol.Native()

	err := plat.ReadDir(ctx, native, h, func(entry ntfs.DirEntry) error {
		if entry.Name == "." || entry.Name == ".." {
			return nil
		}

		if entry.NameType == ntfs.NameTypeDosOnly {
			dosNames.insert(entry.Reference.Number, entry.Name)
			return nil
		}

		child, err := b.processEntry(ctx, dirPath, entry.Name, entry.Reference)
		if err != nil {
			return err
		}
		if child == nil {
			return nil
		}

		if entry.NameType == ntfs.NameTypeWin32AndDos {
			child.IsWin32Name = true
			// A Win32+DOS name pairs with a short name recorded
			// separately when the long name doesn't fit 8.3 on its own,
			// or with itself when it does; nothing is recorded if a real
			// short name for this inode already arrived.
			if _, ok := dosNames.lookup(entry.Reference.Number); !ok {
				dosNames.insert(entry.Reference.Number, entry.Name)
			}
			win32Children = append(win32Children, child)
		}

		parent.AddChild(child)
		return nil
	})
	if err != nil {
		return err
	}

	for _, child := range win32Children {
		if name, ok := dosNames.lookup(child.Inode.Number); ok && name != "" {
			child.ShortName = name
		} else {
			logger.Warnf("capture: win32-named dentry %q has no DOS name pair", child.LongName)
		}
	}
	dosNames.drain()

	return nil
}
