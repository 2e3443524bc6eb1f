package capture_test

import (
	"context"
	"testing"

	"github.com/ant04x/wimlib/capture"
	"github.com/ant04x/wimlib/ntfs"
	"github.com/ant04x/wimlib/ntfs/ntfstest"
	"github.com/ant04x/wimlib/wimimage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildFixtureVolume() (*ntfstest.Volume, ntfs.MftReference) {
	root := ntfs.MftReference{Number: 1, Sequence: 1}
	vol := ntfstest.NewVolume(root)

	helloRef := ntfs.MftReference{Number: 2, Sequence: 1}
	subRef := ntfs.MftReference{Number: 3, Sequence: 1}
	longRef := ntfs.MftReference{Number: 4, Sequence: 1}

	hello := vol.AddFile(root, helloRef, "hello.txt", ntfs.NameTypePosix, "")
	hello.Streams = append(hello.Streams, ntfstest.Stream{Type: ntfs.AttrTypeData, Data: []byte("hi there"), LCN: 500})

	vol.AddDir(root, subRef, "sub", ntfs.NameTypePosix, "")
	vol.AddFile(subRef, longRef, "LongFileName.txt", ntfs.NameTypeWin32AndDos, "LONGFI~1.TXT")

	// Hard link: the same inode (helloRef) appears again under sub.
	vol.AddFile(subRef, helloRef, "hello-link.txt", ntfs.NameTypePosix, "")

	return vol, root
}

func findChild(parent *wimimage.Dentry, name string) *wimimage.Dentry {
	for _, c := range parent.Children {
		if c.LongName == name {
			return c
		}
	}
	return nil
}

func mountFixture(t *testing.T) (*ntfs.Volume, ntfs.MftReference) {
	t.Helper()
	vol, root := buildFixtureVolume()
	platform := &ntfstest.FakePlatform{Volume: vol}

	v, err := ntfs.MountReadOnly(context.Background(), platform, "fake-device")
	require.NoError(t, err)
	return v, root
}

func TestBuildTreeWalksDirectoriesAndFiles(t *testing.T) {
	v, root := mountFixture(t)

	img, err := capture.BuildTree(context.Background(), v, root, capture.NewParams())
	require.NoError(t, err)
	require.NotNil(t, img.Root)
	require.Len(t, img.Root.Children, 2)

	assert.NotNil(t, findChild(img.Root, "hello.txt"))
	assert.NotNil(t, findChild(img.Root, "sub"))
}

func TestBuildTreePairsWin32NameWithDosName(t *testing.T) {
	v, root := mountFixture(t)

	img, err := capture.BuildTree(context.Background(), v, root, capture.NewParams())
	require.NoError(t, err)

	sub := findChild(img.Root, "sub")
	require.NotNil(t, sub)
	require.Len(t, sub.Children, 2)

	long := findChild(sub, "LongFileName.txt")
	require.NotNil(t, long)
	assert.True(t, long.IsWin32Name)
	assert.Equal(t, "LONGFI~1.TXT", long.ShortName)
}

func TestBuildTreeCollapsesHardLinksToOneInode(t *testing.T) {
	v, root := mountFixture(t)

	img, err := capture.BuildTree(context.Background(), v, root, capture.NewParams())
	require.NoError(t, err)

	hello := findChild(img.Root, "hello.txt")
	sub := findChild(img.Root, "sub")
	require.NotNil(t, hello)
	require.NotNil(t, sub)
	helloLink := findChild(sub, "hello-link.txt")
	require.NotNil(t, helloLink)

	assert.Same(t, hello.Inode, helloLink.Inode)
	assert.Equal(t, 2, hello.Inode.LinkCount)

	// Streams are enumerated exactly once, by the first dentry to reach
	// the inode.
	require.Len(t, hello.Inode.Streams, 1)
	assert.Equal(t, int64(8), hello.Inode.Streams[0].Blob.Size())
}

func TestBuildTreeExcludesPathsViaMatcher(t *testing.T) {
	v, root := mountFixture(t)

	params := capture.NewParams()
	params.Matcher = func(p string) (capture.PathMatchDecision, error) {
		if p == "/sub" {
			return capture.PathExclude, nil
		}
		return capture.PathInclude, nil
	}

	img, err := capture.BuildTree(context.Background(), v, root, params)
	require.NoError(t, err)

	assert.Nil(t, findChild(img.Root, "sub"))
	assert.NotNil(t, findChild(img.Root, "hello.txt"))
}

func TestBuildTreeRejectsShortReparseData(t *testing.T) {
	root := ntfs.MftReference{Number: 1, Sequence: 1}
	vol := ntfstest.NewVolume(root)

	badRef := ntfs.MftReference{Number: 2, Sequence: 1}
	bad := vol.AddFile(root, badRef, "bad.lnk", ntfs.NameTypePosix, "")
	bad.Attributes = wimimage.FileAttributeReparsePoint
	bad.Streams = append(bad.Streams, ntfstest.Stream{Type: ntfs.AttrTypeReparsePoint, Data: []byte{1, 2, 3}})

	platform := &ntfstest.FakePlatform{Volume: vol}
	v, err := ntfs.MountReadOnly(context.Background(), platform, "fake-device")
	require.NoError(t, err)

	_, err = capture.BuildTree(context.Background(), v, root, capture.NewParams())
	require.Error(t, err)
}
