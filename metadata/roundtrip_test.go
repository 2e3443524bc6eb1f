package metadata

import (
	"crypto/sha1"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ant04x/wimlib/internal/werrors"
	"github.com/ant04x/wimlib/wimimage"
)

func sampleImage() *wimimage.Image {
	root := wimimage.NewRootDentry(&wimimage.Inode{
		Number: 1, Attributes: wimimage.FileAttributeDirectory, SecurityID: 0,
	})

	fileInode := &wimimage.Inode{
		Number:     2,
		Attributes: 0,
		SecurityID: wimimage.NoSecurityID,
		Streams: []wimimage.Stream{
			{Type: wimimage.StreamData, Hash: [20]byte{1, 2, 3}, HashSet: true},
			{Type: wimimage.StreamData, Name: "ads", Hash: [20]byte{4, 5, 6}, HashSet: true},
		},
	}
	file := &wimimage.Dentry{LongName: "hello.txt", Inode: fileInode}
	root.AddChild(file)

	subInode := &wimimage.Inode{Number: 3, Attributes: wimimage.FileAttributeDirectory, SecurityID: wimimage.NoSecurityID}
	sub := &wimimage.Dentry{LongName: "SUBDIR", ShortName: "SUBDIR", IsWin32Name: true, Inode: subInode}
	root.AddChild(sub)

	grandchildInode := &wimimage.Inode{Number: 4, Attributes: 0, SecurityID: wimimage.NoSecurityID}
	grandchild := &wimimage.Dentry{LongName: "nested.bin", Inode: grandchildInode}
	sub.AddChild(grandchild)

	return &wimimage.Image{
		Root:                root,
		SecurityDescriptors: [][]byte{{0x01, 0x00, 0x04, 0x80}},
	}
}

func TestRoundTripPreservesTreeShapeAndStreams(t *testing.T) {
	img := sampleImage()

	res, err := WriteMetadataResource(img)
	require.NoError(t, err)
	require.NotEmpty(t, res.Bytes)
	assert.Equal(t, sha1.Sum(res.Bytes), res.Hash)

	got, err := ReadMetadataResource(res.Bytes, ReadOptions{ExpectedHash: res.Hash})
	require.NoError(t, err)

	require.NotNil(t, got.Root)
	assert.True(t, got.Root.IsRoot())
	require.Len(t, got.Root.Children, 2)

	file := findChildByName(got.Root, "hello.txt")
	require.NotNil(t, file)
	require.Len(t, file.Inode.Streams, 2)
	assert.Equal(t, [20]byte{1, 2, 3}, file.Inode.Streams[0].Hash)

	var ads *wimimage.Stream
	for i := range file.Inode.Streams {
		if file.Inode.Streams[i].Name == "ads" {
			ads = &file.Inode.Streams[i]
		}
	}
	require.NotNil(t, ads)
	assert.Equal(t, [20]byte{4, 5, 6}, ads.Hash)

	sub := findChildByName(got.Root, "SUBDIR")
	require.NotNil(t, sub)
	require.Len(t, sub.Children, 1)
	assert.Equal(t, "nested.bin", sub.Children[0].LongName)

	require.Len(t, got.SecurityDescriptors, 1)
	assert.Equal(t, img.SecurityDescriptors[0], got.SecurityDescriptors[0])
}

func findChildByName(parent *wimimage.Dentry, name string) *wimimage.Dentry {
	for _, c := range parent.Children {
		if c.LongName == name {
			return c
		}
	}
	return nil
}

func TestReadEmptyMetadataResource(t *testing.T) {
	buf := make([]byte, 16)
	buf[0] = 8 // security block total_length = 8, num_entries = 0
	// bytes[8:16] stay zero: an empty root sibling list.

	img, err := ReadMetadataResource(buf, ReadOptions{DontCheckHash: true})
	require.NoError(t, err)
	assert.Nil(t, img.Root)
	assert.Empty(t, img.SecurityDescriptors)
}

func TestWriteThenReadEmptyImageRoundTrips(t *testing.T) {
	res, err := WriteMetadataResource(&wimimage.Image{})
	require.NoError(t, err)

	got, err := ReadMetadataResource(res.Bytes, ReadOptions{ExpectedHash: res.Hash})
	require.NoError(t, err)
	require.NotNil(t, got.Root)
	assert.True(t, got.Root.IsRoot())
	assert.Empty(t, got.Root.LongName)
}

func TestReadRejectsTrailingBytesAfterEmptyTerminator(t *testing.T) {
	buf := make([]byte, 20)
	buf[0] = 8 // security block total_length = 8, num_entries = 0
	// bytes[8:16] stay zero (an empty-image terminator), but bytes[16:20]
	// are trailing garbage past it.

	_, err := ReadMetadataResource(buf, ReadOptions{DontCheckHash: true})
	require.Error(t, err)
	assert.ErrorIs(t, err, werrors.InvalidMetadataResource)
}

func TestReadRejectsTooShortBuffer(t *testing.T) {
	buf := make([]byte, 4)
	_, err := ReadMetadataResource(buf, ReadOptions{DontCheckHash: true})
	require.Error(t, err)
	assert.ErrorIs(t, err, werrors.InvalidMetadataResource)
}

func TestReadRejectsHashMismatchUnlessSkipped(t *testing.T) {
	img := sampleImage()
	res, err := WriteMetadataResource(img)
	require.NoError(t, err)

	_, err = ReadMetadataResource(res.Bytes, ReadOptions{ExpectedHash: [20]byte{0xff}})
	require.Error(t, err)
	assert.ErrorIs(t, err, werrors.InvalidMetadataResource)

	_, err = ReadMetadataResource(res.Bytes, ReadOptions{ExpectedHash: [20]byte{0xff}, DontCheckHash: true})
	require.NoError(t, err)
}

func TestReadClearsNamedRoot(t *testing.T) {
	root := wimimage.NewRootDentry(&wimimage.Inode{Attributes: wimimage.FileAttributeDirectory, SecurityID: wimimage.NoSecurityID})
	root.LongName = "should-be-dropped"

	res, err := WriteMetadataResource(&wimimage.Image{Root: root})
	require.NoError(t, err)

	got, err := ReadMetadataResource(res.Bytes, ReadOptions{ExpectedHash: res.Hash})
	require.NoError(t, err)
	assert.Empty(t, got.Root.LongName)
}
