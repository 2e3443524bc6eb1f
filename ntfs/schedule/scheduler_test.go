package schedule_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ant04x/wimlib/ntfs"
	"github.com/ant04x/wimlib/ntfs/ntfstest"
	"github.com/ant04x/wimlib/ntfs/schedule"
)

func mountFixtureVolume(t *testing.T) *ntfs.Volume {
	t.Helper()
	root := ntfs.MftReference{Number: 5}
	vol := ntfstest.NewVolume(root)
	a := vol.AddFile(root, ntfs.MftReference{Number: 6}, "a.bin", ntfs.NameTypePosix, "")
	a.Streams = []ntfstest.Stream{{Type: ntfs.AttrTypeData, Data: []byte("aaaaaaaaaa"), LCN: 200}}
	b := vol.AddFile(root, ntfs.MftReference{Number: 7}, "b.bin", ntfs.NameTypePosix, "")
	b.Streams = []ntfstest.Stream{{Type: ntfs.AttrTypeData, Data: []byte("bbbbbbbbbb"), LCN: 100}}

	plat := &ntfstest.FakePlatform{Volume: vol}
	v, err := ntfs.MountReadOnly(context.Background(), plat, "fake-device")
	require.NoError(t, err)
	return v
}

func TestSchedulerReadsBlobsInOnDiskOrder(t *testing.T) {
	v := mountFixtureVolume(t)
	defer v.Release(context.Background())

	blobA := ntfs.NewInVolumeBlob(v, 6, ntfs.AttrTypeData, "", 10, 200)
	blobB := ntfs.NewInVolumeBlob(v, 7, ntfs.AttrTypeData, "", 10, 100)

	s := schedule.NewScheduler(0, 0)

	var order []uint64
	err := s.Run(context.Background(), []*ntfs.BlobDescriptor{blobA, blobB}, 10, func(b *ntfs.BlobDescriptor, chunk []byte) error {
		order = append(order, b.Location.MftNo)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []uint64{7, 6}, order)
}

func TestSchedulerPropagatesSinkError(t *testing.T) {
	v := mountFixtureVolume(t)
	defer v.Release(context.Background())

	blobA := ntfs.NewInVolumeBlob(v, 6, ntfs.AttrTypeData, "", 10, 200)
	s := schedule.NewScheduler(0, 0)

	boom := assert.AnError
	err := s.Run(context.Background(), []*ntfs.BlobDescriptor{blobA}, 10, func(b *ntfs.BlobDescriptor, chunk []byte) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
}
