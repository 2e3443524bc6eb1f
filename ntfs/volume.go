package ntfs

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/ant04x/wimlib/internal/werrors"
)

// Volume is the reference-counted, read-only NTFS volume handle. It is
// shared by every BlobDescriptor created against it; the last release
// unmounts it. The refcount is a pointer shared across every clone so
// it can be updated atomically regardless of which goroutine (the
// capture walk or a parallel hashing/writing pipeline) holds a given
// copy.
type Volume struct {
	platform Platform
	native   VolumeHandle
	device   string
	refs     *int32
}

// MountReadOnly mounts device through platform, returning a Volume with
// an initial reference count of one.
func MountReadOnly(ctx context.Context, platform Platform, device string) (*Volume, error) {
	native, err := platform.MountReadOnly(ctx, device)
	if err != nil {
		return nil, werrors.WithPath(werrors.NtfsError, device, fmt.Errorf("mount: %w", err))
	}

	refs := int32(1)
	return &Volume{platform: platform, native: native, device: device, refs: &refs}, nil
}

// Clone returns a new Volume value sharing the same underlying mount,
// incrementing the reference count.
func (v *Volume) Clone() *Volume {
	atomic.AddInt32(v.refs, 1)
	return &Volume{platform: v.platform, native: v.native, device: v.device, refs: v.refs}
}

// Release decrements the reference count, unmounting the volume when it
// reaches zero. Release is idempotent-unsafe by design: calling it twice
// on the same clone double-releases, exactly like a C refcount - callers
// must release each Volume value exactly once.
func (v *Volume) Release(ctx context.Context) error {
	if atomic.AddInt32(v.refs, -1) > 0 {
		return nil
	}
	return v.platform.Unmount(ctx, v.native)
}

// Device returns the path or identifier the volume was mounted from.
func (v *Volume) Device() string { return v.device }

// Platform returns the platform library backing this volume.
func (v *Volume) Platform() Platform { return v.platform }

// Native returns the platform-specific opaque mount handle.
func (v *Volume) Native() VolumeHandle { return v.native }
