// Package schedule provides a default implementation of the "external
// scheduler" the blob descriptor API assumes: something that decides
// when and in what order deferred blob reads actually happen. It
// orders by ntfs.Order (roughly on-disk order) and throttles
// throughput with a token bucket, the same pattern the wider example
// pack uses for outbound API and disk I/O rate limiting.
package schedule

import (
	"context"
	"sort"

	"golang.org/x/time/rate"

	"github.com/ant04x/wimlib/internal/logger"
	"github.com/ant04x/wimlib/ntfs"
)

// Scheduler reads a batch of blobs in roughly on-disk order, capping
// aggregate throughput at a configured rate.
type Scheduler struct {
	limiter *rate.Limiter
}

// NewScheduler returns a Scheduler throttled to bytesPerSecond, with
// burst capacity burstBytes. A non-positive bytesPerSecond disables
// throttling (rate.Inf).
func NewScheduler(bytesPerSecond float64, burstBytes int) *Scheduler {
	limit := rate.Inf
	if bytesPerSecond > 0 {
		limit = rate.Limit(bytesPerSecond)
	}
	if burstBytes <= 0 {
		burstBytes = int(ntfs.ChunkSize)
	}
	return &Scheduler{limiter: rate.NewLimiter(limit, burstBytes)}
}

// Sink receives the bytes read for one blob's prefix, chunk by chunk,
// the same callback shape as BlobDescriptor.ReadPrefix's sink.
type Sink func(blob *ntfs.BlobDescriptor, chunk []byte) error

// Run reads the first prefixLen bytes of every blob in blobs, sorted by
// ntfs.Order, delivering chunks to sink and pacing reads against the
// token bucket. It stops and returns the first error encountered,
// either from a read or from sink itself.
func (s *Scheduler) Run(ctx context.Context, blobs []*ntfs.BlobDescriptor, prefixLen int, sink Sink) error {
	ordered := append([]*ntfs.BlobDescriptor(nil), blobs...)
	sort.Slice(ordered, func(i, j int) bool {
		return ntfs.Order(ordered[i], ordered[j]) < 0
	})

	for _, blob := range ordered {
		b := blob
		err := b.ReadPrefix(ctx, prefixLen, func(chunk []byte) error {
			if err := s.limiter.WaitN(ctx, len(chunk)); err != nil {
				return err
			}
			return sink(b, chunk)
		})
		if err != nil {
			return err
		}
	}

	logger.Debugf("schedule: read %d blob prefixes", len(ordered))
	return nil
}
