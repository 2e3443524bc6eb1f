//go:build windows

package main

import (
	"fmt"
	"io"

	"github.com/ant04x/wimlib/capture"
	"github.com/ant04x/wimlib/wimimage"
)

// summary tallies the outcome of every dentry the walk visits, the
// counts a capture driver prints at the end of a run.
type summary struct {
	ok          int
	excluded    int
	unsupported int
}

func newSummary() *summary {
	return &summary{}
}

func (s *summary) record(path string, kind capture.ProgressKind) {
	switch kind {
	case capture.ProgressOK:
		s.ok++
	case capture.ProgressExcluded:
		s.excluded++
	case capture.ProgressUnsupported:
		s.unsupported++
	}
}

func (s *summary) print(w io.Writer, img *wimimage.Image) {
	var files, dirs, reparse int
	var bytes int64
	for _, n := range img.Inodes {
		switch {
		case n.IsDirectory():
			dirs++
		case n.IsReparsePoint():
			reparse++
		default:
			files++
		}
		for _, st := range n.Streams {
			if st.Blob != nil {
				bytes += st.Blob.Size()
			}
		}
	}

	fmt.Fprintf(w, "captured %d dentries (%d ok, %d excluded, %d unsupported)\n", s.ok+s.excluded+s.unsupported, s.ok, s.excluded, s.unsupported)
	fmt.Fprintf(w, "inodes: %d files, %d directories, %d reparse points, %d security descriptors\n", files, dirs, reparse, len(img.SecurityDescriptors))
	fmt.Fprintf(w, "unhashed payload bytes discovered: %d across %d streams\n", bytes, len(img.UnhashedBlobs))
}
