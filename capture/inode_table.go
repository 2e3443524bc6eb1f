package capture

import (
	"github.com/ant04x/wimlib/internal/logger"
	"github.com/ant04x/wimlib/wimimage"
	"github.com/jacobsa/syncutil"
)

// inodeTable is the deduplicating map {volume inode number -> shared
// inode object} that realizes hard links. Guarded the same way
// dosNameIndex is: insert/lookup interleave with a recursive walk
// that is single-threaded today but shares this table's shape with a
// future concurrent walk.
type inodeTable struct {
	mu    syncutil.InvariantMutex
	nodes map[uint64]*wimimage.Inode
	// linksSeen counts dentries collapsed per inode, for a DEBUG-level
	// hard-link diagnostic.
	linksSeen map[uint64]int
}

func newInodeTable() *inodeTable {
	t := &inodeTable{
		nodes:     make(map[uint64]*wimimage.Inode),
		linksSeen: make(map[uint64]int),
	}
	t.mu = syncutil.NewInvariantMutex(t.checkInvariants)
	return t
}

func (t *inodeTable) checkInvariants() {
	for num, n := range t.nodes {
		if n.Number != num {
			panic("inodeTable: key/value inode number mismatch")
		}
	}
}

// newDentry returns either a freshly allocated inode bound to a new
// dentry, or a dentry sharing the existing inode for volumeInodeNo.
// The boolean result reports whether the inode was already present
// (link_count > 1 after this call), telling the caller whether to
// skip the per-inode attribute scan.
func (t *inodeTable) newDentry(basename string, volumeInodeNo uint64) (dentry *wimimage.Dentry, alreadySeen bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	node, exists := t.nodes[volumeInodeNo]
	if !exists {
		node = &wimimage.Inode{Number: volumeInodeNo, SecurityID: wimimage.NoSecurityID}
		t.nodes[volumeInodeNo] = node
	}
	node.LinkCount++
	t.linksSeen[volumeInodeNo]++

	if exists && t.linksSeen[volumeInodeNo] == 2 {
		logger.Debugf("capture: inode %d has multiple hard links", volumeInodeNo)
	}

	d := &wimimage.Dentry{LongName: basename, Inode: node}
	return d, exists
}

// inodes returns every distinct inode registered so far, in map
// iteration order (not first-seen order); callers that need a stable
// order should sort by Number.
func (t *inodeTable) inodes() []*wimimage.Inode {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]*wimimage.Inode, 0, len(t.nodes))
	for _, n := range t.nodes {
		out = append(out, n)
	}
	return out
}
