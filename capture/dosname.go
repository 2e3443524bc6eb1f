package capture

import (
	"strconv"
	"unicode/utf16"

	"github.com/ant04x/wimlib/internal/logger"
	"github.com/jacobsa/syncutil"
)

// dosNameEntry is one recorded DOS short name, keyed by the inode
// number it names.
type dosNameEntry struct {
	name string
}

// dosNameIndex is the per-directory map {inode -> DOS short name}
// built during one readdir pass and drained once that directory's
// children have all been paired with their short names. Guarded by an
// InvariantMutex the way fs/inode.DirInode guards its own directory
// listing cache, since insert/lookup/drain interleave with the
// recursive walk and must never observe a half-drained map.
type dosNameIndex struct {
	mu      syncutil.InvariantMutex
	entries map[uint64]dosNameEntry
}

func newDOSNameIndex() *dosNameIndex {
	idx := &dosNameIndex{entries: make(map[uint64]dosNameEntry)}
	idx.mu = syncutil.NewInvariantMutex(idx.checkInvariants)
	return idx
}

func (idx *dosNameIndex) checkInvariants() {
	// Every entry must carry a name short enough to fit an 8.3 DOS
	// short name's maximum encoded length: 24 bytes as UTF-16LE, i.e.
	// 12 UTF-16 code units.
	for inode, e := range idx.entries {
		if len(utf16.Encode([]rune(e.name)))*2 > 24 {
			panic("dosNameIndex: name too long for inode " + strconv.FormatUint(inode, 10))
		}
	}
}

// insert records name as inode's DOS short name. If inode already has
// an entry, the duplicate is discarded and a warning logged, since
// NTFS guarantees at most one DOS name per inode.
func (idx *dosNameIndex) insert(inode uint64, name string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, exists := idx.entries[inode]; exists {
		logger.Warnf("capture: duplicate DOS name for inode %d, discarding %q", inode, name)
		return
	}
	idx.entries[inode] = dosNameEntry{name: name}
}

// lookup returns inode's recorded DOS short name, if any.
func (idx *dosNameIndex) lookup(inode uint64) (string, bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	e, ok := idx.entries[inode]
	if !ok {
		return "", false
	}
	return e.name, true
}

// drain empties the index; called once per directory after its
// Win32-named children have been paired with their short names.
func (idx *dosNameIndex) drain() {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.entries = make(map[uint64]dosNameEntry)
}
