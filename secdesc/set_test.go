package secdesc

import (
	"bytes"
	"testing"

	"github.com/ant04x/wimlib/internal/werrors"
	"github.com/ant04x/wimlib/wimimage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddDedupsByteIdenticalDescriptors(t *testing.T) {
	var s Set

	id1 := s.Add([]byte("descriptor-a"))
	id2 := s.Add([]byte("descriptor-a"))
	id3 := s.Add([]byte("descriptor-b"))

	assert.Equal(t, id1, id2)
	assert.NotEqual(t, id1, id3)
	assert.Equal(t, 2, s.Len())
}

func TestAddKeepsDistinctDescriptorsApart(t *testing.T) {
	var s Set

	idA := s.Add([]byte("a"))
	idB := s.Add([]byte("b"))

	require.NotEqual(t, idA, idB)
	assert.Equal(t, []byte("a"), s.Get(idA))
	assert.Equal(t, []byte("b"), s.Get(idB))
}

func TestTotalLengthIsEightByteAligned(t *testing.T) {
	var s Set
	s.Add([]byte("x")) // 1 byte descriptor

	// header(8) + sizes(8) + data(1) = 17, rounds up to 24.
	assert.Equal(t, int64(24), s.TotalLength())
}

func TestSerializeEmptySet(t *testing.T) {
	var s Set

	var buf bytes.Buffer
	require.NoError(t, s.Serialize(&buf))

	assert.Equal(t, []byte{8, 0, 0, 0, 0, 0, 0, 0}, buf.Bytes())
}

func TestSerializeRoundTripsThroughFromDescriptors(t *testing.T) {
	var s Set
	idA := s.Add([]byte("alpha"))
	idB := s.Add([]byte("beta"))

	var buf bytes.Buffer
	require.NoError(t, s.Serialize(&buf))
	assert.Equal(t, int(s.TotalLength()), buf.Len())

	rebuilt := FromDescriptors(s.Descriptors())
	assert.Equal(t, []byte("alpha"), rebuilt.Get(idA))
	assert.Equal(t, []byte("beta"), rebuilt.Get(idB))
}

func TestValidateInodesRejectsOutOfRangeSecurityID(t *testing.T) {
	var s Set
	s.Add([]byte("sd"))

	inodes := []*wimimage.Inode{
		{SecurityID: 0},
		{SecurityID: wimimage.NoSecurityID},
		{SecurityID: 5},
	}

	err := ValidateInodes(&s, inodes)
	require.Error(t, err)
	assert.ErrorIs(t, err, werrors.InvalidMetadataResource)
}
