package bitset_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joeycumines/go-corekernel/bitset"
)

func TestSet_SetClearInvert(t *testing.T) {
	s := bitset.New(17)
	require.Equal(t, 24, s.Len()) // rounded up to a whole byte

	for i := uint64(0); i < 17; i++ {
		require.False(t, s.IsSet(i), "bit %d should start clear", i)
	}

	s.SetBit(3)
	require.True(t, s.IsSet(3))
	require.False(t, s.IsSet(2))
	require.False(t, s.IsSet(4))

	s.ClearBit(3)
	require.False(t, s.IsSet(3))

	require.True(t, s.Invert(9))
	require.True(t, s.IsSet(9))
	require.False(t, s.Invert(9))
	require.False(t, s.IsSet(9))
}

func TestSet_IndependentBits(t *testing.T) {
	s := bitset.New(64)
	for i := uint64(0); i < 64; i += 2 {
		s.SetBit(i)
	}
	for i := uint64(0); i < 64; i++ {
		require.Equal(t, i%2 == 0, s.IsSet(i), "bit %d", i)
	}
}
