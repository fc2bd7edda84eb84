package devtree_test

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joeycumines/go-corekernel/devtree"
)

func buildHeader(t *testing.T, magic, version uint32, rsvOff uint32) []byte {
	t.Helper()
	buf := make([]byte, 40)
	fields := []uint32{magic, 40 + 32, 0, 0, rsvOff, version, devtree.LastCompVersion, 0, 0, 0}
	for i, f := range fields {
		binary.BigEndian.PutUint32(buf[i*4:], f)
	}
	return buf
}

func TestParseHeader_Valid(t *testing.T) {
	buf := buildHeader(t, devtree.Magic, devtree.ExpectedVersion, 40)
	h := devtree.ParseHeader(buf)
	require.Equal(t, uint32(devtree.Magic), h.Magic)
	require.Equal(t, uint32(devtree.ExpectedVersion), h.Version)
}

func TestParseHeader_BadMagicPanics(t *testing.T) {
	buf := buildHeader(t, 0xDEADBEEF, devtree.ExpectedVersion, 40)
	require.Panics(t, func() { devtree.ParseHeader(buf) })
}

func TestParseHeader_BadVersionPanics(t *testing.T) {
	buf := buildHeader(t, devtree.Magic, 16, 40)
	require.Panics(t, func() { devtree.ParseHeader(buf) })
}

func TestParseHeader_TooShortPanics(t *testing.T) {
	require.Panics(t, func() { devtree.ParseHeader(make([]byte, 4)) })
}

func TestParseReservations_StopsAtTerminator(t *testing.T) {
	head := buildHeader(t, devtree.Magic, devtree.ExpectedVersion, 40)
	h := devtree.ParseHeader(head)

	rsv := make([]byte, 32)
	binary.BigEndian.PutUint64(rsv[0:], 0x1000)
	binary.BigEndian.PutUint64(rsv[8:], 0x2000)
	// remaining 16 bytes are the zero terminator

	blob := append(head, rsv...)
	res := devtree.ParseReservations(blob, h)
	require.Len(t, res, 1)
	require.Equal(t, uint64(0x1000), res[0].Address)
	require.Equal(t, uint64(0x2000), res[0].Size)
}

func TestParseReservations_Empty(t *testing.T) {
	head := buildHeader(t, devtree.Magic, devtree.ExpectedVersion, 40)
	h := devtree.ParseHeader(head)
	blob := append(head, make([]byte, 16)...) // immediate terminator
	res := devtree.ParseReservations(blob, h)
	require.Empty(t, res)
}
