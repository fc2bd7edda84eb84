package kstack_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joeycumines/go-corekernel/kstack"
)

func TestProvider_MintsDistinctAddresses(t *testing.T) {
	p := kstack.New()
	a := p.Get()
	b := p.Get()
	c := p.Get()
	require.NotEqual(t, a, b)
	require.NotEqual(t, b, c)
	require.Equal(t, uint64(kstack.PageSize*2), b-a)
	require.Equal(t, uint64(kstack.PageSize*2), c-b)
}

func TestProvider_ReusesReturnedAddress(t *testing.T) {
	p := kstack.New()
	a := p.Get()
	b := p.Get()
	p.Put(a)

	reused := p.Get()
	require.Equal(t, a, reused)

	fresh := p.Get()
	require.NotEqual(t, b, fresh)
	require.NotEqual(t, a, fresh)
}

func TestVA_MonotonicAndTwoPagesApart(t *testing.T) {
	for id := uint64(1); id < 10; id++ {
		require.Equal(t, uint64(kstack.PageSize*2), kstack.VA(id+1)-kstack.VA(id))
	}
}
