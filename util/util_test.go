package util

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundupRounddown(t *testing.T) {
	require.EqualValues(t, 4096, Roundup(1, 4096))
	require.EqualValues(t, 4096, Roundup(4096, 4096))
	require.EqualValues(t, 8192, Roundup(4097, 4096))
	require.EqualValues(t, 0, Rounddown(4095, 4096))
	require.EqualValues(t, 4096, Rounddown(4096, 4096))
}

func TestLog2(t *testing.T) {
	require.EqualValues(t, 0, FloorLog2(1))
	require.EqualValues(t, 2, FloorLog2(7))
	require.EqualValues(t, 3, FloorLog2(8))

	require.EqualValues(t, 0, CeilLog2(1))
	require.EqualValues(t, 3, CeilLog2(7))
	require.EqualValues(t, 3, CeilLog2(8))
	require.EqualValues(t, 4, CeilLog2(9))
}

func TestMinMax(t *testing.T) {
	require.Equal(t, 3, Min(3, 5))
	require.Equal(t, 5, Max(3, 5))
}
