package names

import (
	"testing"

	"github.com/InsulaLabs/strata/internal/apierr"
	"github.com/stretchr/testify/require"
)

func TestNames_CanonicalEquality(t *testing.T) {
	a, err := NewResourceName("Rsc_01")
	require.NoError(t, err)
	b, err := NewResourceName("RSC_01")
	require.NoError(t, err)

	require.Equal(t, a.Canonical(), b.Canonical())
	require.Equal(t, a, ResourceName{Name{canonical: "RSC_01", display: "Rsc_01"}})
	require.NotEqual(t, a.Display(), b.Display())
	require.False(t, a.Less(b.Name))
	require.False(t, b.Less(a.Name))
}

func TestNames_Validation(t *testing.T) {
	cases := []struct {
		name  string
		input string
	}{
		{"too short", "a"},
		{"leading digit", "1abc"},
		{"bad char", "abc$"},
		{"dot outside node names", "a.b"},
		{"too long", "a123456789012345678901234567890123456789012345678"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewResourceName(tc.input)
			require.Error(t, err)
			require.True(t, apierr.IsValidation(err))
		})
	}

	t.Run("node names accept dots", func(t *testing.T) {
		n, err := NewNodeName("node-1.example.org")
		require.NoError(t, err)
		require.Equal(t, "NODE-1.EXAMPLE.ORG", n.Canonical())
	})
}

func TestNames_NumericRanges(t *testing.T) {
	_, err := NewVolumeNumber(-1)
	require.True(t, apierr.IsValidation(err))
	_, err = NewVolumeNumber(MaxVolumeNumber + 1)
	require.True(t, apierr.IsValidation(err))
	v, err := NewVolumeNumber(7)
	require.NoError(t, err)
	require.Equal(t, "00007", v.Canonical())

	_, err = NewNodeID(32)
	require.True(t, apierr.IsValidation(err))
	_, err = NewTCPPort(0)
	require.True(t, apierr.IsValidation(err))
	p, err := NewTCPPort(7000)
	require.NoError(t, err)
	require.Equal(t, TCPPort(7000), p)
}
