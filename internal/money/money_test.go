package money

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	cases := map[string]int64{
		"40":      4_000,
		"40.5":    4_050,
		"0.01":    1,
		" 12.30 ": 1_230,
	}
	for raw, want := range cases {
		got, err := Parse(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got, raw)
	}
}

func TestParseRejects(t *testing.T) {
	for _, raw := range []string{"", "0", "-1", "1.001", "abc"} {
		_, err := Parse(raw)
		require.Error(t, err, raw)
		assert.True(t, errors.Is(err, ErrInvalidAmount), raw)
	}
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "40.00", Format(4_000))
	assert.Equal(t, "0.07", Format(7))
}

func TestCommissionRoundsDown(t *testing.T) {
	assert.Equal(t, int64(0), Commission(4_000, 0))
	assert.Equal(t, int64(400), Commission(4_000, 1_000))
	assert.Equal(t, int64(2), Commission(33, 750))
	assert.Equal(t, int64(33), Commission(33, MaxBasisPoints))
}
