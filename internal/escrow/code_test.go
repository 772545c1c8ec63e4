package escrow

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateCodeUsesAlphabet(t *testing.T) {
	seen := map[string]struct{}{}
	for i := 0; i < 500; i++ {
		code, err := GenerateCode()
		require.NoError(t, err)
		require.Len(t, code, CodeLength)
		for _, r := range code {
			require.True(t, strings.ContainsRune(CodeAlphabet, r), "unexpected rune %q in %s", r, code)
		}
		seen[code] = struct{}{}
	}
	assert.Greater(t, len(seen), 495)
}

func TestNormalizeCode(t *testing.T) {
	cases := map[string]string{
		"abcd-efgh":       "ABCDEFGH",
		"  ABCD EFGH  ":   "ABCDEFGH",
		"a-b-c-d-e-f-g-h": "ABCDEFGH",
		"":                "",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeCode(in), in)
	}
}

func TestValidCode(t *testing.T) {
	assert.True(t, ValidCode("ABCDEFGH"))
	assert.True(t, ValidCode("23456789"))
	assert.False(t, ValidCode("ABCDEFG"))
	assert.False(t, ValidCode("ABCDEFGHJ"))
	assert.False(t, ValidCode("ABCDEFG0"), "zero is ambiguous with O")
	assert.False(t, ValidCode("ABCDEFGI"), "I is ambiguous with 1")
	assert.False(t, ValidCode("abcdefgh"))
}

func TestCanTransition(t *testing.T) {
	for _, to := range []Status{StatusRedeemed, StatusExpired, StatusCancelled} {
		assert.True(t, CanTransition(StatusActive, to), to)
		for _, from := range []Status{StatusRedeemed, StatusExpired, StatusCancelled} {
			assert.False(t, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
	assert.False(t, CanTransition(StatusActive, StatusActive))
}

func TestErrorCodesRoundTrip(t *testing.T) {
	for _, err := range []error{ErrNotFound, ErrAlreadyRedeemed, ErrNoLongerValid, ErrExpired, ErrVenueMismatch, ErrUnknownVenue} {
		require.True(t, cacheable(err), err)
		assert.Equal(t, err, errorFromCode(ErrorCode(err)))
	}
	assert.False(t, cacheable(ErrLedgerFailure))
	assert.False(t, cacheable(ErrInsufficientFunds))
	assert.ErrorIs(t, errorFromCode("bogus"), ErrLedgerFailure)
	assert.Equal(t, codeInternal, ErrorCode(assert.AnError))
}
