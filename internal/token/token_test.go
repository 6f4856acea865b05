package token

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	times := []time.Time{
		time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 1, 12, 0, 0, 123456000, time.UTC),
		time.Date(2024, 3, 1, 12, 0, 0, 999999999, time.UTC),
		time.Date(1969, 12, 31, 23, 59, 59, 1, time.UTC),
		time.Date(2999, 1, 1, 0, 0, 0, 7, time.FixedZone("MSK", 3*3600)),
		time.Unix(0, 0),
	}

	for _, ts := range times {
		t.Run(ts.String(), func(t *testing.T) {
			tok := EncodeTime(ts)
			m, err := Decode(tok)
			require.NoError(t, err)
			assert.False(t, m.Beginning)
			assert.True(t, m.Time.Equal(ts), "got %s, want %s", m.Time, ts)
			assert.Equal(t, time.UTC, m.Time.Location())
		})
	}
}

func TestEncodeNilUsesNow(t *testing.T) {
	before := time.Now()
	m, err := Decode(Encode(nil))
	require.NoError(t, err)
	after := time.Now()

	assert.False(t, m.Time.Before(before))
	assert.False(t, m.Time.After(after))
}

func TestBeginning(t *testing.T) {
	m, err := Decode(Beginning())
	require.NoError(t, err)
	assert.True(t, m.Beginning)
	assert.True(t, m.Time.IsZero())

	m, err = Decode("")
	require.NoError(t, err)
	assert.True(t, m.Beginning)

	assert.Equal(t, Beginning(), EncodeMarker(Marker{Beginning: true}))
}

func TestTokenIsTransportSafe(t *testing.T) {
	tok := EncodeTime(time.Date(2024, 5, 5, 5, 5, 5, 5, time.UTC))
	assert.NotContains(t, tok, "=")
	assert.NotContains(t, tok, "+")
	assert.NotContains(t, tok, "/")
	assert.NotContains(t, tok, ",")
}

func TestDecodeRejectsForeignTokens(t *testing.T) {
	valid := EncodeTime(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	raw, err := base64.RawURLEncoding.DecodeString(valid)
	require.NoError(t, err)

	flipped := append([]byte(nil), raw...)
	flipped[10] ^= 0xFF

	badMagic := append([]byte(nil), raw...)
	badMagic[0] = 'X'

	cases := map[string]string{
		"garbage":        "not a token!",
		"java":           "rO0ABXNyABJqYXZhLnNxbC5UaW1lc3RhbXA=",
		"padded":         valid + "==",
		"truncated":      valid[:len(valid)-3],
		"extended":       valid + "AAAA",
		"corrupted":      base64.RawURLEncoding.EncodeToString(flipped),
		"bad magic":      base64.RawURLEncoding.EncodeToString(badMagic),
		"plain rfc3339":  "2024-01-01T00:00:00Z",
		"std base64 pad": base64.StdEncoding.EncodeToString(raw),
	}

	for name, tok := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(tok)
			require.Error(t, err)

			var invalid *InvalidTokenError
			require.True(t, errors.As(err, &invalid), "got %T", err)
			assert.Equal(t, tok, invalid.Token)
			assert.True(t, strings.HasPrefix(err.Error(), "invalid sync token"))
		})
	}
}
