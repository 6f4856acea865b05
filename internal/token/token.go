// Package token encodes sync checkpoints as opaque strings.
//
// A token wraps a single point in time, or the Beginning sentinel meaning
// "nothing has been delivered yet". Callers persist tokens verbatim and hand
// them back on the next pass; they must not parse them.
package token

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"time"
)

const (
	version byte = 1

	kindBeginning byte = 0
	kindInstant   byte = 1

	// magic(2) + version(1) + kind(1) + seconds(8) + nanos(4) + crc(4)
	encodedLen = 20
)

var magic = []byte("IT")

var encoding = base64.RawURLEncoding

// Marker is the decoded form of a token.
type Marker struct {
	// Time is the high-water mark. Zero when Beginning is set.
	Time time.Time
	// Beginning marks a token that predates every row.
	Beginning bool
}

// String renders the marker for logs.
func (m Marker) String() string {
	if m.Beginning {
		return "beginning"
	}
	return m.Time.Format(time.RFC3339Nano)
}

// InvalidTokenError is returned when a string was not produced by Encode.
type InvalidTokenError struct {
	Token  string
	Reason string
	Err    error
}

func (e *InvalidTokenError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid sync token %q: %s: %v", e.Token, e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid sync token %q: %s", e.Token, e.Reason)
}

func (e *InvalidTokenError) Unwrap() error {
	return e.Err
}

// Beginning returns the token that selects every row.
func Beginning() string {
	return encode(kindBeginning, time.Time{})
}

// Encode returns the token for t. A nil t means the current instant.
func Encode(t *time.Time) string {
	if t == nil {
		return EncodeTime(time.Now())
	}
	return EncodeTime(*t)
}

// EncodeTime returns the token for t.
func EncodeTime(t time.Time) string {
	return encode(kindInstant, t)
}

// EncodeMarker returns the token for m.
func EncodeMarker(m Marker) string {
	if m.Beginning {
		return Beginning()
	}
	return EncodeTime(m.Time)
}

func encode(kind byte, t time.Time) string {
	buf := make([]byte, 0, encodedLen)
	buf = append(buf, magic...)
	buf = append(buf, version, kind)

	var sec int64
	var nsec uint32
	if kind == kindInstant {
		sec = t.Unix()
		nsec = uint32(t.Nanosecond())
	}
	buf = binary.BigEndian.AppendUint64(buf, uint64(sec))
	buf = binary.BigEndian.AppendUint32(buf, nsec)
	buf = binary.BigEndian.AppendUint32(buf, crc32.ChecksumIEEE(buf))

	return encoding.EncodeToString(buf)
}

// Decode parses a token produced by Encode. The empty string decodes to
// Beginning, which is what the framework passes when it holds no token yet.
func Decode(tok string) (Marker, error) {
	if tok == "" {
		return Marker{Beginning: true}, nil
	}

	data, err := encoding.DecodeString(tok)
	if err != nil {
		return Marker{}, &InvalidTokenError{Token: tok, Reason: "not base64url", Err: err}
	}
	if len(data) != encodedLen {
		return Marker{}, &InvalidTokenError{Token: tok, Reason: fmt.Sprintf("length %d, want %d", len(data), encodedLen)}
	}
	if !bytes.Equal(data[:2], magic) {
		return Marker{}, &InvalidTokenError{Token: tok, Reason: "bad magic"}
	}

	body, sum := data[:encodedLen-4], binary.BigEndian.Uint32(data[encodedLen-4:])
	if crc32.ChecksumIEEE(body) != sum {
		return Marker{}, &InvalidTokenError{Token: tok, Reason: "checksum mismatch"}
	}
	if data[2] != version {
		return Marker{}, &InvalidTokenError{Token: tok, Reason: fmt.Sprintf("unsupported version %d", data[2])}
	}

	sec := int64(binary.BigEndian.Uint64(data[4:12]))
	nsec := binary.BigEndian.Uint32(data[12:16])

	switch data[3] {
	case kindBeginning:
		if sec != 0 || nsec != 0 {
			return Marker{}, &InvalidTokenError{Token: tok, Reason: "beginning marker carries a timestamp"}
		}
		return Marker{Beginning: true}, nil
	case kindInstant:
		if nsec >= uint32(time.Second) {
			return Marker{}, &InvalidTokenError{Token: tok, Reason: "nanoseconds out of range"}
		}
		return Marker{Time: time.Unix(sec, int64(nsec)).UTC()}, nil
	default:
		return Marker{}, &InvalidTokenError{Token: tok, Reason: fmt.Sprintf("unknown marker kind %d", data[3])}
	}
}
