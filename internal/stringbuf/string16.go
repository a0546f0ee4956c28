// Package stringbuf provides an exact UTF-16 code unit string type used for
// wire-accurate protocol text, and a builder for assembling large payloads.
package stringbuf

import (
	"encoding/binary"
	"strconv"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/cespare/xxhash/v2"
)

// String16 is an immutable sequence of UTF-16 code units.
//
// The units are kept little-endian in a Go string so the value is comparable
// with == and usable directly as a map key. Comparison and hashing are exact:
// no normalization, unpaired surrogates are preserved.
type String16 struct {
	b string
}

// FromUnits copies units into a new String16.
func FromUnits(units []uint16) String16 {
	if len(units) == 0 {
		return String16{}
	}
	buf := make([]byte, 2*len(units))
	for i, u := range units {
		binary.LittleEndian.PutUint16(buf[2*i:], u)
	}
	return String16{b: string(buf)}
}

// FromString decodes UTF-8 text. Invalid byte sequences become U+FFFD.
func FromString(s string) String16 {
	var b Builder
	b.Grow(len(s))
	b.AppendString(s)
	return b.Build()
}

// FromNarrow widens every byte of s into one code unit, without decoding.
func FromNarrow(s string) String16 {
	var b Builder
	b.AppendNarrow(s)
	return b.Build()
}

// FromInt returns the decimal representation of n.
func FromInt(n int) String16 {
	return FromNarrow(strconv.Itoa(n))
}

// Len returns the number of code units.
func (s String16) Len() int { return len(s.b) / 2 }

func (s String16) IsEmpty() bool { return len(s.b) == 0 }

// At returns the code unit at index i.
func (s String16) At(i int) uint16 {
	return uint16(s.b[2*i]) | uint16(s.b[2*i+1])<<8
}

// Units returns a copy of the code units.
func (s String16) Units() []uint16 {
	out := make([]uint16, s.Len())
	for i := range out {
		out[i] = s.At(i)
	}
	return out
}

func (s String16) Equal(other String16) bool { return s.b == other.b }

func (s String16) Concat(other String16) String16 {
	return String16{b: s.b + other.b}
}

// Index returns the code unit index of the first occurrence of sub, or -1.
func (s String16) Index(sub String16) int {
	if sub.IsEmpty() {
		return 0
	}
	n := sub.Len()
	for i := 0; i+n <= s.Len(); i++ {
		if s.b[2*i:2*(i+n)] == sub.b {
			return i
		}
	}
	return -1
}

// Substring returns at most n units starting at pos. A negative n means the
// rest of the string. Out of range arguments are clamped.
func (s String16) Substring(pos, n int) String16 {
	l := s.Len()
	if pos < 0 {
		pos = 0
	}
	if pos >= l {
		return String16{}
	}
	if n < 0 || pos+n > l {
		n = l - pos
	}
	return String16{b: s.b[2*pos : 2*(pos+n)]}
}

// Hash returns a stable 64-bit hash of the code units.
func (s String16) Hash() uint64 {
	return xxhash.Sum64String(s.b)
}

// String converts to UTF-8. Unpaired surrogates become U+FFFD.
func (s String16) String() string {
	return string(utf16.Decode(s.Units()))
}

// MarshalJSON writes a JSON string. Unpaired surrogates are emitted as \uXXXX
// escapes so that the exact unit sequence survives the round trip.
func (s String16) MarshalJSON() ([]byte, error) {
	units := s.Units()
	out := make([]byte, 0, len(units)+2)
	out = append(out, '"')
	for i := 0; i < len(units); i++ {
		u := units[i]
		switch {
		case u == '"':
			out = append(out, '\\', '"')
		case u == '\\':
			out = append(out, '\\', '\\')
		case u == '\n':
			out = append(out, '\\', 'n')
		case u == '\r':
			out = append(out, '\\', 'r')
		case u == '\t':
			out = append(out, '\\', 't')
		case u < 0x20, u == 0x2028, u == 0x2029:
			out = appendEscape(out, u)
		case u < utf8.RuneSelf:
			out = append(out, byte(u))
		case utf16.IsSurrogate(rune(u)):
			if u < 0xDC00 && i+1 < len(units) && units[i+1] >= 0xDC00 && units[i+1] <= 0xDFFF {
				out = utf8.AppendRune(out, utf16.DecodeRune(rune(u), rune(units[i+1])))
				i++
				continue
			}
			out = appendEscape(out, u)
		default:
			out = utf8.AppendRune(out, rune(u))
		}
	}
	return append(out, '"'), nil
}

// UnmarshalJSON reads a JSON string, keeping \uXXXX escapes as raw units.
func (s *String16) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*s = String16{}
		return nil
	}
	v, err := unquote(data)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

const hexDigits = "0123456789abcdef"

func appendEscape(out []byte, u uint16) []byte {
	return append(out, '\\', 'u',
		hexDigits[u>>12&0xF], hexDigits[u>>8&0xF], hexDigits[u>>4&0xF], hexDigits[u&0xF])
}
