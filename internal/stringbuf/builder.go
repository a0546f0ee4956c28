package stringbuf

import (
	"encoding/binary"
	"errors"
	"slices"
	"unicode/utf16"
	"unicode/utf8"
)

// Builder accumulates code units and produces a String16 with a single copy.
// The zero value is ready to use.
type Builder struct {
	buf []uint16
}

// Grow reserves room for n more code units. Capacity grows geometrically,
// so repeated appends are amortized.
func (b *Builder) Grow(n int) {
	if n <= 0 {
		return
	}
	b.buf = slices.Grow(b.buf, n)
}

func (b *Builder) Append(s String16) {
	b.Grow(s.Len())
	for i := 0; i < s.Len(); i++ {
		b.buf = append(b.buf, s.At(i))
	}
}

func (b *Builder) AppendUnit(u uint16) {
	b.buf = append(b.buf, u)
}

// AppendNarrow widens each byte of s into one code unit.
func (b *Builder) AppendNarrow(s string) {
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		b.buf = append(b.buf, uint16(s[i]))
	}
}

// AppendString decodes UTF-8 text, encoding runes outside the BMP as surrogate pairs.
func (b *Builder) AppendString(s string) {
	for _, r := range s {
		b.appendRune(r)
	}
}

func (b *Builder) appendRune(r rune) {
	if r >= 0x10000 {
		hi, lo := utf16.EncodeRune(r)
		b.buf = append(b.buf, uint16(hi), uint16(lo))
		return
	}
	b.buf = append(b.buf, uint16(r))
}

func (b *Builder) Len() int { return len(b.buf) }

// Build returns the accumulated units. The builder stays usable.
func (b *Builder) Build() String16 {
	if len(b.buf) == 0 {
		return String16{}
	}
	out := make([]byte, 2*len(b.buf))
	for i, u := range b.buf {
		binary.LittleEndian.PutUint16(out[2*i:], u)
	}
	return String16{b: string(out)}
}

func (b *Builder) Reset() { b.buf = b.buf[:0] }

var errBadString = errors.New("stringbuf: invalid JSON string")

func unquote(data []byte) (String16, error) {
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return String16{}, errBadString
	}
	data = data[1 : len(data)-1]

	var b Builder
	b.Grow(len(data))
	for i := 0; i < len(data); {
		c := data[i]
		switch {
		case c == '\\':
			if i+1 >= len(data) {
				return String16{}, errBadString
			}
			switch data[i+1] {
			case '"', '\\', '/':
				b.AppendUnit(uint16(data[i+1]))
			case 'b':
				b.AppendUnit('\b')
			case 'f':
				b.AppendUnit('\f')
			case 'n':
				b.AppendUnit('\n')
			case 'r':
				b.AppendUnit('\r')
			case 't':
				b.AppendUnit('\t')
			case 'u':
				if i+6 > len(data) {
					return String16{}, errBadString
				}
				u, ok := parseHex4(data[i+2 : i+6])
				if !ok {
					return String16{}, errBadString
				}
				b.AppendUnit(u)
				i += 6
				continue
			default:
				return String16{}, errBadString
			}
			i += 2
		case c < utf8.RuneSelf:
			if c < 0x20 {
				return String16{}, errBadString
			}
			b.AppendUnit(uint16(c))
			i++
		default:
			r, size := utf8.DecodeRune(data[i:])
			b.appendRune(r)
			i += size
		}
	}
	return b.Build(), nil
}

func parseHex4(h []byte) (uint16, bool) {
	var v uint16
	for _, c := range h {
		v <<= 4
		switch {
		case c >= '0' && c <= '9':
			v |= uint16(c - '0')
		case c >= 'a' && c <= 'f':
			v |= uint16(c-'a') + 10
		case c >= 'A' && c <= 'F':
			v |= uint16(c-'A') + 10
		default:
			return 0, false
		}
	}
	return v, true
}
