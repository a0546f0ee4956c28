package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
)

var ErrInvalidFrame = errors.New("protocol: frame is neither UTF-8 nor BOM-marked UTF-16")

var (
	bomLE = []byte{0xFF, 0xFE}
	bomBE = []byte{0xFE, 0xFF}
)

// DecodeFrame turns a raw transport frame into command text. UTF-16 frames
// must start with a byte order mark; anything else must be valid UTF-8.
func DecodeFrame(data []byte) (string, error) {
	if bytes.HasPrefix(data, bomLE) || bytes.HasPrefix(data, bomBE) {
		dec := unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM).NewDecoder()
		out, err := dec.Bytes(data)
		if err != nil {
			return "", fmt.Errorf("decode utf-16 frame: %w", err)
		}
		return string(out), nil
	}
	if !utf8.Valid(data) {
		return "", ErrInvalidFrame
	}
	return string(data), nil
}
