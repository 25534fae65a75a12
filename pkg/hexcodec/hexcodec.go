package hexcodec

import (
	"errors"
	"fmt"
	"strings"
)

const hexDigits = "0123456789ABCDEF"

var (
	ErrOddNibbleCount = errors.New("odd number of hex digits")
	ErrInvalidChar    = errors.New("invalid hex character")
)

type ParseError struct {
	Err  error
	Pos  int
	Char byte
}

func (e *ParseError) Error() string {
	if errors.Is(e.Err, ErrInvalidChar) {
		return fmt.Sprintf("%v %q at position %d", e.Err, e.Char, e.Pos)
	}
	return fmt.Sprintf("%v (trailing nibble at position %d)", e.Err, e.Pos)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Encode renders b as uppercase hex pairs separated by a single space.
func Encode(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	var out strings.Builder
	out.Grow(len(b)*3 - 1)
	for i, v := range b {
		if i > 0 {
			out.WriteByte(' ')
		}
		out.WriteByte(hexDigits[v>>4])
		out.WriteByte(hexDigits[v&0x0F])
	}
	return out.String()
}

// Decode parses separator tolerant hex text. Whitespace, ':' and '-' are skipped.
func Decode(text string) ([]byte, error) {
	return DecodeLimit(text, len(text))
}

// DecodeLimit is like Decode but stops once limit bytes have been produced,
// ignoring whatever text follows.
func DecodeLimit(text string, limit int) ([]byte, error) {
	if limit <= 0 {
		return []byte{}, nil
	}
	out := make([]byte, 0, min(limit, len(text)/2))
	hi, hiPos := -1, 0
	for i := 0; i < len(text) && len(out) < limit; i++ {
		c := text[i]
		if IsSeparator(c) {
			continue
		}
		v := Nibble(c)
		if v < 0 {
			return nil, &ParseError{Err: ErrInvalidChar, Pos: i, Char: c}
		}
		if hi < 0 {
			hi, hiPos = v, i
			continue
		}
		out = append(out, byte(hi<<4|v))
		hi = -1
	}
	if hi >= 0 {
		return nil, &ParseError{Err: ErrOddNibbleCount, Pos: hiPos, Char: text[hiPos]}
	}
	return out, nil
}

// IsSeparator reports whether c may appear between hex digits.
func IsSeparator(c byte) bool {
	switch c {
	case ' ', '\t', '\r', '\n', ':', '-':
		return true
	}
	return false
}

// Nibble returns the value of a single hex digit or -1.
func Nibble(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'A' && c <= 'F':
		return int(c-'A') + 10
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10
	}
	return -1
}

// IsHex reports whether s is non-empty and made up of hex digits only.
func IsHex(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if Nibble(s[i]) < 0 {
			return false
		}
	}
	return true
}
