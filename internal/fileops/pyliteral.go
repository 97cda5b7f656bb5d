package fileops

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// pyScanner decodes the subset of Python literal syntax that print() emits
// for listings: lists, tuples, str and bytes literals, ints and None.
// Values come back as []any, string, int64 or nil.
type pyScanner struct {
	src string
	pos int
}

func parsePyLiteral(src string) (any, error) {
	s := &pyScanner{src: src}
	s.skipSpace()
	v, err := s.value()
	if err != nil {
		return nil, err
	}
	s.skipSpace()
	if s.pos != len(s.src) {
		return nil, s.errorf("trailing data %q", s.src[s.pos:])
	}
	return v, nil
}

func (s *pyScanner) errorf(format string, args ...any) error {
	return fmt.Errorf("offset %d: %s", s.pos, fmt.Sprintf(format, args...))
}

func (s *pyScanner) skipSpace() {
	for s.pos < len(s.src) {
		switch s.src[s.pos] {
		case ' ', '\t', '\r', '\n':
			s.pos++
		default:
			return
		}
	}
}

func (s *pyScanner) value() (any, error) {
	if s.pos >= len(s.src) {
		return nil, s.errorf("unexpected end of input")
	}
	switch c := s.src[s.pos]; {
	case c == '[':
		return s.sequence(']')
	case c == '(':
		return s.sequence(')')
	case c == '\'' || c == '"':
		return s.str()
	case c == 'b' && s.pos+1 < len(s.src) && (s.src[s.pos+1] == '\'' || s.src[s.pos+1] == '"'):
		s.pos++
		return s.str()
	case c == '-' || (c >= '0' && c <= '9'):
		return s.integer()
	case strings.HasPrefix(s.src[s.pos:], "None"):
		s.pos += len("None")
		return nil, nil
	default:
		return nil, s.errorf("unexpected %q", c)
	}
}

func (s *pyScanner) sequence(closer byte) ([]any, error) {
	s.pos++
	items := []any{}
	for {
		s.skipSpace()
		if s.pos >= len(s.src) {
			return nil, s.errorf("unterminated sequence")
		}
		if s.src[s.pos] == closer {
			s.pos++
			return items, nil
		}
		v, err := s.value()
		if err != nil {
			return nil, err
		}
		items = append(items, v)

		s.skipSpace()
		if s.pos >= len(s.src) {
			return nil, s.errorf("unterminated sequence")
		}
		switch s.src[s.pos] {
		case ',':
			s.pos++
		case closer:
		default:
			return nil, s.errorf("expected ',' or %q, got %q", closer, s.src[s.pos])
		}
	}
}

func (s *pyScanner) integer() (int64, error) {
	start := s.pos
	if s.src[s.pos] == '-' {
		s.pos++
	}
	for s.pos < len(s.src) && s.src[s.pos] >= '0' && s.src[s.pos] <= '9' {
		s.pos++
	}
	n, err := strconv.ParseInt(s.src[start:s.pos], 10, 64)
	if err != nil {
		return 0, s.errorf("bad integer %q", s.src[start:s.pos])
	}
	return n, nil
}

func (s *pyScanner) str() (string, error) {
	quote := s.src[s.pos]
	s.pos++
	var b strings.Builder
	for {
		if s.pos >= len(s.src) {
			return "", s.errorf("unterminated string")
		}
		c := s.src[s.pos]
		switch {
		case c == quote:
			s.pos++
			return b.String(), nil
		case c == '\\':
			if err := s.escape(&b); err != nil {
				return "", err
			}
		case c == '\n' || c == '\r':
			return "", s.errorf("newline in string")
		default:
			r, size := utf8.DecodeRuneInString(s.src[s.pos:])
			b.WriteRune(r)
			s.pos += size
		}
	}
}

func (s *pyScanner) escape(b *strings.Builder) error {
	s.pos++
	if s.pos >= len(s.src) {
		return s.errorf("dangling escape")
	}
	c := s.src[s.pos]
	s.pos++
	switch c {
	case '\\', '\'', '"':
		b.WriteByte(c)
	case 'n':
		b.WriteByte('\n')
	case 'r':
		b.WriteByte('\r')
	case 't':
		b.WriteByte('\t')
	case '0':
		b.WriteByte(0)
	case 'x':
		return s.hexEscape(b, 2)
	case 'u':
		return s.hexEscape(b, 4)
	case 'U':
		return s.hexEscape(b, 8)
	default:
		return s.errorf("unknown escape \\%c", c)
	}
	return nil
}

func (s *pyScanner) hexEscape(b *strings.Builder, digits int) error {
	if s.pos+digits > len(s.src) {
		return s.errorf("short hex escape")
	}
	n, err := strconv.ParseUint(s.src[s.pos:s.pos+digits], 16, 32)
	if err != nil {
		return s.errorf("bad hex escape %q", s.src[s.pos:s.pos+digits])
	}
	s.pos += digits
	// \xNN in a str repr is a code point, not a raw byte.
	b.WriteRune(rune(n))
	return nil
}
