package dl

import (
	"bytes"
	"runtime"
	"slices"
	"strings"
	"unicode/utf16"
	"unicode/utf8"
	"unsafe"
)

// Text is the set of representations accepted for library and symbol names:
// text or bytes in the narrow encoding, or UTF-16 code units. A name may
// carry a single trailing NUL, in which case it is passed to the loader
// without copying where the representation allows it.
type Text interface {
	string | []byte | []uint16
}

type textKind uint8

const (
	kindString textKind = iota
	kindBytes
	kindWide
)

// text is the normalised form of a Text value.
type text struct {
	kind textKind
	s    string
	b    []byte
	w    []uint16
}

func textOf[N Text](name N) text {
	switch v := any(name).(type) {
	case string:
		return text{kind: kindString, s: v}
	case []byte:
		return text{kind: kindBytes, b: v}
	case []uint16:
		return text{kind: kindWide, w: v}
	}
	panic("unreachable")
}

// String renders t for logs and error messages, without any terminator.
func (t text) String() string {
	switch t.kind {
	case kindBytes:
		return string(bytes.TrimSuffix(t.b, []byte{0}))
	case kindWide:
		w := t.w
		if len(w) > 0 && w[len(w)-1] == 0 {
			w = w[:len(w)-1]
		}
		return string(utf16.Decode(w))
	default:
		return strings.TrimSuffix(t.s, "\x00")
	}
}

var (
	emptyNarrow = [1]byte{0}
	emptyWide   = [1]uint16{0}
)

// withNarrow calls fn with a NUL-terminated byte string holding t. The
// buffer stays valid until fn returns and must not be retained.
func (t text) withNarrow(fn func(p *byte) error) error {
	switch t.kind {
	case kindWide:
		s, err := decodeWide(t.w)
		if err != nil {
			return err
		}
		return narrowString(s, fn)
	case kindBytes:
		return narrowBytes(t.b, fn)
	default:
		return narrowString(t.s, fn)
	}
}

// withWide calls fn with a NUL-terminated UTF-16 string holding t. The
// buffer stays valid until fn returns and must not be retained.
func (t text) withWide(fn func(p *uint16) error) error {
	switch t.kind {
	case kindWide:
		return wideUnits(t.w, fn)
	case kindBytes:
		return wideString(string(t.b), fn)
	default:
		return wideString(t.s, fn)
	}
}

func narrowString(s string, fn func(p *byte) error) error {
	if s == "" {
		return fn(&emptyNarrow[0])
	}
	body := strings.TrimSuffix(s, "\x00")
	if i := strings.IndexByte(body, 0); i >= 0 {
		return &InteriorNulError{Position: i}
	}
	if len(body) < len(s) {
		err := fn(unsafe.StringData(s))
		runtime.KeepAlive(s)
		return err
	}
	buf := make([]byte, len(s)+1)
	copy(buf, s)
	err := fn(&buf[0])
	runtime.KeepAlive(buf)
	return err
}

func narrowBytes(b []byte, fn func(p *byte) error) error {
	if len(b) == 0 {
		return fn(&emptyNarrow[0])
	}
	body := bytes.TrimSuffix(b, []byte{0})
	if i := bytes.IndexByte(body, 0); i >= 0 {
		return &InteriorNulError{Position: i}
	}
	if len(body) < len(b) {
		err := fn(&b[0])
		runtime.KeepAlive(b)
		return err
	}
	buf := make([]byte, len(b)+1)
	copy(buf, b)
	err := fn(&buf[0])
	runtime.KeepAlive(buf)
	return err
}

func wideUnits(w []uint16, fn func(p *uint16) error) error {
	if len(w) == 0 {
		return fn(&emptyWide[0])
	}
	body := w
	if w[len(w)-1] == 0 {
		body = w[:len(w)-1]
	}
	if i := slices.Index(body, 0); i >= 0 {
		return &InteriorNulError{Position: i}
	}
	if len(body) < len(w) {
		err := fn(&w[0])
		runtime.KeepAlive(w)
		return err
	}
	buf := make([]uint16, len(w)+1)
	copy(buf, w)
	err := fn(&buf[0])
	runtime.KeepAlive(buf)
	return err
}

func wideString(s string, fn func(p *uint16) error) error {
	if s == "" {
		return fn(&emptyWide[0])
	}
	body := strings.TrimSuffix(s, "\x00")
	if i := strings.IndexByte(body, 0); i >= 0 {
		return &InteriorNulError{Position: i}
	}
	buf := make([]uint16, 0, len(body)+1)
	for i := 0; i < len(body); {
		r, size := utf8.DecodeRuneInString(body[i:])
		if r == utf8.RuneError && size <= 1 {
			return &DecodeError{Encoding: "UTF-8", Offset: i}
		}
		buf = utf16.AppendRune(buf, r)
		i += size
	}
	buf = append(buf, 0)
	err := fn(&buf[0])
	runtime.KeepAlive(buf)
	return err
}

// decodeWide converts UTF-16 code units, optionally terminated, to UTF-8.
func decodeWide(w []uint16) (string, error) {
	if len(w) > 0 && w[len(w)-1] == 0 {
		w = w[:len(w)-1]
	}
	if i := slices.Index(w, 0); i >= 0 {
		return "", &InteriorNulError{Position: i}
	}
	if err := validateUTF16(w); err != nil {
		return "", err
	}
	return string(utf16.Decode(w)), nil
}

// validateUTF16 rejects unpaired surrogates instead of letting them decode
// to U+FFFD.
func validateUTF16(w []uint16) error {
	for i := 0; i < len(w); i++ {
		if !utf16.IsSurrogate(rune(w[i])) {
			continue
		}
		if i+1 < len(w) && utf16.DecodeRune(rune(w[i]), rune(w[i+1])) != utf8.RuneError {
			i++
			continue
		}
		return &DecodeError{Encoding: "UTF-16", Offset: i}
	}
	return nil
}
