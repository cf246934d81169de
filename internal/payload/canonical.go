package payload

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

const hexDigits = "0123456789abcdef"

// Encode produces the storage form of an object. Decode(Encode(obj)) is
// Equal to obj: strings and keys are written byte for byte.
//
// Differences from encoding/json:
//  1. Keys sorted by UTF-16 code units, not UTF-8 bytes
//  2. No HTML escaping; U+2028/U+2029 written literally
//  3. Floats always carry a fraction or exponent so they decode back as Float
func Encode(obj Object) ([]byte, error) {
	return encoder{}.encode(obj)
}

// Canonical is Encode with every string and key NFC normalised, so payloads
// that differ only in Unicode composition render identically. It is a display
// form for plans, listings and golden files; it is lossy and never stored.
func Canonical(obj Object) ([]byte, error) {
	return encoder{nfc: true}.encode(obj)
}

type encoder struct {
	nfc bool
}

func (e encoder) encode(obj Object) ([]byte, error) {
	var buf bytes.Buffer
	if err := e.object(&buf, obj); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// MustEncode is like Encode but panics on error.
// Use only in tests or with payloads known to be finite.
func MustEncode(obj Object) []byte {
	data, err := Encode(obj)
	if err != nil {
		panic(err)
	}
	return data
}

// MustCanonical is like Canonical but panics on error.
func MustCanonical(obj Object) []byte {
	data, err := Canonical(obj)
	if err != nil {
		panic(err)
	}
	return data
}

func (e encoder) value(buf *bytes.Buffer, v Value) error {
	switch val := v.(type) {
	case nil, Null:
		buf.WriteString("null")
	case String:
		e.writeString(buf, string(val))
	case Int:
		buf.WriteString(strconv.FormatInt(int64(val), 10))
	case Float:
		f := float64(val)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("non-finite float %v", f)
		}
		s := strconv.FormatFloat(f, 'g', -1, 64)
		if !strings.ContainsAny(s, ".eE") {
			s += ".0"
		}
		buf.WriteString(s)
	case Bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case Array:
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := e.value(buf, elem); err != nil {
				return fmt.Errorf("[%d]: %w", i, err)
			}
		}
		buf.WriteByte(']')
	case Object:
		return e.object(buf, val)
	default:
		return fmt.Errorf("unknown payload value %T", v)
	}
	return nil
}

func (e encoder) object(buf *bytes.Buffer, obj Object) error {
	buf.WriteByte('{')
	for i, k := range obj.SortedKeys() {
		if i > 0 {
			buf.WriteByte(',')
		}
		e.writeString(buf, k)
		buf.WriteByte(':')
		if err := e.value(buf, obj[k]); err != nil {
			return fmt.Errorf("key %q: %w", k, err)
		}
	}
	buf.WriteByte('}')
	return nil
}

// writeString escapes only quote, backslash and C0 controls.
func (e encoder) writeString(buf *bytes.Buffer, s string) {
	if e.nfc {
		s = norm.NFC.String(s)
	}
	buf.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			buf.WriteString(`\"`)
		case '\\':
			buf.WriteString(`\\`)
		case '\b':
			buf.WriteString(`\b`)
		case '\f':
			buf.WriteString(`\f`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		default:
			if r < 0x20 {
				buf.WriteString(`\u00`)
				buf.WriteByte(hexDigits[r>>4])
				buf.WriteByte(hexDigits[r&0xf])
				continue
			}
			buf.WriteRune(r)
		}
	}
	buf.WriteByte('"')
}
