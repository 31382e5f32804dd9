package xmlrpc

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"
)

const xmlHeader = `<?xml version="1.0"?>` + "\n"

// textEscaper escapes the characters that are structurally significant in
// the document. \r is escaped too because parsers normalise a literal one.
var textEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&apos;",
	"\r", "&#xD;",
)

// EncodeCall returns the <methodCall> document invoking method with params.
func EncodeCall(method string, params ...Value) ([]byte, error) {
	if method == "" {
		return nil, fmt.Errorf("%w: empty method name", ErrUnsupportedValue)
	}
	e := &encoder{}
	e.buf.WriteString(xmlHeader)
	e.buf.WriteString("<methodCall><methodName>")
	if err := e.text(method); err != nil {
		return nil, err
	}
	e.buf.WriteString("</methodName><params>")
	for i, p := range params {
		e.buf.WriteString("<param>")
		if err := e.value(p); err != nil {
			return nil, fmt.Errorf("param %d: %w", i, err)
		}
		e.buf.WriteString("</param>")
	}
	e.buf.WriteString("</params></methodCall>")
	return e.buf.Bytes(), nil
}

// EncodeResponse returns the <methodResponse> document carrying v.
func EncodeResponse(v Value) ([]byte, error) {
	e := &encoder{}
	e.buf.WriteString(xmlHeader)
	e.buf.WriteString("<methodResponse><params><param>")
	if err := e.value(v); err != nil {
		return nil, err
	}
	e.buf.WriteString("</param></params></methodResponse>")
	return e.buf.Bytes(), nil
}

// EncodeFault returns the <methodResponse> document carrying fault f.
func EncodeFault(f *Fault) ([]byte, error) {
	e := &encoder{}
	e.buf.WriteString(xmlHeader)
	e.buf.WriteString("<methodResponse><fault>")
	if err := e.value(f.Record()); err != nil {
		return nil, err
	}
	e.buf.WriteString("</fault></methodResponse>")
	return e.buf.Bytes(), nil
}

type encoder struct {
	buf bytes.Buffer
}

func (e *encoder) value(v Value) error {
	e.buf.WriteString("<value>")
	switch x := v.(type) {
	case Null:
		e.buf.WriteString("<nil/>")
	case Bool:
		if x {
			e.buf.WriteString("<boolean>1</boolean>")
		} else {
			e.buf.WriteString("<boolean>0</boolean>")
		}
	case Int:
		tag := "int"
		if x < math.MinInt32 || x > math.MaxInt32 {
			tag = "i8"
		}
		e.buf.WriteString("<" + tag + ">")
		e.buf.WriteString(strconv.FormatInt(int64(x), 10))
		e.buf.WriteString("</" + tag + ">")
	case Double:
		e.buf.WriteString("<double>")
		e.buf.WriteString(x.String())
		e.buf.WriteString("</double>")
	case Str:
		e.buf.WriteString("<string>")
		if err := e.text(string(x)); err != nil {
			return err
		}
		e.buf.WriteString("</string>")
	case List:
		e.buf.WriteString("<array><data>")
		for i, elem := range x {
			if err := e.value(elem); err != nil {
				return fmt.Errorf("element %d: %w", i, err)
			}
		}
		e.buf.WriteString("</data></array>")
	case Record:
		e.buf.WriteString("<struct>")
		for _, f := range x {
			e.buf.WriteString("<member><name>")
			if err := e.text(f.Name); err != nil {
				return err
			}
			e.buf.WriteString("</name>")
			if err := e.value(f.Value); err != nil {
				return fmt.Errorf("member %q: %w", f.Name, err)
			}
			e.buf.WriteString("</member>")
		}
		e.buf.WriteString("</struct>")
	case nil:
		return fmt.Errorf("%w: nil Value", ErrUnsupportedValue)
	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedValue, v)
	}
	e.buf.WriteString("</value>")
	return nil
}

func (e *encoder) text(s string) error {
	if !utf8.ValidString(s) {
		return fmt.Errorf("%w: string is not valid UTF-8", ErrUnsupportedValue)
	}
	for _, r := range s {
		if !isXMLChar(r) {
			return fmt.Errorf("%w: character %U cannot be carried by XML", ErrUnsupportedValue, r)
		}
	}
	textEscaper.WriteString(&e.buf, s)
	return nil
}

// isXMLChar reports whether r is in the XML 1.0 Char production.
func isXMLChar(r rune) bool {
	return r == 0x09 || r == 0x0A || r == 0x0D ||
		(r >= 0x20 && r <= 0xD7FF) ||
		(r >= 0xE000 && r <= 0xFFFD) ||
		(r >= 0x10000 && r <= 0x10FFFF)
}
