package xmlrpc

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// DecodeResponse decodes a <methodResponse> document. A well-formed fault
// response is returned as a *Fault error.
func DecodeResponse(doc []byte) (Value, error) {
	p := newParser(doc)
	if err := p.expectStart("methodResponse"); err != nil {
		return nil, err
	}
	se, err := p.nextStart()
	if err != nil {
		return nil, err
	}

	var (
		v     Value
		fault *Fault
	)
	switch se.Name.Local {
	case "params":
		if err := p.expectStart("param"); err != nil {
			return nil, err
		}
		if v, err = p.paramValue(); err != nil {
			return nil, err
		}
		if err := p.expectEnd("params"); err != nil {
			return nil, err
		}
	case "fault":
		if err := p.expectStart("value"); err != nil {
			return nil, err
		}
		fv, err := p.decodeValue()
		if err != nil {
			return nil, err
		}
		if fault, err = faultFromValue(fv); err != nil {
			return nil, p.errorf("%v", err)
		}
		if err := p.expectEnd("fault"); err != nil {
			return nil, err
		}
	default:
		return nil, p.errorf("unexpected <%s> in <methodResponse>", se.Name.Local)
	}

	if err := p.expectEnd("methodResponse"); err != nil {
		return nil, err
	}
	if err := p.expectEOF(); err != nil {
		return nil, err
	}
	if fault != nil {
		return nil, fault
	}
	return v, nil
}

// DecodeCall decodes a <methodCall> document into its method name and
// parameters.
func DecodeCall(doc []byte) (string, List, error) {
	p := newParser(doc)
	if err := p.expectStart("methodCall"); err != nil {
		return "", nil, err
	}
	if err := p.expectStart("methodName"); err != nil {
		return "", nil, err
	}
	method, err := p.textUntilEnd("methodName")
	if err != nil {
		return "", nil, err
	}
	method = strings.TrimSpace(method)
	if method == "" {
		return "", nil, p.errorf("empty <methodName>")
	}

	params := List{}
	tok, err := p.next()
	if err != nil {
		return "", nil, err
	}
	if se, ok := tok.(xml.StartElement); ok && se.Name.Local == "params" {
		for {
			tok, err := p.next()
			if err != nil {
				return "", nil, err
			}
			if isEnd(tok, "params") {
				break
			}
			if !isStart(tok, "param") {
				return "", nil, p.unexpected(tok, "params")
			}
			v, err := p.paramValue()
			if err != nil {
				return "", nil, err
			}
			params = append(params, v)
		}
		if tok, err = p.next(); err != nil {
			return "", nil, err
		}
	}
	if !isEnd(tok, "methodCall") {
		return "", nil, p.unexpected(tok, "methodCall")
	}
	if err := p.expectEOF(); err != nil {
		return "", nil, err
	}
	return method, params, nil
}

// DecodeValue decodes a document holding a single bare <value> element.
func DecodeValue(doc []byte) (Value, error) {
	p := newParser(doc)
	if err := p.expectStart("value"); err != nil {
		return nil, err
	}
	v, err := p.decodeValue()
	if err != nil {
		return nil, err
	}
	if err := p.expectEOF(); err != nil {
		return nil, err
	}
	return v, nil
}

// utf8BOM is skipped at the start of a document; some servers emit it.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

type parser struct {
	d *xml.Decoder
	// skipped is the number of leading bytes not handed to d
	skipped int64
}

func newParser(doc []byte) *parser {
	p := &parser{}
	if bytes.HasPrefix(doc, utf8BOM) {
		doc = doc[len(utf8BOM):]
		p.skipped = int64(len(utf8BOM))
	}
	p.d = xml.NewDecoder(bytes.NewReader(doc))
	p.d.Strict = true
	return p
}

func (p *parser) offset() int64 {
	return p.skipped + p.d.InputOffset()
}

func (p *parser) errorf(format string, args ...any) error {
	return &DecodeError{Offset: p.offset(), Msg: fmt.Sprintf(format, args...)}
}

// token returns the next raw token, translating tokenizer failures into
// decode errors. io.EOF is passed through untouched.
func (p *parser) token() (xml.Token, error) {
	tok, err := p.d.Token()
	if err == nil {
		return tok, nil
	}
	if errors.Is(err, io.EOF) {
		return nil, io.EOF
	}
	return nil, &DecodeError{Offset: p.offset(), Msg: "invalid XML", Err: err}
}

// next returns the next structural token: an element boundary or
// non-whitespace text. Comments, processing instructions and directives
// are skipped.
func (p *parser) next() (xml.Token, error) {
	for {
		tok, err := p.token()
		if err == io.EOF {
			return nil, p.errorf("unexpected end of document")
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement, xml.EndElement:
			return t, nil
		case xml.CharData:
			if len(bytes.TrimSpace(t)) > 0 {
				return xml.CharData(bytes.Clone(t)), nil
			}
		}
	}
}

func (p *parser) nextStart() (xml.StartElement, error) {
	tok, err := p.next()
	if err != nil {
		return xml.StartElement{}, err
	}
	se, ok := tok.(xml.StartElement)
	if !ok {
		return xml.StartElement{}, p.unexpected(tok, "")
	}
	return se, nil
}

func (p *parser) expectStart(name string) error {
	tok, err := p.next()
	if err != nil {
		return err
	}
	if !isStart(tok, name) {
		return p.errorf("expected <%s>, found %s", name, describe(tok))
	}
	return nil
}

func (p *parser) expectEnd(name string) error {
	tok, err := p.next()
	if err != nil {
		return err
	}
	if !isEnd(tok, name) {
		return p.errorf("expected </%s>, found %s", name, describe(tok))
	}
	return nil
}

func (p *parser) expectEOF() error {
	for {
		tok, err := p.token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.Comment, xml.ProcInst, xml.Directive:
			continue
		case xml.CharData:
			if len(bytes.TrimSpace(t)) == 0 {
				continue
			}
		}
		return p.errorf("trailing content after document: %s", describe(tok))
	}
}

func (p *parser) unexpected(tok xml.Token, parent string) error {
	if parent == "" {
		return p.errorf("unexpected %s", describe(tok))
	}
	return p.errorf("unexpected %s in <%s>", describe(tok), parent)
}

// textUntilEnd collects character data up to the end of element name.
// Child elements are not allowed.
func (p *parser) textUntilEnd(name string) (string, error) {
	var sb strings.Builder
	for {
		tok, err := p.token()
		if err == io.EOF {
			return "", p.errorf("unterminated <%s>", name)
		}
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.CharData:
			sb.Write(t)
		case xml.EndElement:
			if t.Name.Local != name {
				return "", p.errorf("expected </%s>, found </%s>", name, t.Name.Local)
			}
			return sb.String(), nil
		case xml.StartElement:
			return "", p.errorf("unexpected <%s> in <%s>", t.Name.Local, name)
		}
	}
}

// paramValue decodes <value>...</value></param>; the <param> start has
// already been consumed.
func (p *parser) paramValue() (Value, error) {
	if err := p.expectStart("value"); err != nil {
		return nil, err
	}
	v, err := p.decodeValue()
	if err != nil {
		return nil, err
	}
	if err := p.expectEnd("param"); err != nil {
		return nil, err
	}
	return v, nil
}

// decodeValue decodes the content of a <value> element whose start tag has
// already been consumed, including its end tag. It is the single recursive
// entry point for scalars, arrays and structs alike.
func (p *parser) decodeValue() (Value, error) {
	var text strings.Builder
	for {
		tok, err := p.token()
		if err == io.EOF {
			return nil, p.errorf("unterminated <value>")
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.CharData:
			text.Write(t)
		case xml.EndElement:
			if t.Name.Local != "value" {
				return nil, p.errorf("expected </value>, found </%s>", t.Name.Local)
			}
			// untyped content is a string
			return Str(text.String()), nil
		case xml.StartElement:
			if strings.TrimSpace(text.String()) != "" {
				return nil, p.errorf("text mixed with <%s> in <value>", t.Name.Local)
			}
			v, err := p.typed(t.Name.Local)
			if err != nil {
				return nil, err
			}
			if err := p.expectEnd("value"); err != nil {
				return nil, err
			}
			return v, nil
		}
	}
}

// typed decodes the element named tag whose start has been consumed.
func (p *parser) typed(tag string) (Value, error) {
	switch tag {
	case "array":
		return p.decodeArray()
	case "struct":
		return p.decodeStruct()
	case "nil":
		s, err := p.textUntilEnd(tag)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(s) != "" {
			return nil, p.errorf("<nil> must be empty")
		}
		return Null{}, nil
	case "string":
		s, err := p.textUntilEnd(tag)
		if err != nil {
			return nil, err
		}
		return Str(s), nil
	case "int", "i4", "i8":
		s, err := p.textUntilEnd(tag)
		if err != nil {
			return nil, err
		}
		n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return nil, p.errorf("invalid <%s> %q", tag, s)
		}
		return Int(n), nil
	case "boolean":
		s, err := p.textUntilEnd(tag)
		if err != nil {
			return nil, err
		}
		switch strings.TrimSpace(s) {
		case "0":
			return Bool(false), nil
		case "1":
			return Bool(true), nil
		}
		return nil, p.errorf("invalid <boolean> %q", s)
	case "double":
		s, err := p.textUntilEnd(tag)
		if err != nil {
			return nil, err
		}
		d, err := decimal.NewFromString(strings.TrimSpace(s))
		if err != nil {
			return nil, p.errorf("invalid <double> %q", s)
		}
		return Double(d), nil
	}
	return nil, p.errorf("unsupported value type <%s>", tag)
}

// decodeArray decodes <data><value/>*</data></array>.
func (p *parser) decodeArray() (Value, error) {
	if err := p.expectStart("data"); err != nil {
		return nil, err
	}
	out := List{}
	for {
		tok, err := p.next()
		if err != nil {
			return nil, err
		}
		if isEnd(tok, "data") {
			break
		}
		if !isStart(tok, "value") {
			return nil, p.unexpected(tok, "data")
		}
		v, err := p.decodeValue()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := p.expectEnd("array"); err != nil {
		return nil, err
	}
	return out, nil
}

// decodeStruct decodes <member><name/><value/></member>* </struct>,
// preserving member order and duplicates.
func (p *parser) decodeStruct() (Value, error) {
	out := Record{}
	for {
		tok, err := p.next()
		if err != nil {
			return nil, err
		}
		if isEnd(tok, "struct") {
			return out, nil
		}
		if !isStart(tok, "member") {
			return nil, p.unexpected(tok, "struct")
		}
		if err := p.expectStart("name"); err != nil {
			return nil, err
		}
		name, err := p.textUntilEnd("name")
		if err != nil {
			return nil, err
		}
		if err := p.expectStart("value"); err != nil {
			return nil, err
		}
		v, err := p.decodeValue()
		if err != nil {
			return nil, err
		}
		if err := p.expectEnd("member"); err != nil {
			return nil, err
		}
		out = append(out, Field{Name: name, Value: v})
	}
}

func isStart(tok xml.Token, name string) bool {
	se, ok := tok.(xml.StartElement)
	return ok && se.Name.Local == name
}

func isEnd(tok xml.Token, name string) bool {
	ee, ok := tok.(xml.EndElement)
	return ok && ee.Name.Local == name
}

func describe(tok xml.Token) string {
	switch t := tok.(type) {
	case xml.StartElement:
		return "<" + t.Name.Local + ">"
	case xml.EndElement:
		return "</" + t.Name.Local + ">"
	case xml.CharData:
		s := strings.TrimSpace(string(t))
		if len(s) > 32 {
			s = s[:32] + "..."
		}
		return fmt.Sprintf("text %q", s)
	}
	return fmt.Sprintf("%T", tok)
}
