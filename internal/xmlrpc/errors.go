package xmlrpc

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Errors returned by the xmlrpc package.
var (
	// ErrMalformedDocument is wrapped by every *DecodeError.
	ErrMalformedDocument = errors.New("xmlrpc: malformed document")
	// ErrUnsupportedValue is returned for inputs with no wire representation.
	ErrUnsupportedValue = errors.New("xmlrpc: unsupported value")
)

// DecodeError reports a structurally invalid wire document.
type DecodeError struct {
	// Offset is the byte offset in the input where the problem was detected.
	Offset int64
	Msg    string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("xmlrpc: malformed document at offset %d: %s: %v", e.Offset, e.Msg, e.Err)
	}
	return fmt.Sprintf("xmlrpc: malformed document at offset %d: %s", e.Offset, e.Msg)
}

// Unwrap lets errors.Is match ErrMalformedDocument as well as the cause.
func (e *DecodeError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrMalformedDocument, e.Err}
	}
	return []error{ErrMalformedDocument}
}

// Fault is an application-level fault returned by the remote side.
type Fault struct {
	Code    int64
	Message string
	// Detail is the complete fault struct as received.
	Detail Record
}

func (f *Fault) Error() string {
	msg := f.Message
	// the remote traceback is usually appended to faultString; keep the head
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		msg = msg[:i]
	}
	return fmt.Sprintf("xmlrpc: remote fault %d: %s", f.Code, msg)
}

// Record returns the fault as the struct sent on the wire.
func (f *Fault) Record() Record {
	if len(f.Detail) > 0 {
		return f.Detail
	}
	return Record{
		{Name: "faultCode", Value: Int(f.Code)},
		{Name: "faultString", Value: Str(f.Message)},
	}
}

// faultFromValue builds a Fault from the value inside a <fault> element.
func faultFromValue(v Value) (*Fault, error) {
	rec, ok := v.(Record)
	if !ok {
		return nil, fmt.Errorf("fault payload is a %s, want record", v.Kind())
	}
	f := &Fault{Detail: rec}
	switch code := valueOr(rec, "faultCode").(type) {
	case Int:
		f.Code = int64(code)
	case Str:
		// some servers send textual codes; keep them numeric when possible
		if n, err := strconv.ParseInt(strings.TrimSpace(string(code)), 10, 64); err == nil {
			f.Code = n
		}
	}
	if s, ok := valueOr(rec, "faultString").(Str); ok {
		f.Message = string(s)
	}
	return f, nil
}

func valueOr(r Record, name string) Value {
	v, ok := r.Get(name)
	if !ok {
		return Null{}
	}
	return v
}
