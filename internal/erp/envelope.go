// Package erp implements the two fixed remote calls of the ERP object protocol
// and a Session that authenticates once and reuses the identity.
package erp

import (
	"context"
	"fmt"

	"github.com/teo-lapa/app-hub-platform-sub019/internal/xmlrpc"
)

// Endpoint paths
const (
	CommonPath = "/xmlrpc/2/common"
	ObjectPath = "/xmlrpc/2/object"
)

// Remote services, as used in span names and metric labels
const (
	ServiceCommon = "common"
	ServiceObject = "object"
)

// Poster sends an encoded call document and returns the response document.
// Implementations own TLS, timeouts and retries.
type Poster interface {
	Post(ctx context.Context, path string, body []byte) ([]byte, error)
}

// wireSize is the encoded size of one exchange in bytes.
type wireSize struct {
	Request  int
	Response int
}

// call encodes method with params, posts it to path and decodes the single result.
// A remote fault is returned as *xmlrpc.Fault.
func call(ctx context.Context, p Poster, path, method string, params ...xmlrpc.Value) (xmlrpc.Value, wireSize, error) {
	var size wireSize

	doc, err := xmlrpc.EncodeCall(method, params...)
	if err != nil {
		return nil, size, fmt.Errorf("encode %s: %w", method, err)
	}
	size.Request = len(doc)

	resp, err := p.Post(ctx, path, doc)
	if err != nil {
		return nil, size, fmt.Errorf("post %s: %w", method, err)
	}
	size.Response = len(resp)

	v, err := xmlrpc.DecodeResponse(resp)
	if err != nil {
		return nil, size, fmt.Errorf("%s: %w", method, err)
	}
	return v, size, nil
}

// Authenticate runs the identity check authenticate(db, login, password, {}) on the common endpoint.
// Anything other than a positive Int result is an *AuthenticationError.
func Authenticate(ctx context.Context, p Poster, db, login, password string) (int64, error) {
	v, _, err := authenticate(ctx, p, db, login, password)
	return v, err
}

func authenticate(ctx context.Context, p Poster, db, login, password string) (int64, wireSize, error) {
	v, size, err := call(ctx, p, CommonPath, "authenticate",
		xmlrpc.Str(db), xmlrpc.Str(login), xmlrpc.Str(password), xmlrpc.Record{})
	if err != nil {
		return 0, size, err
	}

	uid, ok := v.(xmlrpc.Int)
	if !ok || uid <= 0 {
		return 0, size, &AuthenticationError{Database: db, Login: login, Got: v}
	}
	return int64(uid), size, nil
}

// ExecuteKw invokes model.method on the object endpoint as
// execute_kw(db, uid, password, model, method, args, kwargs).
// A nil kwargs is sent as an empty struct.
func ExecuteKw(ctx context.Context, p Poster, db string, uid int64, password, model, method string, args xmlrpc.List, kwargs xmlrpc.Record) (xmlrpc.Value, error) {
	v, _, err := executeKw(ctx, p, db, uid, password, model, method, args, kwargs)
	return v, err
}

func executeKw(ctx context.Context, p Poster, db string, uid int64, password, model, method string, args xmlrpc.List, kwargs xmlrpc.Record) (xmlrpc.Value, wireSize, error) {
	if args == nil {
		args = xmlrpc.List{}
	}
	if kwargs == nil {
		kwargs = xmlrpc.Record{}
	}
	return call(ctx, p, ObjectPath, "execute_kw",
		xmlrpc.Str(db), xmlrpc.Int(uid), xmlrpc.Str(password),
		xmlrpc.Str(model), xmlrpc.Str(method), args, kwargs)
}

// Version calls the unauthenticated version() probe on the common endpoint.
func Version(ctx context.Context, p Poster) (xmlrpc.Record, error) {
	rec, _, err := version(ctx, p)
	return rec, err
}

func version(ctx context.Context, p Poster) (xmlrpc.Record, wireSize, error) {
	v, size, err := call(ctx, p, CommonPath, "version")
	if err != nil {
		return nil, size, err
	}
	rec, ok := v.(xmlrpc.Record)
	if !ok {
		return nil, size, fmt.Errorf("%w: version returned %s", ErrUnexpectedResult, v.Kind())
	}
	return rec, size, nil
}
