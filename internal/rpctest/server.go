// Package rpctest provides an in-process fake ERP server speaking the XML-RPC object protocol.
package rpctest

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/teo-lapa/app-hub-platform-sub019/internal/xmlrpc"
)

// Fault codes used by the fake server
const (
	FaultGeneric      = 1
	FaultAccessDenied = 3
)

// Default credentials accepted by a new Server
const (
	DefaultDatabase = "mydb"
	DefaultLogin    = "admin"
	DefaultPassword = "secret"
	DefaultUID      = 7
)

// Handler answers one model method. Returning an *xmlrpc.Fault sends a fault response.
type Handler func(args xmlrpc.List, kwargs xmlrpc.Record) (xmlrpc.Value, error)

// Call records one request received by the server.
type Call struct {
	Path   string
	Method string
	Params xmlrpc.List
}

// Server is a fake ERP backed by httptest.
//
// execute_kw requests without a registered handler are echoed back as
// {model, method, args, kwargs} so tests can inspect what was sent.
type Server struct {
	*httptest.Server

	database string
	login    string
	password string
	uid      int64

	authCalls atomic.Int64

	mu       sync.Mutex
	calls    []Call
	handlers map[string]Handler
	status   int
	raw      []byte
}

// Option configures a Server.
type Option func(*Server)

// WithCredentials sets the accepted credentials and the uid authenticate returns.
func WithCredentials(database, login, password string, uid int64) Option {
	return func(s *Server) {
		s.database, s.login, s.password, s.uid = database, login, password, uid
	}
}

// WithHandler registers h for model.method.
func WithHandler(model, method string, h Handler) Option {
	return func(s *Server) {
		s.handlers[model+"."+method] = h
	}
}

// NewServer starts a fake ERP. Callers must Close it.
func NewServer(opts ...Option) *Server {
	gin.SetMode(gin.TestMode)

	s := &Server{
		database: DefaultDatabase,
		login:    DefaultLogin,
		password: DefaultPassword,
		uid:      DefaultUID,
		handlers: make(map[string]Handler),
	}
	for _, opt := range opts {
		opt(s)
	}

	r := gin.New()
	r.Use(gin.Recovery(), otelgin.Middleware("rpctest"))
	r.POST("/xmlrpc/2/common", s.handle(s.common))
	r.POST("/xmlrpc/2/object", s.handle(s.object))

	s.Server = httptest.NewServer(r)
	return s
}

// AuthCalls returns how many authenticate requests were received.
func (s *Server) AuthCalls() int {
	return int(s.authCalls.Load())
}

// Calls returns a copy of all recorded requests.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// FailWith makes every following request answer with the given HTTP status.
// A zero status restores normal behavior.
func (s *Server) FailWith(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

// RespondRaw makes every following request answer 200 with body verbatim.
// A nil body restores normal behavior.
func (s *Server) RespondRaw(body []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.raw = body
}

type dispatch func(method string, params xmlrpc.List) (xmlrpc.Value, error)

func (s *Server) handle(d dispatch) gin.HandlerFunc {
	return func(c *gin.Context) {
		s.mu.Lock()
		status, raw := s.status, s.raw
		s.mu.Unlock()

		if status != 0 {
			c.String(status, http.StatusText(status))
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.String(http.StatusBadRequest, err.Error())
			return
		}

		method, params, err := xmlrpc.DecodeCall(body)
		if err != nil {
			s.writeFault(c, &xmlrpc.Fault{Code: FaultGeneric, Message: err.Error()})
			return
		}

		s.mu.Lock()
		s.calls = append(s.calls, Call{Path: c.Request.URL.Path, Method: method, Params: params})
		s.mu.Unlock()

		if raw != nil {
			c.Data(http.StatusOK, "text/xml", raw)
			return
		}

		result, err := d(method, params)
		if err != nil {
			var fault *xmlrpc.Fault
			if !errors.As(err, &fault) {
				fault = &xmlrpc.Fault{Code: FaultGeneric, Message: err.Error()}
			}
			s.writeFault(c, fault)
			return
		}

		doc, err := xmlrpc.EncodeResponse(result)
		if err != nil {
			s.writeFault(c, &xmlrpc.Fault{Code: FaultGeneric, Message: err.Error()})
			return
		}
		c.Data(http.StatusOK, "text/xml", doc)
	}
}

func (s *Server) writeFault(c *gin.Context, f *xmlrpc.Fault) {
	doc, err := xmlrpc.EncodeFault(f)
	if err != nil {
		c.String(http.StatusInternalServerError, err.Error())
		return
	}
	c.Data(http.StatusOK, "text/xml", doc)
}

func (s *Server) common(method string, params xmlrpc.List) (xmlrpc.Value, error) {
	switch method {
	case "version":
		return xmlrpc.Record{
			{Name: "server_version", Value: xmlrpc.Str("17.0")},
			{Name: "server_version_info", Value: xmlrpc.List{
				xmlrpc.Int(17), xmlrpc.Int(0), xmlrpc.Int(0), xmlrpc.Str("final"), xmlrpc.Int(0), xmlrpc.Str(""),
			}},
			{Name: "server_serie", Value: xmlrpc.Str("17.0")},
			{Name: "protocol_version", Value: xmlrpc.Int(1)},
		}, nil
	case "authenticate":
		s.authCalls.Add(1)
		if len(params) != 4 {
			return nil, &xmlrpc.Fault{Code: FaultGeneric, Message: fmt.Sprintf("authenticate expects 4 arguments, got %d", len(params))}
		}
		if params[0] == xmlrpc.Str(s.database) && params[1] == xmlrpc.Str(s.login) && params[2] == xmlrpc.Str(s.password) {
			return xmlrpc.Int(s.uid), nil
		}
		return xmlrpc.Bool(false), nil
	default:
		return nil, &xmlrpc.Fault{Code: FaultGeneric, Message: fmt.Sprintf("method %q not found on common", method)}
	}
}

func (s *Server) object(method string, params xmlrpc.List) (xmlrpc.Value, error) {
	if method != "execute_kw" {
		return nil, &xmlrpc.Fault{Code: FaultGeneric, Message: fmt.Sprintf("method %q not found on object", method)}
	}
	if len(params) != 7 {
		return nil, &xmlrpc.Fault{Code: FaultGeneric, Message: fmt.Sprintf("execute_kw expects 7 arguments, got %d", len(params))}
	}

	if params[0] != xmlrpc.Str(s.database) || params[1] != xmlrpc.Int(s.uid) || params[2] != xmlrpc.Str(s.password) {
		return nil, &xmlrpc.Fault{Code: FaultAccessDenied, Message: "Access Denied"}
	}

	model, _ := params[3].(xmlrpc.Str)
	name, _ := params[4].(xmlrpc.Str)
	args, ok := params[5].(xmlrpc.List)
	if !ok {
		return nil, &xmlrpc.Fault{Code: FaultGeneric, Message: "args must be an array"}
	}
	kwargs, ok := params[6].(xmlrpc.Record)
	if !ok {
		return nil, &xmlrpc.Fault{Code: FaultGeneric, Message: "kwargs must be a struct"}
	}

	s.mu.Lock()
	h := s.handlers[string(model)+"."+string(name)]
	s.mu.Unlock()
	if h != nil {
		return h(args, kwargs)
	}

	return xmlrpc.Record{
		{Name: "model", Value: model},
		{Name: "method", Value: name},
		{Name: "args", Value: args},
		{Name: "kwargs", Value: kwargs},
	}, nil
}
