package erp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teo-lapa/app-hub-platform-sub019/internal/logger"
	"github.com/teo-lapa/app-hub-platform-sub019/internal/telemetry"
	"github.com/teo-lapa/app-hub-platform-sub019/internal/xmlrpc"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// SessionConfig identifies the database and the credentials a Session authenticates with.
type SessionConfig struct {
	Database string `validate:"required"`
	Login    string `validate:"required"`
	Password string `validate:"required"`
}

// Session caches the user id returned by the identity check and reuses it for every invoke.
//
// A Session starts unauthenticated. The first call that needs a user id runs the identity
// check; concurrent first callers wait for that single check, or give up when their own
// context ends. The identity is kept until Reset is called. An expired identity surfaces
// as a remote fault from Invoke.
//
// Thread Safety: Safe for concurrent use by multiple goroutines.
type Session struct {
	cfg     SessionConfig
	poster  Poster
	logger  *zap.Logger
	metrics *telemetry.CallMetrics

	// authSem admits one identity check at a time
	authSem chan struct{}

	mu  sync.RWMutex
	uid int64
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger for call diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics records every remote call on m.
func WithMetrics(m *telemetry.CallMetrics) Option {
	return func(s *Session) {
		s.metrics = m
	}
}

// NewSession creates an unauthenticated Session that posts through p.
func NewSession(cfg SessionConfig, p Poster, opts ...Option) (*Session, error) {
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	if p == nil {
		return nil, fmt.Errorf("%w: poster is required", ErrInvalidSession)
	}

	s := &Session{
		cfg:     cfg,
		poster:  p,
		logger:  zap.NewNop(),
		authSem: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.metrics.SetAuthenticated(false)
	return s, nil
}

// Authenticated returns the cached user id, if any.
func (s *Session) Authenticated() (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.uid, s.uid > 0
}

// UID returns the cached user id, running the identity check first if needed.
func (s *Session) UID(ctx context.Context) (int64, error) {
	if uid, ok := s.Authenticated(); ok {
		return uid, nil
	}

	select {
	case s.authSem <- struct{}{}:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	defer func() { <-s.authSem }()

	// Another caller may have authenticated while we waited
	if uid, ok := s.Authenticated(); ok {
		return uid, nil
	}

	var uid int64
	err := s.observe(ctx, ServiceCommon, "authenticate", func(ctx context.Context) (wireSize, error) {
		got, size, err := authenticate(ctx, s.poster, s.cfg.Database, s.cfg.Login, s.cfg.Password)
		if err != nil {
			return size, err
		}
		uid = got
		telemetry.SetAttributes(telemetry.SpanFromContext(ctx), telemetry.SpanAttrUID, uid)
		return size, nil
	})
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	s.uid = uid
	s.mu.Unlock()
	s.metrics.SetAuthenticated(true)
	s.logger.Info("authenticated",
		zap.String("database", s.cfg.Database),
		zap.String("login", s.cfg.Login),
		zap.Int64("uid", uid),
	)
	return uid, nil
}

// Invoke runs model.method with positional args and keyword args, authenticating first if needed.
func (s *Session) Invoke(ctx context.Context, model, method string, args xmlrpc.List, kwargs xmlrpc.Record) (xmlrpc.Value, error) {
	uid, err := s.UID(ctx)
	if err != nil {
		return nil, err
	}

	var result xmlrpc.Value
	err = s.observe(ctx, ServiceObject, "execute_kw", func(ctx context.Context) (wireSize, error) {
		telemetry.SetAttributes(telemetry.SpanFromContext(ctx),
			telemetry.SpanAttrModel, model,
			telemetry.SpanAttrUID, uid,
			telemetry.SpanAttrERPMethod, method,
		)
		v, size, err := executeKw(ctx, s.poster, s.cfg.Database, uid, s.cfg.Password, model, method, args, kwargs)
		result = v
		return size, err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Call is Invoke with native Go arguments converted by xmlrpc.FromNative.
// kwargs may be nil, a map with string keys, a struct or an xmlrpc.Record.
func (s *Session) Call(ctx context.Context, model, method string, args []any, kwargs any) (xmlrpc.Value, error) {
	params := xmlrpc.List{}
	if len(args) > 0 {
		v, err := xmlrpc.FromNative(args)
		if err != nil {
			return nil, fmt.Errorf("args: %w", err)
		}
		params = v.(xmlrpc.List)
	}

	kw := xmlrpc.Record{}
	if kwargs != nil {
		v, err := xmlrpc.FromNative(kwargs)
		if err != nil {
			return nil, fmt.Errorf("kwargs: %w", err)
		}
		switch rec := v.(type) {
		case xmlrpc.Record:
			kw = rec
		case xmlrpc.Null:
		default:
			return nil, fmt.Errorf("kwargs: %w: must convert to a record, got %s", xmlrpc.ErrUnsupportedValue, v.Kind())
		}
	}

	return s.Invoke(ctx, model, method, params, kw)
}

// Version runs the unauthenticated version() probe.
func (s *Session) Version(ctx context.Context) (xmlrpc.Record, error) {
	var rec xmlrpc.Record
	err := s.observe(ctx, ServiceCommon, "version", func(ctx context.Context) (wireSize, error) {
		r, size, err := version(ctx, s.poster)
		rec = r
		return size, err
	})
	return rec, err
}

// Reset drops the cached identity; the next call authenticates again.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uid = 0
	s.metrics.SetAuthenticated(false)
}

// observe runs fn inside a client span, logs it under a fresh call id and records metrics.
// fn reports the encoded request and response sizes.
func (s *Session) observe(ctx context.Context, service, method string, fn func(context.Context) (wireSize, error)) error {
	callID := uuid.NewString()

	ctx, span := telemetry.StartCallSpan(ctx, service, method,
		telemetry.WithAttribute(telemetry.SpanAttrCallID, callID),
		telemetry.WithAttribute(telemetry.SpanAttrDatabase, s.cfg.Database),
	)
	defer span.End()

	ctx, log := logger.WithCallID(ctx, s.logger, callID)
	log = logger.WithTraceContext(ctx, log)
	log.Debug("remote call", zap.String("service", service), zap.String("method", method))

	start := time.Now()
	size, err := fn(ctx)
	elapsed := time.Since(start)

	outcome := classify(err)
	s.metrics.ObserveCall(service, method, outcome, elapsed, size.Response)
	telemetry.SetAttributes(span,
		telemetry.SpanAttrBytesOut, size.Request,
		telemetry.SpanAttrBytesIn, size.Response,
	)

	if err != nil {
		var fault *xmlrpc.Fault
		if errors.As(err, &fault) {
			telemetry.SetAttributes(span, telemetry.SpanAttrFault, fault.Code)
		}
		telemetry.RecordError(span, err)
		log.Debug("remote call failed",
			zap.String("outcome", outcome),
			zap.Duration("duration", elapsed),
			zap.Error(err),
		)
		return err
	}

	telemetry.SetOK(span)
	log.Debug("remote call completed",
		zap.Duration("duration", elapsed),
		zap.Int("request_bytes", size.Request),
		zap.Int("response_bytes", size.Response),
	)
	return nil
}

// classify maps an error to a metrics outcome label.
func classify(err error) string {
	var fault *xmlrpc.Fault
	switch {
	case err == nil:
		return telemetry.OutcomeOK
	case errors.As(err, &fault):
		return telemetry.OutcomeFault
	case errors.Is(err, ErrAuthenticationFailed):
		return telemetry.OutcomeAuth
	case errors.Is(err, xmlrpc.ErrMalformedDocument), errors.Is(err, ErrUnexpectedResult):
		return telemetry.OutcomeDecode
	case errors.Is(err, xmlrpc.ErrUnsupportedValue):
		return telemetry.OutcomeEncode
	default:
		return telemetry.OutcomeTransport
	}
}
