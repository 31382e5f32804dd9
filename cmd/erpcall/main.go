// Package main provides the erpcall CLI: authenticate against an ERP and invoke one model method.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/teo-lapa/app-hub-platform-sub019/internal/callspec"
	"github.com/teo-lapa/app-hub-platform-sub019/internal/config"
	"github.com/teo-lapa/app-hub-platform-sub019/internal/erp"
	"github.com/teo-lapa/app-hub-platform-sub019/internal/logger"
	"github.com/teo-lapa/app-hub-platform-sub019/internal/telemetry"
	"github.com/teo-lapa/app-hub-platform-sub019/internal/transport"
	"github.com/teo-lapa/app-hub-platform-sub019/internal/xmlrpc"
)

// Version information (populated at build time)
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// options holds the parsed command line
type options struct {
	configPath  string
	callPath    string
	model       string
	method      string
	args        string
	kwargs      string
	metricsAddr string
	probe       bool
	verbose     bool
	showVersion bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func newFlagSet(opts *options, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet("erpcall", flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.StringVar(&opts.configPath, "config", "", "Path to the TOML configuration file (default: search erprpc.toml)")
	fs.StringVar(&opts.configPath, "c", "", "Path to the TOML configuration file (shorthand)")
	fs.StringVar(&opts.callPath, "call", "", "Path to a YAML call file (model, method, args, kwargs)")
	fs.StringVar(&opts.model, "model", "", "Model name, e.g. res.partner (overrides the call file)")
	fs.StringVar(&opts.method, "method", "", "Model method, e.g. search_read (overrides the call file)")
	fs.StringVar(&opts.args, "args", "", "Positional arguments as an inline YAML sequence")
	fs.StringVar(&opts.kwargs, "kwargs", "", "Keyword arguments as an inline YAML mapping")
	fs.StringVar(&opts.metricsAddr, "metrics", "", "Serve Prometheus metrics on this address (e.g. :9091)")
	fs.BoolVar(&opts.probe, "probe", false, "Call the unauthenticated version() endpoint and exit")
	fs.BoolVar(&opts.verbose, "verbose", false, "Enable debug logging")
	fs.BoolVar(&opts.verbose, "v", false, "Enable debug logging (shorthand)")
	fs.BoolVar(&opts.showVersion, "version", false, "Show version information")

	fs.Usage = func() { printUsage(stderr) }
	return fs
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `erpcall - invoke one ERP model method over XML-RPC

USAGE:
    erpcall [-config <path>] -call <file.yaml>
    erpcall [-config <path>] -model <model> -method <method> [-args <yaml>] [-kwargs <yaml>]
    erpcall [-config <path>] -probe

OPTIONS:
    -config, -c <path>    TOML configuration (default: erprpc.toml in ., ./config, /etc/erprpc)
    -call <path>          YAML call file
    -model <name>         Model name (overrides the call file)
    -method <name>        Method name (overrides the call file)
    -args <yaml>          Positional arguments, e.g. '[[["is_company", "=", true]]]'
    -kwargs <yaml>        Keyword arguments, e.g. '{fields: [id, name], limit: 5}'
    -metrics <addr>       Serve Prometheus metrics while the call runs
    -probe                Call version() without authenticating (erp.database, erp.login
                          and erp.password must still be configured)
    -verbose, -v          Enable debug logging
    -version              Show version information

ENVIRONMENT:
    Every configuration key can be set as ERP_<SECTION>_<KEY>, e.g. ERP_ERP_PASSWORD.
    erp.url, erp.database, erp.login and erp.password are required in every mode.
    ERP_ENV=production switches the log format default to JSON.

EXAMPLES:
    erpcall -model res.partner -method search_count -args '[[]]'
    erpcall -config erprpc.toml -call calls/partners.yaml
`)
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "erpcall version %s\n", version)
	fmt.Fprintf(w, "  Build time: %s\n", buildTime)
	fmt.Fprintf(w, "  Git commit: %s\n", gitCommit)
}

// run executes the CLI and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	var opts options
	fs := newFlagSet(&opts, stderr)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if opts.showVersion {
		printVersion(stdout)
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error loading configuration: %v\n", err)
		return 1
	}

	var call *callspec.Call
	if !opts.probe {
		call, err = buildCall(opts)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
	}

	logCfg := logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: cfg.Log.Output}
	if opts.verbose {
		logCfg.Level = "debug"
	}
	log, err := logger.NewForEnvironment(cfg.Env, logCfg)
	if err != nil {
		fmt.Fprintf(stderr, "Error creating logger: %v\n", err)
		return 1
	}
	defer func() { _ = log.Sync() }()

	telemetryCfg := telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		ServiceVersion:    version,
		Insecure:          cfg.Telemetry.Insecure,
	}
	tp, err := telemetry.NewTracerProvider(ctx, telemetryCfg, log)
	if err != nil {
		fmt.Fprintf(stderr, "Error initializing telemetry: %v\n", err)
		return 1
	}
	defer func() { _ = tp.Shutdown(context.Background()) }()

	lp, err := telemetry.NewLoggerProvider(ctx, telemetryCfg, log)
	if err != nil {
		fmt.Fprintf(stderr, "Error initializing log export: %v\n", err)
		return 1
	}
	defer func() { _ = lp.Shutdown(context.Background()) }()
	log = lp.Bridge(log)

	ctx, span := telemetry.StartSpan(ctx, "erpcall.run")
	defer span.End()

	var sessionOpts []erp.Option
	sessionOpts = append(sessionOpts, erp.WithLogger(log))

	metricsAddr := opts.metricsAddr
	if metricsAddr == "" && cfg.Metrics.Enabled {
		metricsAddr = cfg.Metrics.Addr
	}
	if metricsAddr != "" {
		metrics := telemetry.NewCallMetrics()
		srv := telemetry.NewMetricsServer(metrics, cfg.Metrics.Path)
		if err := srv.Start(metricsAddr); err != nil {
			fmt.Fprintf(stderr, "Error starting metrics server: %v\n", err)
			return 1
		}
		log.Info("serving metrics", zap.String("addr", srv.Addr()), zap.String("path", cfg.Metrics.Path))
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Stop(shutdownCtx)
		}()
		sessionOpts = append(sessionOpts, erp.WithMetrics(metrics))
	}

	tr, err := transport.New(transport.Config{
		BaseURL:          cfg.ERP.URL,
		Timeout:          cfg.ERP.Timeout,
		TLSSkipVerify:    cfg.ERP.TLSSkipVerify,
		Headers:          cfg.ERP.Headers,
		MaxResponseBytes: cfg.ERP.MaxResponseBytes,
		RateLimit:        cfg.ERP.RateLimit,
		RateBurst:        cfg.ERP.RateBurst,
		Tracing:          tp.IsEnabled(),
	},
		transport.WithRetry(transport.RetryConfig{
			MaxRetries: cfg.ERP.MaxRetries,
			RetryDelay: cfg.ERP.RetryDelay,
			MaxDelay:   5 * time.Second,
		}),
		transport.WithLogger(log),
	)
	if err != nil {
		fmt.Fprintf(stderr, "Error creating transport: %v\n", err)
		return 1
	}
	log.Debug("transport ready", zap.String("base_url", tr.BaseURL()), zap.String("env", cfg.Env))

	session, err := erp.NewSession(erp.SessionConfig{
		Database: cfg.ERP.Database,
		Login:    cfg.ERP.Login,
		Password: cfg.ERP.Password,
	}, tr, sessionOpts...)
	if err != nil {
		fmt.Fprintf(stderr, "Error creating session: %v\n", err)
		return 1
	}

	var result xmlrpc.Value
	if opts.probe {
		result, err = session.Version(ctx)
	} else {
		result, err = session.Invoke(ctx, call.Model, call.Method, call.Args, call.Kwargs)
	}
	if err != nil {
		telemetry.RecordError(span, err)
		fmt.Fprintf(stderr, "Error: %s: %v\n", describe(err), err)
		if traceID := telemetry.GetTraceID(ctx); traceID != "" {
			fmt.Fprintf(stderr, "Trace ID: %s\n", traceID)
		}
		return 1
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		fmt.Fprintf(stderr, "Error rendering result: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, string(out))
	return 0
}

// buildCall merges the call file with the command line overrides.
func buildCall(opts options) (*callspec.Call, error) {
	call := &callspec.Call{Args: xmlrpc.List{}, Kwargs: xmlrpc.Record{}}
	if opts.callPath != "" {
		c, err := callspec.Load(opts.callPath)
		if err != nil {
			return nil, err
		}
		call = c
	}

	if opts.model != "" {
		call.Model = opts.model
	}
	if opts.method != "" {
		call.Method = opts.method
	}
	if opts.args != "" {
		v, err := callspec.ValueFromYAML([]byte(opts.args))
		if err != nil {
			return nil, fmt.Errorf("-args: %w", err)
		}
		l, ok := v.(xmlrpc.List)
		if !ok {
			return nil, fmt.Errorf("-args: %w: must be a sequence", callspec.ErrInvalidCall)
		}
		call.Args = l
	}
	if opts.kwargs != "" {
		v, err := callspec.ValueFromYAML([]byte(opts.kwargs))
		if err != nil {
			return nil, fmt.Errorf("-kwargs: %w", err)
		}
		r, ok := v.(xmlrpc.Record)
		if !ok {
			return nil, fmt.Errorf("-kwargs: %w: must be a mapping", callspec.ErrInvalidCall)
		}
		call.Kwargs = r
	}

	if call.Model == "" || call.Method == "" {
		return nil, fmt.Errorf("%w: -model and -method (or -call) are required", callspec.ErrInvalidCall)
	}
	return call, nil
}

// describe names the fault class of err for the exit message.
func describe(err error) string {
	var fault *xmlrpc.Fault
	switch {
	case errors.As(err, &fault):
		return "remote fault"
	case errors.Is(err, erp.ErrAuthenticationFailed):
		return "authentication failed"
	case errors.Is(err, xmlrpc.ErrMalformedDocument), errors.Is(err, erp.ErrUnexpectedResult):
		return "malformed response"
	case errors.Is(err, xmlrpc.ErrUnsupportedValue):
		return "unrepresentable argument"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "interrupted"
	default:
		return "transport error"
	}
}
