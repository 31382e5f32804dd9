package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teo-lapa/app-hub-platform-sub019/internal/callspec"
	"github.com/teo-lapa/app-hub-platform-sub019/internal/rpctest"
	"github.com/teo-lapa/app-hub-platform-sub019/internal/xmlrpc"
)

func setEnv(t *testing.T, url string) {
	t.Helper()
	t.Setenv("ERP_ERP_URL", url)
	t.Setenv("ERP_ERP_DATABASE", rpctest.DefaultDatabase)
	t.Setenv("ERP_ERP_LOGIN", rpctest.DefaultLogin)
	t.Setenv("ERP_ERP_PASSWORD", rpctest.DefaultPassword)
	t.Setenv("ERP_LOG_LEVEL", "error")
}

func execute(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRun_Version(t *testing.T) {
	code, out, _ := execute(t, "-version")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "erpcall version dev")
	assert.Contains(t, out, "Git commit:")
}

func TestRun_Help(t *testing.T) {
	code, _, errOut := execute(t, "-h")
	assert.Equal(t, 0, code)
	assert.Contains(t, errOut, "USAGE:")
}

func TestRun_UnknownFlag(t *testing.T) {
	code, _, _ := execute(t, "-bogus")
	assert.Equal(t, 2, code)
}

func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("ERP_ERP_URL", "")
	code, _, errOut := execute(t, "-model", "res.partner", "-method", "read")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "Error loading configuration")
}

func TestRun_Invoke(t *testing.T) {
	server := rpctest.NewServer()
	t.Cleanup(server.Close)
	setEnv(t, server.URL)

	code, out, errOut := execute(t,
		"-model", "res.partner",
		"-method", "search_read",
		"-args", `[[["is_company", "=", true]]]`,
		"-kwargs", `{fields: [id, name], limit: 5}`,
	)
	require.Equal(t, 0, code, errOut)

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "res.partner", got["model"])
	assert.Equal(t, "search_read", got["method"])
	assert.Equal(t, []any{[]any{[]any{"is_company", "=", true}}}, got["args"])
	assert.Equal(t, map[string]any{"fields": []any{"id", "name"}, "limit": float64(5)}, got["kwargs"])
	assert.Equal(t, 1, server.AuthCalls())
}

func TestRun_CallFile(t *testing.T) {
	server := rpctest.NewServer(rpctest.WithHandler("res.partner", "search_count",
		func(args xmlrpc.List, kwargs xmlrpc.Record) (xmlrpc.Value, error) {
			return xmlrpc.Int(len(args)), nil
		}))
	t.Cleanup(server.Close)
	setEnv(t, server.URL)

	path := filepath.Join(t.TempDir(), "call.yaml")
	require.NoError(t, os.WriteFile(path, []byte("model: res.partner\nmethod: search_read\nargs: [[], []]\n"), 0o600))

	code, out, errOut := execute(t, "-call", path, "-method", "search_count")
	require.Equal(t, 0, code, errOut)
	assert.Equal(t, "2\n", out)
}

func TestRun_Probe(t *testing.T) {
	server := rpctest.NewServer()
	t.Cleanup(server.Close)
	setEnv(t, server.URL)

	code, out, errOut := execute(t, "-probe")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, `"server_version"`)
	assert.Equal(t, 0, server.AuthCalls())
}

func TestRun_VersionCheckStillNeedsCredentials(t *testing.T) {
	server := rpctest.NewServer()
	t.Cleanup(server.Close)
	setEnv(t, server.URL)
	t.Setenv("ERP_ERP_PASSWORD", "")

	code, out, errOut := execute(t, "-probe")
	assert.Equal(t, 1, code)
	assert.Empty(t, out)
	assert.Contains(t, errOut, "Error loading configuration")
	assert.Contains(t, errOut, "password")
	assert.Zero(t, server.AuthCalls())

	var usage bytes.Buffer
	printUsage(&usage)
	assert.Contains(t, usage.String(), "erp.password must still be configured")
}

func TestRun_Failures(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(t *testing.T, s *rpctest.Server)
		args     []string
		expected string
	}{
		{
			name:     "missing method",
			args:     []string{"-model", "res.partner"},
			expected: "-model and -method",
		},
		{
			name:     "args not a sequence",
			args:     []string{"-model", "res.partner", "-method", "read", "-args", "{a: 1}"},
			expected: "-args",
		},
		{
			name:     "kwargs not a mapping",
			args:     []string{"-model", "res.partner", "-method", "read", "-kwargs", "[1]"},
			expected: "-kwargs",
		},
		{
			name: "wrong password",
			setup: func(t *testing.T, _ *rpctest.Server) {
				t.Setenv("ERP_ERP_PASSWORD", "wrong")
			},
			args:     []string{"-model", "res.partner", "-method", "read"},
			expected: "authentication failed",
		},
		{
			name:     "remote fault",
			args:     []string{"-model", "res.partner", "-method", "read", "-args", "[1, 2, 3]"},
			expected: "remote fault",
		},
		{
			name: "server unavailable",
			setup: func(t *testing.T, s *rpctest.Server) {
				s.FailWith(http.StatusServiceUnavailable)
			},
			args:     []string{"-model", "res.partner", "-method", "read"},
			expected: "transport error",
		},
		{
			name: "malformed response",
			setup: func(t *testing.T, s *rpctest.Server) {
				s.RespondRaw([]byte("<html>oops</html>"))
			},
			args:     []string{"-model", "res.partner", "-method", "read"},
			expected: "malformed response",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := rpctest.NewServer(rpctest.WithHandler("res.partner", "read",
				func(args xmlrpc.List, _ xmlrpc.Record) (xmlrpc.Value, error) {
					if len(args) > 2 {
						return nil, &xmlrpc.Fault{Code: rpctest.FaultGeneric, Message: "too many arguments"}
					}
					return xmlrpc.List{}, nil
				}))
			t.Cleanup(server.Close)
			setEnv(t, server.URL)
			if tt.setup != nil {
				tt.setup(t, server)
			}

			code, out, errOut := execute(t, tt.args...)
			assert.Equal(t, 1, code)
			assert.Empty(t, out)
			assert.Contains(t, errOut, tt.expected)
		})
	}
}

func TestBuildCall(t *testing.T) {
	call, err := buildCall(options{model: "res.partner", method: "search"})
	require.NoError(t, err)
	assert.Equal(t, &callspec.Call{Model: "res.partner", Method: "search", Args: xmlrpc.List{}, Kwargs: xmlrpc.Record{}}, call)

	_, err = buildCall(options{})
	assert.ErrorIs(t, err, callspec.ErrInvalidCall)

	_, err = buildCall(options{callPath: filepath.Join(t.TempDir(), "missing.yaml")})
	assert.Error(t, err)
}
