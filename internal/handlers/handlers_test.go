package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leynos/weaverd/internal/audit"
	"github.com/leynos/weaverd/internal/capability"
	"github.com/leynos/weaverd/internal/dispatch"
	"github.com/leynos/weaverd/internal/plugin"
	"github.com/leynos/weaverd/internal/router"
	"github.com/leynos/weaverd/internal/safety"
	"github.com/leynos/weaverd/internal/sandbox"
)

type fakeCaller struct {
	initResult string
	callResult string
	callErr    error
	lastMethod string
}

func (f *fakeCaller) Call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	f.lastMethod = method
	if method == "initialize" {
		return json.RawMessage(f.initResult), nil
	}
	if f.callErr != nil {
		return nil, f.callErr
	}
	return json.RawMessage(f.callResult), nil
}

type stubDiagnostics struct {
	baseline map[string][]safety.Diagnostic
	current  map[string][]safety.Diagnostic
	calls    int
}

func (s *stubDiagnostics) Diagnostics(path string, content []byte) ([]safety.Diagnostic, error) {
	s.calls++
	if s.calls%2 == 1 {
		return s.baseline[path], nil
	}
	return s.current[path], nil
}

func newTestRouter(t *testing.T, caller *fakeCaller, diag safety.DiagnosticsSource, broker *plugin.Broker) *router.Router {
	t.Helper()
	host := capability.NewHost(capability.NewMatrix())
	require.NoError(t, host.RegisterLanguage("go", NewAdapterServer(caller, 0)))

	deps := &Deps{
		Host:                host,
		Backends:            map[string]LSPCaller{"go": caller},
		Broker:              broker,
		Diagnostics:         diag,
		WarningsAreFailures: true,
	}
	r := router.New()
	Register(r, deps)
	return r
}

func dispatchOnce(r *router.Router, req *dispatch.CommandRequest) (int, *bytes.Buffer) {
	var buf bytes.Buffer
	rw := dispatch.NewResponseWriter(&buf)
	status := r.Dispatch(req, rw)
	return status, &buf
}

func TestObserveGetDefinitionSuccess(t *testing.T) {
	caller := &fakeCaller{
		initResult: `{"capabilities":{"definitionProvider":true}}`,
		callResult: `{"uri":"file:///tmp/a.go","line":3}`,
	}
	r := newTestRouter(t, caller, nil, nil)

	req := &dispatch.CommandRequest{
		Command:   dispatch.Command{Domain: "observe", Operation: "get-definition"},
		Arguments: []string{"--uri", "file:///tmp/a.go"},
	}
	status, buf := dispatchOnce(r, req)
	assert.Equal(t, 0, status)
	assert.Contains(t, buf.String(), `"line":3`)
	assert.Equal(t, "textDocument/definition", caller.lastMethod)
}

func TestObserveMissingURIIsProtocolError(t *testing.T) {
	caller := &fakeCaller{initResult: `{"capabilities":{}}`}
	r := newTestRouter(t, caller, nil, nil)

	req := &dispatch.CommandRequest{Command: dispatch.Command{Domain: "observe", Operation: "get-definition"}}
	status, _ := dispatchOnce(r, req)
	assert.Equal(t, dispatch.ExitProtocolError, status)
}

func TestObserveCapabilityDeniedByOverride(t *testing.T) {
	caller := &fakeCaller{initResult: `{"capabilities":{"definitionProvider":true}}`}
	matrix := capability.NewMatrix()
	matrix.Set("go", capability.KindDefinition, capability.DecisionDeny)
	host := capability.NewHost(matrix)
	require.NoError(t, host.RegisterLanguage("go", NewAdapterServer(caller, 0)))

	deps := &Deps{Host: host, Backends: map[string]LSPCaller{"go": caller}}
	r := router.New()
	Register(r, deps)

	req := &dispatch.CommandRequest{
		Command:   dispatch.Command{Domain: "observe", Operation: "get-definition"},
		Arguments: []string{"--uri", "file:///tmp/a.go"},
	}
	status, buf := dispatchOnce(r, req)
	assert.Equal(t, 1, status)
	assert.Contains(t, buf.String(), "capability")
}

func TestApplyPatchCommitsCleanChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.go")
	require.NoError(t, os.WriteFile(path, []byte("package a\n"), 0o644))

	diag := &stubDiagnostics{
		baseline: map[string][]safety.Diagnostic{},
		current:  map[string][]safety.Diagnostic{},
	}
	r := newTestRouter(t, &fakeCaller{initResult: `{"capabilities":{}}`}, diag, nil)

	patch, err := json.Marshal(map[string]any{
		"writes": []map[string]string{{"path": path, "content": "package a\n\nfunc F() {}\n"}},
	})
	require.NoError(t, err)

	req := &dispatch.CommandRequest{
		Command: dispatch.Command{Domain: "act", Operation: "apply-patch"},
		Patch:   string(patch),
	}
	status, buf := dispatchOnce(r, req)
	assert.Equal(t, 0, status)
	assert.Contains(t, buf.String(), "transaction_id")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "package a\n\nfunc F() {}\n", string(data))
}

func TestApplyPatchRejectsSyntaxError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.go")
	require.NoError(t, os.WriteFile(path, []byte("package a\n"), 0o644))

	r := newTestRouter(t, &fakeCaller{initResult: `{"capabilities":{}}`}, &stubDiagnostics{}, nil)

	patch, err := json.Marshal(map[string]any{
		"writes": []map[string]string{{"path": path, "content": "package a\n\nfunc F( {\n"}},
	})
	require.NoError(t, err)

	req := &dispatch.CommandRequest{
		Command: dispatch.Command{Domain: "act", Operation: "apply-patch"},
		Patch:   string(patch),
	}
	status, _ := dispatchOnce(r, req)
	assert.Equal(t, 1, status)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "package a\n", string(data), "rejected patch must not modify the file")
}

func TestVerifyCheckPassesWithoutWriting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.go")
	require.NoError(t, os.WriteFile(path, []byte("package a\n"), 0o644))

	r := newTestRouter(t, &fakeCaller{initResult: `{"capabilities":{}}`}, &stubDiagnostics{}, nil)

	patch, err := json.Marshal(map[string]any{
		"writes": []map[string]string{{"path": path, "content": "package a\n\nfunc F() {}\n"}},
	})
	require.NoError(t, err)

	req := &dispatch.CommandRequest{
		Command: dispatch.Command{Domain: "verify", Operation: "check"},
		Patch:   string(patch),
	}
	status, buf := dispatchOnce(r, req)
	assert.Equal(t, 0, status)
	assert.Contains(t, buf.String(), "verification passed")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "package a\n", string(data))
}

func TestAuditLogWithoutLedgerIsError(t *testing.T) {
	r := newTestRouter(t, &fakeCaller{initResult: `{"capabilities":{}}`}, nil, nil)

	req := &dispatch.CommandRequest{Command: dispatch.Command{Domain: "observe", Operation: "audit-log"}}
	status, buf := dispatchOnce(r, req)
	assert.Equal(t, 1, status)
	assert.Contains(t, buf.String(), "not enabled")
}

func TestAuditLogStreamsRecentRecords(t *testing.T) {
	dir := t.TempDir()
	ledger, err := audit.Open(filepath.Join(dir, "audit.db"))
	require.NoError(t, err)
	defer ledger.Close()

	ctx := context.Background()
	_, err = ledger.Append(ctx, audit.KindCommit, map[string]any{"files_modified": 1})
	require.NoError(t, err)

	host := capability.NewHost(capability.NewMatrix())
	deps := &Deps{Host: host, Ledger: ledger}
	r := router.New()
	Register(r, deps)

	req := &dispatch.CommandRequest{Command: dispatch.Command{Domain: "observe", Operation: "audit-log"}}
	status, buf := dispatchOnce(r, req)
	assert.Equal(t, 0, status)
	assert.Contains(t, buf.String(), string(audit.KindCommit))
}

func TestInvokePluginNotFound(t *testing.T) {
	registry := plugin.NewRegistry()
	broker := plugin.NewBroker(registry, sandbox.New(sandbox.DefaultProfile()))
	r := newTestRouter(t, &fakeCaller{initResult: `{"capabilities":{}}`}, nil, broker)

	req := &dispatch.CommandRequest{
		Command:   dispatch.Command{Domain: "act", Operation: "invoke-plugin"},
		Arguments: []string{"--plugin", "missing", "--capability", "rename-symbol"},
	}
	status, buf := dispatchOnce(r, req)
	assert.Equal(t, 1, status)
	assert.Contains(t, buf.String(), "not found")
}
