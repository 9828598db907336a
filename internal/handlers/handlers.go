package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/leynos/weaverd/internal/audit"
	"github.com/leynos/weaverd/internal/capability"
	"github.com/leynos/weaverd/internal/dispatch"
	"github.com/leynos/weaverd/internal/plugin"
	"github.com/leynos/weaverd/internal/router"
	"github.com/leynos/weaverd/internal/safety"
	"github.com/leynos/weaverd/internal/transaction"
)

// languageExtensions mirrors internal/safety's grammar table: the
// identifiers a registered language server advertises under.
var languageExtensions = map[string]string{
	".go":  "go",
	".py":  "python",
	".rs":  "rust",
	".js":  "javascript",
	".jsx": "javascript",
	".ts":  "typescript",
}

func languageForPath(path string) (string, bool) {
	lang, ok := languageExtensions[strings.ToLower(filepath.Ext(path))]
	return lang, ok
}

// Deps bundles every live component a handler needs. Backends and
// Ledger may be nil: a capability-bearing request against an
// unregistered language fails with CapabilityUnavailableError or a
// "not registered" error exactly as it would against a real deployment
// with no language servers configured, and ledger writes are already
// best-effort no-ops when Ledger is nil.
type Deps struct {
	Host                *capability.Host
	Backends            map[string]LSPCaller
	Broker              *plugin.Broker
	Ledger              *audit.Ledger
	Diagnostics         safety.DiagnosticsSource
	WarningsAreFailures bool
	RequestTimeout      time.Duration
}

func (d *Deps) timeout() time.Duration {
	if d.RequestTimeout <= 0 {
		return 30 * time.Second
	}
	return d.RequestTimeout
}

// Register binds the observe/act/verify handlers this package
// implements onto r.
func Register(r *router.Router, deps *Deps) {
	for op, kind := range map[string]capability.Kind{
		"get-definition": capability.KindDefinition,
		"references":     capability.KindReferences,
		"diagnostics":    capability.KindDiagnostics,
		"call-hierarchy": capability.KindCallHierarchy,
	} {
		op, kind := op, kind
		r.Register(router.DomainObserve, op, deps.observeHandler(op, kind))
	}

	r.Register(router.DomainObserve, "audit-log", deps.auditLogHandler)
	r.Register(router.DomainAct, "apply-patch", deps.applyPatchHandler)
	r.Register(router.DomainAct, "invoke-plugin", deps.invokePluginHandler)
	r.Register(router.DomainVerify, "check", deps.verifyCheckHandler)
}

var lspMethodForOperation = map[string]string{
	"get-definition": "textDocument/definition",
	"references":     "textDocument/references",
	"diagnostics":    "textDocument/diagnostic",
	"call-hierarchy": "textDocument/prepareCallHierarchy",
}

// ServerError reports that a registered language server rejected or
// failed an operation, after the capability check already passed.
type ServerError struct {
	Language  string
	Operation string
	Cause     error
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error: %s/%s: %v", e.Language, e.Operation, e.Cause)
}
func (e *ServerError) Unwrap() error { return e.Cause }

func (d *Deps) observeHandler(op string, kind capability.Kind) router.HandlerFunc {
	return func(req *dispatch.CommandRequest, rw *dispatch.ResponseWriter) int {
		flags := parseFlags(req.Arguments)
		uri := flags["--uri"]
		if uri == "" {
			return writeErr(rw, fmt.Errorf("missing required --uri argument"), dispatch.ExitProtocolError)
		}
		path := strings.TrimPrefix(uri, "file://")

		language, ok := languageForPath(path)
		if !ok {
			return writeErr(rw, fmt.Errorf("unsupported language for %s", path), dispatch.ExitProtocolError)
		}

		if err := d.Host.CheckCapability(language, kind); err != nil {
			return writeErr(rw, err, 1)
		}

		caller, ok := d.Backends[language]
		if !ok {
			return writeErr(rw, fmt.Errorf("no language server registered for %q", language), 1)
		}

		ctx, cancel := context.WithTimeout(context.Background(), d.timeout())
		defer cancel()

		params := map[string]any{"textDocument": map[string]string{"uri": uri}}
		if pos := flags["--position"]; pos != "" {
			params["position"] = pos
		}

		result, err := caller.Call(ctx, lspMethodForOperation[op], params)
		if err != nil {
			return writeErr(rw, &ServerError{Language: language, Operation: op, Cause: err}, 1)
		}

		if err := rw.Stream(dispatch.StreamStdout, string(result)+"\n"); err != nil {
			return dispatch.ExitInfrastructureError
		}
		return 0
	}
}

// patchPayload is the JSON shape carried in CommandRequest.Patch for
// act.apply-patch and verify.check: a set of whole-file writes plus a
// list of deletions.
type patchPayload struct {
	Writes []struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	} `json:"writes"`
	Deletes []string `json:"deletes"`
}

func (p *patchPayload) toVerificationContext() (*safety.VerificationContext, []string, error) {
	vctx := &safety.VerificationContext{}
	for _, w := range p.Writes {
		original, _ := os.ReadFile(w.Path)
		vctx.Changes = append(vctx.Changes, safety.FileChange{
			Path:            w.Path,
			Kind:            safety.ChangeWrite,
			OriginalContent: original,
			ProposedContent: []byte(w.Content),
		})
	}
	for _, path := range p.Deletes {
		original, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, nil, fmt.Errorf("read %s for deletion: %w", path, err)
		}
		vctx.Changes = append(vctx.Changes, safety.FileChange{
			Path:            path,
			Kind:            safety.ChangeDelete,
			OriginalContent: original,
		})
	}
	return vctx, p.Deletes, nil
}

func parsePatch(raw string) (*patchPayload, error) {
	var p patchPayload
	if strings.TrimSpace(raw) == "" {
		return &p, nil
	}
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("parse patch: %w", err)
	}
	return &p, nil
}

func (d *Deps) applyPatchHandler(req *dispatch.CommandRequest, rw *dispatch.ResponseWriter) int {
	payload, err := parsePatch(req.Patch)
	if err != nil {
		return writeErr(rw, err, dispatch.ExitProtocolError)
	}
	vctx, deletions, err := payload.toVerificationContext()
	if err != nil {
		return writeErr(rw, err, dispatch.ExitInfrastructureError)
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout())
	defer cancel()

	outcome := transaction.Run(ctx, vctx, deletions, d.Diagnostics, d.WarningsAreFailures, d.Ledger)
	switch outcome.Kind {
	case transaction.OutcomeCommitted:
		data, _ := json.Marshal(map[string]any{"transaction_id": outcome.ID, "files_modified": outcome.FilesModified})
		if err := rw.Stream(dispatch.StreamStdout, string(data)+"\n"); err != nil {
			return dispatch.ExitInfrastructureError
		}
		return 0
	case transaction.OutcomeCommitFailed:
		return writeErr(rw, fmt.Errorf("commit failed: %v", outcome.CommitFailure), dispatch.ExitInfrastructureError)
	default:
		return writeErr(rw, fmt.Errorf("%s: %d failure(s)", outcome.Kind, len(outcome.Failures)), 1)
	}
}

func (d *Deps) verifyCheckHandler(req *dispatch.CommandRequest, rw *dispatch.ResponseWriter) int {
	payload, err := parsePatch(req.Patch)
	if err != nil {
		return writeErr(rw, err, dispatch.ExitProtocolError)
	}
	vctx, _, err := payload.toVerificationContext()
	if err != nil {
		return writeErr(rw, err, dispatch.ExitInfrastructureError)
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout())
	defer cancel()

	if err := safety.Verify(ctx, vctx, d.Diagnostics, d.WarningsAreFailures); err != nil {
		return writeErr(rw, err, 1)
	}
	if err := rw.Stream(dispatch.StreamStdout, "verification passed\n"); err != nil {
		return dispatch.ExitInfrastructureError
	}
	return 0
}

func (d *Deps) invokePluginHandler(req *dispatch.CommandRequest, rw *dispatch.ResponseWriter) int {
	flags := parseFlags(req.Arguments)
	name := flags["--plugin"]
	capabilityName := flags["--capability"]
	if name == "" || capabilityName == "" {
		return writeErr(rw, fmt.Errorf("missing required --plugin/--capability arguments"), dispatch.ExitProtocolError)
	}

	var pluginReq plugin.Request
	if strings.TrimSpace(req.Patch) != "" {
		if err := json.Unmarshal([]byte(req.Patch), &pluginReq); err != nil {
			return writeErr(rw, fmt.Errorf("parse plugin request: %w", err), dispatch.ExitProtocolError)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout())
	defer cancel()

	resp, err := d.Broker.Invoke(ctx, name, capabilityName, &pluginReq)
	d.recordPluginInvocation(ctx, name, capabilityName, err)
	if err != nil {
		status := 1
		var berr *plugin.Error
		if errors.As(err, &berr) && berr.Kind == plugin.ErrSpawnFailed {
			status = dispatch.ExitInfrastructureError
		}
		return writeErr(rw, err, status)
	}

	data, err := json.Marshal(resp)
	if err != nil {
		return writeErr(rw, err, dispatch.ExitInfrastructureError)
	}
	if err := rw.Stream(dispatch.StreamStdout, string(data)+"\n"); err != nil {
		return dispatch.ExitInfrastructureError
	}
	return 0
}

// auditLogHandler serves observe.audit-log: a debugging convenience
// that streams up to --limit (default 50) recent audit records, most
// recent first, as one JSON line each. Never on any other handler's
// hot path; a nil Ledger (audit disabled) is reported as an error
// rather than silently returning nothing.
func (d *Deps) auditLogHandler(req *dispatch.CommandRequest, rw *dispatch.ResponseWriter) int {
	if d.Ledger == nil {
		return writeErr(rw, fmt.Errorf("audit ledger not enabled"), 1)
	}

	flags := parseFlags(req.Arguments)
	limit := 50
	if raw := flags["--limit"]; raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return writeErr(rw, fmt.Errorf("invalid --limit %q", raw), dispatch.ExitProtocolError)
		}
		limit = n
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout())
	defer cancel()

	records, err := d.Ledger.Recent(ctx, limit)
	if err != nil {
		return writeErr(rw, err, dispatch.ExitInfrastructureError)
	}
	for _, rec := range records {
		data, err := json.Marshal(rec)
		if err != nil {
			return writeErr(rw, err, dispatch.ExitInfrastructureError)
		}
		if err := rw.Stream(dispatch.StreamStdout, string(data)+"\n"); err != nil {
			return dispatch.ExitInfrastructureError
		}
	}
	return 0
}

func (d *Deps) recordPluginInvocation(ctx context.Context, name, capabilityName string, invokeErr error) {
	if d.Ledger == nil {
		return
	}
	detail := map[string]any{"plugin": name, "capability": capabilityName}
	if invokeErr != nil {
		detail["error"] = invokeErr.Error()
	}
	_, _ = d.Ledger.Append(ctx, audit.KindPluginInvocation, detail)
}

func writeErr(rw *dispatch.ResponseWriter, err error, status int) int {
	_ = rw.Stream(dispatch.StreamStderr, fmt.Sprintf("error: %v\n", err))
	return status
}

func parseFlags(args []string) map[string]string {
	flags := make(map[string]string, len(args)/2)
	for i := 0; i < len(args); i++ {
		if !strings.HasPrefix(args[i], "--") {
			continue
		}
		if i+1 < len(args) {
			flags[args[i]] = args[i+1]
			i++
		} else {
			flags[args[i]] = ""
		}
	}
	return flags
}
