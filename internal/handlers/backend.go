// Package handlers wires the three routing domains (observe, act,
// verify) to the capability host, the plugin broker, and the
// transactional safety harness, and registers them on a router.Router.
package handlers

import (
	"context"
	"encoding/json"
	"time"

	"github.com/leynos/weaverd/internal/capability"
	"github.com/leynos/weaverd/internal/safety"
)

// LSPCaller is the subset of *lspadapter.Adapter the fabric drives once
// the capability host has negotiated a language: send one JSON-RPC
// request, get one correlated result. Satisfied by *lspadapter.Adapter
// and by test doubles.
type LSPCaller interface {
	Call(ctx context.Context, method string, params interface{}) (json.RawMessage, error)
}

// adapterServer adapts an LSPCaller to capability.Server by running the
// LSP initialize handshake and decoding the capabilities it advertises.
type adapterServer struct {
	caller  LSPCaller
	timeout time.Duration
}

// NewAdapterServer wraps caller so it can be registered with
// capability.Host.RegisterLanguage.
func NewAdapterServer(caller LSPCaller, timeout time.Duration) capability.Server {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &adapterServer{caller: caller, timeout: timeout}
}

type initializeResult struct {
	Capabilities struct {
		DefinitionProvider    bool           `json:"definitionProvider"`
		ReferencesProvider    bool           `json:"referencesProvider"`
		DiagnosticProvider    map[string]any `json:"diagnosticProvider"`
		CallHierarchyProvider bool           `json:"callHierarchyProvider"`
	} `json:"capabilities"`
}

func (s *adapterServer) Initialise() (capability.ServerCapabilitySet, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	raw, err := s.caller.Call(ctx, "initialize", map[string]any{"processId": nil})
	if err != nil {
		return capability.ServerCapabilitySet{}, err
	}

	var result initializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return capability.ServerCapabilitySet{}, err
	}
	return capability.ServerCapabilitySet{
		Definition:    result.Capabilities.DefinitionProvider,
		References:    result.Capabilities.ReferencesProvider,
		Diagnostics:   result.Capabilities.DiagnosticProvider != nil,
		CallHierarchy: result.Capabilities.CallHierarchyProvider,
	}, nil
}

// hostDiagnosticsSource bridges safety.DiagnosticsSource to the
// capability host plus the live per-language backends: a file whose
// language has no registered, capability-enabled backend is reported
// as having no diagnostics rather than failing the semantic lock,
// since diagnostics are additive evidence, not a precondition. The
// content goes out as a "text" field of the textDocument/diagnostic
// request; no didOpen/didChange notification is sent before it.
type hostDiagnosticsSource struct {
	host     *capability.Host
	backends map[string]LSPCaller
	timeout  time.Duration
}

// NewHostDiagnosticsSource builds the semantic lock's DiagnosticsSource
// from the live host and the language -> backend map cmd/weaverd wires
// up at startup.
func NewHostDiagnosticsSource(host *capability.Host, backends map[string]LSPCaller, timeout time.Duration) safety.DiagnosticsSource {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &hostDiagnosticsSource{host: host, backends: backends, timeout: timeout}
}

type diagnosticReport struct {
	Items []struct {
		Range struct {
			Start struct {
				Line int `json:"line"`
			} `json:"start"`
		} `json:"range"`
		Message  string `json:"message"`
		Severity int    `json:"severity"`
	} `json:"items"`
}

func (s *hostDiagnosticsSource) Diagnostics(path string, content []byte) ([]safety.Diagnostic, error) {
	language, ok := languageForPath(path)
	if !ok {
		return nil, nil
	}
	caller, ok := s.backends[language]
	if !ok {
		return nil, nil
	}
	if err := s.host.CheckCapability(language, capability.KindDiagnostics); err != nil {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	raw, err := caller.Call(ctx, "textDocument/diagnostic", map[string]any{
		"textDocument": map[string]string{"uri": "file://" + path},
		"text":         string(content),
	})
	if err != nil {
		return nil, err
	}

	var report diagnosticReport
	if err := json.Unmarshal(raw, &report); err != nil {
		return nil, err
	}
	out := make([]safety.Diagnostic, 0, len(report.Items))
	for _, item := range report.Items {
		severity := safety.Severity(item.Severity)
		if severity == 0 {
			severity = safety.SeverityError
		}
		out = append(out, safety.Diagnostic{
			File:     path,
			Line:     item.Range.Start.Line + 1,
			Message:  item.Message,
			Severity: severity,
		})
	}
	return out, nil
}
