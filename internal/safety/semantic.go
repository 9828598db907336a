package safety

import (
	"context"
	"fmt"
)

// Severity mirrors the LSP DiagnosticSeverity scale (Error is most
// severe, Hint least).
type Severity int

const (
	SeverityError Severity = iota + 1
	SeverityWarning
	SeverityInformation
	SeverityHint
)

// Diagnostic is the subset of an LSP diagnostic the semantic lock
// compares against the pre-change baseline.
type Diagnostic struct {
	File     string
	Line     int
	Message  string
	Severity Severity
}

type diagnosticKey struct {
	file    string
	line    int
	message string
}

func keyOf(d Diagnostic) diagnosticKey {
	return diagnosticKey{file: d.File, line: d.Line, message: d.Message}
}

// DiagnosticsSource produces the current diagnostic set for a file,
// after synchronising the modified buffer (didOpen/didChange) with
// the language server.
type DiagnosticsSource interface {
	Diagnostics(path string, content []byte) ([]Diagnostic, error)
}

// SemanticLockFailed aggregates every diagnostic introduced by the
// change that the baseline did not already have.
type SemanticLockFailed struct {
	Failures []VerificationFailure
}

func (e *SemanticLockFailed) Error() string {
	return fmt.Sprintf("semantic lock failed: %d new diagnostic(s)", len(e.Failures))
}

// SemanticLock requests diagnostics for every modified file and
// compares them against baseline, the diagnostics observed for the
// file's original content. A diagnostic is a new failure when its
// (file, line, message) triple is absent from the baseline and its
// severity meets the policy threshold: always for Error, and for
// Warning only when warningsAreFailures is set.
func SemanticLock(src DiagnosticsSource, vctx *VerificationContext, warningsAreFailures bool) error {
	var failures []VerificationFailure

	for _, change := range vctx.Changes {
		if change.Kind == ChangeDelete {
			continue
		}

		baseline, err := src.Diagnostics(change.Path, change.OriginalContent)
		if err != nil {
			return fmt.Errorf("semantic lock: baseline diagnostics for %s: %w", change.Path, err)
		}
		seen := make(map[diagnosticKey]bool, len(baseline))
		for _, d := range baseline {
			seen[keyOf(d)] = true
		}

		current, err := src.Diagnostics(change.Path, change.ProposedContent)
		if err != nil {
			return fmt.Errorf("semantic lock: diagnostics for %s: %w", change.Path, err)
		}

		for _, d := range current {
			if seen[keyOf(d)] {
				continue
			}
			if !failsPolicy(d.Severity, warningsAreFailures) {
				continue
			}
			failures = append(failures, VerificationFailure{
				File:    d.File,
				Line:    d.Line,
				Message: d.Message,
			})
		}
	}

	if len(failures) > 0 {
		return &SemanticLockFailed{Failures: failures}
	}
	return nil
}

func failsPolicy(severity Severity, warningsAreFailures bool) bool {
	switch severity {
	case SeverityError:
		return true
	case SeverityWarning:
		return warningsAreFailures
	default:
		return false
	}
}

// Verify runs Phase 1 (syntactic lock) then, only if it passes,
// Phase 2 (semantic lock).
func Verify(ctx context.Context, vctx *VerificationContext, src DiagnosticsSource, warningsAreFailures bool) error {
	if err := SyntacticLock(ctx, vctx); err != nil {
		return err
	}
	return SemanticLock(src, vctx, warningsAreFailures)
}
