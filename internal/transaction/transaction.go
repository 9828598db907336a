// Package transaction composes the Double-Lock safety harness
// (internal/safety) with the transactional commit engine
// (internal/commit) into the single Run call a verify/act handler
// needs: verify, then commit only on success, with every outcome
// recorded to the audit ledger under a fresh transaction id.
package transaction

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/leynos/weaverd/internal/audit"
	"github.com/leynos/weaverd/internal/commit"
	"github.com/leynos/weaverd/internal/safety"
)

// OutcomeKind tags the tagged-union result of one transaction run.
type OutcomeKind string

const (
	OutcomeCommitted           OutcomeKind = "Committed"
	OutcomeSyntacticLockFailed OutcomeKind = "SyntacticLockFailed"
	OutcomeSemanticLockFailed  OutcomeKind = "SemanticLockFailed"
	OutcomeCommitFailed        OutcomeKind = "CommitFailed"
)

// Outcome is the terminal, consumed-on-execution result of Run.
type Outcome struct {
	ID            string
	Kind          OutcomeKind
	FilesModified []string
	Failures      []safety.VerificationFailure
	CommitFailure error
}

// Run verifies vctx (syntactic then semantic, per internal/safety), and
// only on success commits every write plus the given deletions (per
// internal/commit). Every outcome is appended to ledger under a fresh
// uuid, best-effort: a ledger write failure never masks the underlying
// verification or commit result.
func Run(ctx context.Context, vctx *safety.VerificationContext, deletions []string, src safety.DiagnosticsSource, warningsAreFailures bool, ledger *audit.Ledger) Outcome {
	id := uuid.New().String()

	if err := safety.SyntacticLock(ctx, vctx); err != nil {
		var failed *safety.SyntacticLockFailed
		if errors.As(err, &failed) {
			outcome := Outcome{ID: id, Kind: OutcomeSyntacticLockFailed, Failures: failed.Failures}
			recordOutcome(ctx, ledger, outcome)
			return outcome
		}
		outcome := Outcome{ID: id, Kind: OutcomeSyntacticLockFailed, Failures: []safety.VerificationFailure{{Message: err.Error()}}}
		recordOutcome(ctx, ledger, outcome)
		return outcome
	}

	if err := safety.SemanticLock(src, vctx, warningsAreFailures); err != nil {
		var failed *safety.SemanticLockFailed
		if errors.As(err, &failed) {
			outcome := Outcome{ID: id, Kind: OutcomeSemanticLockFailed, Failures: failed.Failures}
			recordOutcome(ctx, ledger, outcome)
			return outcome
		}
		outcome := Outcome{ID: id, Kind: OutcomeSemanticLockFailed, Failures: []safety.VerificationFailure{{Message: err.Error()}}}
		recordOutcome(ctx, ledger, outcome)
		return outcome
	}

	var writes []commit.Write
	var modified []string
	for _, change := range vctx.Changes {
		if change.Kind == safety.ChangeDelete {
			continue
		}
		writes = append(writes, commit.Write{Path: change.Path, Content: change.ProposedContent})
		modified = append(modified, change.Path)
	}

	if err := commit.Commit(writes, deletions); err != nil {
		outcome := Outcome{ID: id, Kind: OutcomeCommitFailed, CommitFailure: err}
		recordOutcome(ctx, ledger, outcome)
		return outcome
	}

	outcome := Outcome{ID: id, Kind: OutcomeCommitted, FilesModified: modified}
	recordOutcome(ctx, ledger, outcome)
	return outcome
}

func recordOutcome(ctx context.Context, ledger *audit.Ledger, outcome Outcome) {
	if ledger == nil {
		return
	}
	kind := audit.KindCommit
	if outcome.Kind != OutcomeCommitted {
		kind = audit.KindVerificationFailure
	}
	detail := map[string]any{
		"transaction_id": outcome.ID,
		"kind":           string(outcome.Kind),
		"files_modified": outcome.FilesModified,
	}
	if outcome.CommitFailure != nil {
		detail["error"] = outcome.CommitFailure.Error()
	}
	if len(outcome.Failures) > 0 {
		detail["failure_count"] = len(outcome.Failures)
	}
	// Best-effort: the ledger is an observability convenience, never a
	// correctness dependency (see SPEC_FULL.md Non-goals).
	_, _ = ledger.Append(ctx, kind, detail)
}
