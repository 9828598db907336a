package safety

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/rust"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

var extensionLanguages = map[string]func() *sitter.Language{
	".go": golang.GetLanguage,
	".py": python.GetLanguage,
	".rs": rust.GetLanguage,
	".js": javascript.GetLanguage,
	".jsx": javascript.GetLanguage,
	".ts": typescript.GetLanguage,
}

// SyntacticLockFailed aggregates every parse failure found while
// checking a verification context's modified files.
type SyntacticLockFailed struct {
	Failures []VerificationFailure
}

func (e *SyntacticLockFailed) Error() string {
	return fmt.Sprintf("syntactic lock failed: %d parse error(s)", len(e.Failures))
}

// SyntacticLock parses every modified file whose extension maps to a
// supported grammar and reports any parse error. Files with unknown
// extensions are skipped; deletions are never parsed.
func SyntacticLock(ctx context.Context, vctx *VerificationContext) error {
	var failures []VerificationFailure

	for _, change := range vctx.Changes {
		if change.Kind == ChangeDelete {
			continue
		}
		langFn, ok := extensionLanguages[strings.ToLower(filepath.Ext(change.Path))]
		if !ok {
			continue
		}

		parser := sitter.NewParser()
		parser.SetLanguage(langFn())
		tree, err := parser.ParseCtx(ctx, nil, change.ProposedContent)
		if err != nil {
			parser.Close()
			failures = append(failures, VerificationFailure{
				File:    change.Path,
				Message: fmt.Sprintf("parse failed: %v", err),
			})
			continue
		}

		failures = append(failures, findParseErrors(tree.RootNode(), change.Path, change.ProposedContent)...)
		tree.Close()
		parser.Close()
	}

	if len(failures) > 0 {
		return &SyntacticLockFailed{Failures: failures}
	}
	return nil
}

// findParseErrors walks a parsed tree looking for ERROR nodes and
// missing tokens, the two ways tree-sitter signals a syntax error.
func findParseErrors(node *sitter.Node, path string, source []byte) []VerificationFailure {
	var failures []VerificationFailure

	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		if n.IsMissing() {
			point := n.StartPoint()
			failures = append(failures, VerificationFailure{
				File:    path,
				Line:    int(point.Row) + 1,
				Column:  int(point.Column) + 1,
				Message: fmt.Sprintf("missing token: %s", n.Type()),
			})
		} else if n.IsError() {
			point := n.StartPoint()
			failures = append(failures, VerificationFailure{
				File:    path,
				Line:    int(point.Row) + 1,
				Column:  int(point.Column) + 1,
				Message: fmt.Sprintf("unexpected syntax near %q", n.Content(source)),
			})
		}

		for i := 0; i < int(n.ChildCount()); i++ {
			walk(n.Child(i))
		}
	}
	walk(node)
	return failures
}
