// Package capability resolves per-language capabilities from server
// advertisement plus a declarative override matrix, and hosts the
// per-language LSP sessions.
package capability

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/mangle/analysis"
	"github.com/google/mangle/ast"
	_ "github.com/google/mangle/builtin"
	"github.com/google/mangle/engine"
	"github.com/google/mangle/factstore"
	"github.com/google/mangle/parse"
)

// Kind is one of the four capability kinds the host negotiates.
type Kind string

const (
	KindDefinition    Kind = "definition"
	KindReferences    Kind = "references"
	KindDiagnostics   Kind = "diagnostics"
	KindCallHierarchy Kind = "call_hierarchy"
)

// Decision is the resolved effect of an override for one
// (language, capability) pair.
type Decision string

const (
	DecisionForce Decision = "Force"
	DecisionDeny  Decision = "Deny"
	DecisionAllow Decision = "Allow"
)

const overridePredicate = "capability_override"

type overrideKey struct {
	language string
	kind     Kind
}

// Matrix is the capability override table. Overrides can be set
// programmatically or loaded in bulk from a declarative Mangle program
// of capability_override(Language, Capability, Decision) facts. A later
// Set for the same key replaces the earlier one; when one loaded program
// holds facts with different decisions for the same key, the one kept
// depends on fact-store iteration order.
type Matrix struct {
	mu        sync.RWMutex
	overrides map[overrideKey]Decision
}

// NewMatrix returns an empty override matrix.
func NewMatrix() *Matrix {
	return &Matrix{overrides: make(map[overrideKey]Decision)}
}

// matrixSchema declares the override predicate's shape. Language,
// capability, and decision are all encoded as Mangle Name constants
// (leading "/").
const matrixSchema = `
Decl capability_override(Language.Type<n>, Capability.Type<n>, Decision.Type<n>).
`

// LoadSource parses and evaluates a Mangle program declaring
// capability_override/3 facts (schema included automatically), then
// imports the resulting fact set into a fresh Matrix with keys
// normalised to lowercase-trimmed form.
func LoadSource(source string) (*Matrix, error) {
	unit, err := parse.Unit(strings.NewReader(matrixSchema + source))
	if err != nil {
		return nil, fmt.Errorf("capability matrix: parse: %w", err)
	}
	info, err := analysis.AnalyzeOneUnit(unit, nil)
	if err != nil {
		return nil, fmt.Errorf("capability matrix: analyze: %w", err)
	}
	store := factstore.NewSimpleInMemoryStore()
	if _, err := engine.EvalProgramWithStats(info, store); err != nil {
		return nil, fmt.Errorf("capability matrix: evaluate: %w", err)
	}

	m := NewMatrix()
	pred := ast.PredicateSym{Symbol: overridePredicate, Arity: 3}
	query := ast.NewQuery(pred)
	if err := store.GetFacts(query, func(atom ast.Atom) error {
		if len(atom.Args) != 3 {
			return nil
		}
		lang, lok := atom.Args[0].(ast.Constant)
		cap, cok := atom.Args[1].(ast.Constant)
		dec, dok := atom.Args[2].(ast.Constant)
		if !lok || !cok || !dok {
			return nil
		}
		m.Set(stripName(lang.Symbol), Kind(stripName(cap.Symbol)), Decision(titleCase(stripName(dec.Symbol))))
		return nil
	}); err != nil {
		return nil, fmt.Errorf("capability matrix: read facts: %w", err)
	}
	return m, nil
}

// stripName removes the leading "/" Mangle uses for Name constants.
func stripName(s string) string {
	return strings.TrimPrefix(s, "/")
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func normalise(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ReloadFrom re-parses a Mangle override program and atomically swaps
// the matrix's contents, leaving the previous overrides intact if
// parsing or evaluation fails. Used by Watcher to hot-reload the
// override-matrix file.
func (m *Matrix) ReloadFrom(source string) error {
	fresh, err := LoadSource(source)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.overrides = fresh.overrides
	m.mu.Unlock()
	return nil
}

// Set records an override; a later call for the same
// (language, capability) key replaces the earlier one.
func (m *Matrix) Set(language string, kind Kind, decision Decision) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.overrides[overrideKey{language: normalise(language), kind: Kind(normalise(string(kind)))}] = decision
}

// OverrideFor looks up the override decision for (language, capability),
// case- and whitespace-insensitive. The second return value is false
// when no override is recorded.
func (m *Matrix) OverrideFor(language string, kind Kind) (Decision, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	dec, ok := m.overrides[overrideKey{language: normalise(language), kind: Kind(normalise(string(kind)))}]
	return dec, ok
}
