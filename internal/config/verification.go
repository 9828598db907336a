package config

// VerificationConfig controls the Double-Lock safety harness.
type VerificationConfig struct {
	// WarningsAreFailures promotes LSP diagnostic warnings to commit
	// blockers during the semantic lock phase.
	WarningsAreFailures bool `yaml:"warnings_are_failures"`
	SemanticLockTimeout int  `yaml:"semantic_lock_timeout_seconds"`
}

// DefaultVerificationConfig returns the built-in verification defaults.
func DefaultVerificationConfig() VerificationConfig {
	return VerificationConfig{
		WarningsAreFailures: true,
		SemanticLockTimeout: 10,
	}
}
