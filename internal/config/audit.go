package config

// AuditConfig locates the append-only SQLite audit ledger. The ledger
// is an observability convenience only: nothing the daemon depends on
// for correctness reads from it at startup.
type AuditConfig struct {
	DBPath  string `yaml:"db_path"`
	Enabled bool   `yaml:"enabled"`
}

// DefaultAuditConfig returns the built-in audit defaults.
func DefaultAuditConfig() AuditConfig {
	return AuditConfig{
		DBPath:  "/var/lib/weaverd/audit.db",
		Enabled: true,
	}
}
