package migration

import (
	"fmt"

	appconfig "github.com/BaSui01/agentswarm/config"
)

// NewMigratorFromConfig builds a migrator from application configuration,
// consuming only its database section.
func NewMigratorFromConfig(cfg *appconfig.Config) (*Migrator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	return NewMigratorFromDatabaseConfig(cfg.Database)
}

// NewMigratorFromDatabaseConfig builds a migrator for the configured
// database. DSN ignores fields the dialect has no use for (SQLite reads
// only Name, MySQL has no SSL mode), so branching over dialects happens
// exactly once, in ParseDialect.
func NewMigratorFromDatabaseConfig(dbCfg appconfig.DatabaseConfig) (*Migrator, error) {
	dialect, err := ParseDialect(dbCfg.Driver)
	if err != nil {
		return nil, fmt.Errorf("invalid database dialect: %w", err)
	}

	return New(Options{
		Dialect: dialect,
		DSN: DSN(dialect, dbCfg.Host, dbCfg.Port,
			dbCfg.Name, dbCfg.User, dbCfg.Password, dbCfg.SSLMode),
	})
}

// NewMigratorFromDSN builds a migrator from a ready-made connection string.
func NewMigratorFromDSN(dialect, dsn string) (*Migrator, error) {
	d, err := ParseDialect(dialect)
	if err != nil {
		return nil, err
	}
	return New(Options{Dialect: d, DSN: dsn})
}
