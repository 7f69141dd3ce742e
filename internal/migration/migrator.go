// Package migration 管理任务池表结构的版本化迁移。
package migration

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations
var migrationsFS embed.FS

// Dialect 数据库方言。内嵌的迁移脚本按方言分目录存放。
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectMySQL    Dialect = "mysql"
	DialectSQLite   Dialect = "sqlite"
)

// ParseDialect 解析方言名称，接受常见别名。
func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(s) {
	case "postgres", "postgresql", "pg":
		return DialectPostgres, nil
	case "mysql", "mariadb":
		return DialectMySQL, nil
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	default:
		return "", fmt.Errorf("unsupported database dialect: %s", s)
	}
}

// DSN 按方言拼接连接串。SQLite 只使用 name（文件路径），
// MySQL 没有 sslMode，Postgres 的 sslMode 为空时取 require。
func DSN(d Dialect, host string, port int, name, user, password, sslMode string) string {
	switch d {
	case DialectPostgres:
		if sslMode == "" {
			sslMode = "require"
		}
		return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
			user, password, host, port, name, sslMode)
	case DialectMySQL:
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&multiStatements=true",
			user, password, host, port, name)
	case DialectSQLite:
		return fmt.Sprintf("file:%s?mode=rwc", name)
	default:
		return ""
	}
}

// Options 迁移器配置。
type Options struct {
	// Dialect 目标数据库方言
	Dialect Dialect
	// DSN 连接串，格式随方言而异，见 DSN 函数
	DSN string
	// Table 迁移版本表名，默认 schema_migrations
	Table string
}

// Migrator 把内嵌的 swarm_tasks 迁移脚本应用到目标数据库。
// SQLite 走 modernc 纯 Go 驱动（注册名 "sqlite"），无需 CGO。
type Migrator struct {
	dialect Dialect
	db      *sql.DB
	m       *migrate.Migrate
}

// New 打开数据库连接并装配迁移器。
func New(opts Options) (*Migrator, error) {
	if opts.DSN == "" {
		return nil, errors.New("database DSN is required")
	}
	if opts.Table == "" {
		opts.Table = "schema_migrations"
	}

	db, err := sql.Open(string(opts.Dialect), opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", opts.Dialect, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s database: %w", opts.Dialect, err)
	}

	driver, err := dbDriver(opts.Dialect, db, opts.Table)
	if err != nil {
		db.Close()
		return nil, err
	}

	src, err := iofs.New(migrationsFS, "migrations/"+string(opts.Dialect))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("load embedded migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, string(opts.Dialect), driver)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("assemble migrator: %w", err)
	}
	m.LockTimeout = 15 * time.Second

	return &Migrator{dialect: opts.Dialect, db: db, m: m}, nil
}

// dbDriver 为 golang-migrate 创建目标方言的驱动。
func dbDriver(d Dialect, db *sql.DB, table string) (database.Driver, error) {
	switch d {
	case DialectPostgres:
		return postgres.WithInstance(db, &postgres.Config{MigrationsTable: table})
	case DialectMySQL:
		return mysql.WithInstance(db, &mysql.Config{MigrationsTable: table})
	case DialectSQLite:
		return sqlite.WithInstance(db, &sqlite.Config{MigrationsTable: table})
	default:
		return nil, fmt.Errorf("unsupported database dialect: %s", d)
	}
}

// Up 应用所有待执行的迁移。已是最新版本时为空操作。
func (m *Migrator) Up(ctx context.Context) error {
	if err := m.m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

// Down 回滚最近一次迁移。
func (m *Migrator) Down(ctx context.Context) error {
	if err := m.m.Steps(-1); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate down: %w", err)
	}
	return nil
}

// Reset 回滚全部迁移，清空任务池表结构。
func (m *Migrator) Reset(ctx context.Context) error {
	if err := m.m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate reset: %w", err)
	}
	return nil
}

// Version 返回当前版本号与 dirty 标记。尚未迁移时版本为 0。
func (m *Migrator) Version(ctx context.Context) (uint, bool, error) {
	version, dirty, err := m.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read migration version: %w", err)
	}
	return version, dirty, nil
}

// Pending 返回尚未应用的迁移数量。
func (m *Migrator) Pending(ctx context.Context) (int, error) {
	current, _, err := m.Version(ctx)
	if err != nil {
		return 0, err
	}

	pending := 0
	for _, v := range availableVersions(m.dialect) {
		if v > current {
			pending++
		}
	}
	return pending, nil
}

// Close 释放迁移器持有的连接。
func (m *Migrator) Close() error {
	srcErr, dbErr := m.m.Close()
	if srcErr != nil {
		return fmt.Errorf("close migration source: %w", srcErr)
	}
	return dbErr
}

// availableVersions 列出内嵌脚本携带的全部版本号，升序。
// 文件名形如 000001_create_swarm_tasks.up.sql。
func availableVersions(d Dialect) []uint {
	entries, err := fs.ReadDir(migrationsFS, "migrations/"+string(d))
	if err != nil {
		return nil
	}

	seen := make(map[uint]bool)
	var versions []uint
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, ".up.sql") {
			continue
		}
		var v uint
		if _, err := fmt.Sscanf(name, "%d_", &v); err != nil || seen[v] {
			continue
		}
		seen[v] = true
		versions = append(versions, v)
	}
	for i := 1; i < len(versions); i++ {
		for j := i; j > 0 && versions[j] < versions[j-1]; j-- {
			versions[j], versions[j-1] = versions[j-1], versions[j]
		}
	}
	return versions
}
