package historian

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/microsoft/go-mssqldb"
)

// ConnectionConfig addresses the plant historian database.
type ConnectionConfig struct {
	Type     string // mysql | postgres | mssql
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// Dialect builds the one query shape the historian needs: the newest row of
// a table, optionally narrowed to one machine key.
type Dialect interface {
	Name() string
	Quote(ident string) string
	Placeholder(n int) string
	LatestRow(table, timestampColumn string, columns []string, keyColumn string) (string, error)
}

type postgresDialect struct{}

func (postgresDialect) Name() string { return "postgres" }
func (postgresDialect) Quote(s string) string { return `"` + s + `"` }
func (postgresDialect) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }
func (d postgresDialect) LatestRow(table, ts string, cols []string, key string) (string, error) {
	return latestRowLimit(d, table, ts, cols, key)
}

type mysqlDialect struct{}

func (mysqlDialect) Name() string { return "mysql" }
func (mysqlDialect) Quote(s string) string { return "`" + s + "`" }
func (mysqlDialect) Placeholder(int) string { return "?" }
func (d mysqlDialect) LatestRow(table, ts string, cols []string, key string) (string, error) {
	return latestRowLimit(d, table, ts, cols, key)
}

type mssqlDialect struct{}

func (mssqlDialect) Name() string { return "mssql" }
func (mssqlDialect) Quote(s string) string { return "[" + s + "]" }
func (mssqlDialect) Placeholder(n int) string { return fmt.Sprintf("@p%d", n) }
func (d mssqlDialect) LatestRow(table, ts string, cols []string, key string) (string, error) {
	from, selectClause, where, order, err := latestRowParts(d, table, ts, cols, key)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("SELECT TOP 1 %s FROM %s%s ORDER BY %s DESC", selectClause, from, where, order), nil
}

func latestRowLimit(d Dialect, table, ts string, cols []string, key string) (string, error) {
	from, selectClause, where, order, err := latestRowParts(d, table, ts, cols, key)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("SELECT %s FROM %s%s ORDER BY %s DESC LIMIT 1", selectClause, from, where, order), nil
}

func latestRowParts(d Dialect, table, ts string, cols []string, key string) (from, selectClause, where, order string, err error) {
	from, _, err = quoteQualified(table, 2, d.Quote)
	if err != nil {
		return "", "", "", "", fmt.Errorf("invalid %s table: %w", d.Name(), err)
	}
	selectClause, err = quoteList(append([]string{ts}, cols...), d.Quote)
	if err != nil {
		return "", "", "", "", fmt.Errorf("invalid %s column list: %w", d.Name(), err)
	}
	if key != "" {
		if !IsSafeIdentifier(key) {
			return "", "", "", "", fmt.Errorf("invalid %s key column %q", d.Name(), key)
		}
		where = fmt.Sprintf(" WHERE %s = %s", d.Quote(key), d.Placeholder(1))
	}
	return from, selectClause, where, d.Quote(ts), nil
}

// DialectFor maps a historian type to its SQL dialect.
func DialectFor(kind string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "postgres", "postgresql":
		return postgresDialect{}, nil
	case "mysql":
		return mysqlDialect{}, nil
	case "mssql", "sqlserver":
		return mssqlDialect{}, nil
	case "":
		return nil, errors.New("historian type is required")
	default:
		return nil, fmt.Errorf("unsupported historian type %q", kind)
	}
}

// Open returns a pool for the configured historian and its dialect. The
// connection is verified with a ping.
func Open(ctx context.Context, cfg ConnectionConfig) (*sql.DB, Dialect, error) {
	dialect, err := DialectFor(cfg.Type)
	if err != nil {
		return nil, nil, err
	}
	driver, dsn := buildDSN(dialect, cfg)
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s connection: %w", dialect.Name(), err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("ping %s: %w", dialect.Name(), err)
	}
	return db, dialect, nil
}

func buildDSN(d Dialect, cfg ConnectionConfig) (driver, dsn string) {
	sslMode := strings.ToLower(strings.TrimSpace(cfg.SSLMode))
	switch d.Name() {
	case "mysql":
		if cfg.Port == 0 {
			cfg.Port = 3306
		}
		dsn = fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true", cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database)
		if sslMode == "disable" {
			dsn += "&tls=false"
		} else if sslMode != "" {
			dsn += "&tls=true"
		}
		return "mysql", dsn
	case "mssql":
		if cfg.Port == 0 {
			cfg.Port = 1433
		}
		encrypt := "true"
		if sslMode == "disable" {
			encrypt = "disable"
		}
		dsn = fmt.Sprintf("sqlserver://%s:%s@%s:%d?database=%s&encrypt=%s",
			url.QueryEscape(cfg.User), url.QueryEscape(cfg.Password), cfg.Host, cfg.Port, url.QueryEscape(cfg.Database), encrypt)
		return "sqlserver", dsn
	default:
		if cfg.Port == 0 {
			cfg.Port = 5432
		}
		if sslMode == "" {
			sslMode = "disable"
		}
		dsn = fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s", cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, sslMode)
		return "postgres", dsn
	}
}

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// IsSafeIdentifier reports whether value can be spliced into SQL as a single
// quoted identifier.
func IsSafeIdentifier(value string) bool {
	return identPattern.MatchString(value)
}

func splitIdentifier(ident string) ([]string, error) {
	trimmed := strings.TrimSpace(ident)
	if trimmed == "" {
		return nil, errors.New("identifier is empty")
	}
	parts := strings.Split(trimmed, ".")
	for _, part := range parts {
		if part == "" {
			return nil, errors.New("identifier contains empty segment")
		}
		if !IsSafeIdentifier(part) {
			return nil, fmt.Errorf("identifier segment %q is invalid", part)
		}
	}
	return parts, nil
}

func quoteQualified(ident string, maxSegments int, quote func(string) string) (string, []string, error) {
	parts, err := splitIdentifier(ident)
	if err != nil {
		return "", nil, err
	}
	if maxSegments > 0 && len(parts) > maxSegments {
		return "", nil, fmt.Errorf("identifier %q has too many segments", ident)
	}
	quoted := make([]string, len(parts))
	for i, part := range parts {
		quoted[i] = quote(part)
	}
	return strings.Join(quoted, "."), parts, nil
}

func quoteList(names []string, quote func(string) string) (string, error) {
	if len(names) == 0 {
		return "", errors.New("no columns provided")
	}
	quoted := make([]string, len(names))
	for i, name := range names {
		if !IsSafeIdentifier(name) {
			return "", fmt.Errorf("invalid column name %q", name)
		}
		quoted[i] = quote(name)
	}
	return strings.Join(quoted, ", "), nil
}
