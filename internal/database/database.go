// Package database opens the SQL database used for conversation history.
// File paths and sqlite: URLs use the pure-Go sqlite driver; postgres URLs use
// pgx through database/sql.
package database

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	_ "modernc.org/sqlite"
)

// Dialect selects placeholder syntax and driver.
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

// DialectOf infers the dialect from a DSN.
func DialectOf(dsn string) Dialect {
	lower := strings.ToLower(strings.TrimSpace(dsn))
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		return Postgres
	}
	return SQLite
}

// Open connects to dsn and verifies the connection.
func Open(dsn string) (*sql.DB, Dialect, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, "", errors.New("database URL is empty")
	}

	dialect := DialectOf(dsn)
	var (
		db  *sql.DB
		err error
	)
	switch dialect {
	case Postgres:
		db, err = sql.Open("pgx", dsn)
	default:
		path := strings.TrimPrefix(dsn, "sqlite://")
		path = strings.TrimPrefix(path, "sqlite:")
		if !strings.Contains(path, "?") {
			path += "?_pragma=busy_timeout(5000)"
		}
		db, err = sql.Open("sqlite", path)
		if err == nil {
			// every pooled connection to ":memory:" would be a separate database
			db.SetMaxOpenConns(1)
		}
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to open db: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, "", fmt.Errorf("failed to ping db: %w", err)
	}
	return db, dialect, nil
}

// Rebind rewrites "?" placeholders into the dialect's syntax.
func Rebind(dialect Dialect, query string) string {
	if dialect != Postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// LoadURL returns DATABASE_URL from the environment, falling back to the
// nearest .env file above the working directory.
func LoadURL() (string, error) {
	if direct := strings.TrimSpace(os.Getenv("DATABASE_URL")); direct != "" {
		return direct, nil
	}

	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get working directory: %w", err)
	}
	envPath, err := findEnvFile(wd)
	if err != nil {
		return "", err
	}
	values, err := godotenv.Read(envPath)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", envPath, err)
	}
	value, ok := values["DATABASE_URL"]
	if !ok {
		return "", errors.New("DATABASE_URL not found in environment or .env")
	}
	if strings.TrimSpace(value) == "" {
		return "", errors.New("DATABASE_URL is empty in .env")
	}
	return strings.TrimSpace(value), nil
}

func findEnvFile(start string) (string, error) {
	dir := start
	for {
		candidate := filepath.Join(dir, ".env")
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", fmt.Errorf(".env not found starting from %s", start)
}
