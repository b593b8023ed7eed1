// Package conf bootstraps throwaway Postgres databases for storage tests.
package conf

import (
	"database/sql"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// Config describes one disposable test database.
type Config struct {
	Name    string
	DB      *sql.DB
	ConnStr string
	AdminDB *sql.DB
}

const (
	testHost     = "localhost"
	testPort     = 5432
	testUser     = "postgres"
	testPassword = "postgres"
)

// NewTestConfig creates a randomly named database, applies scripts/schema.sql
// and returns the connection plus a cleanup function that drops it. The test
// is skipped when no local Postgres is reachable.
func NewTestConfig(t *testing.T) (*Config, func()) {
	t.Helper()

	adminConnStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=postgres sslmode=disable",
		testHost, testPort, testUser, testPassword)
	adminDB, err := sql.Open("postgres", adminConnStr)
	if err != nil {
		t.Fatalf("NewTestConfig | Failed to connect to postgres: %v", err)
	}
	if err := adminDB.Ping(); err != nil {
		adminDB.Close()
		t.Skipf("NewTestConfig | Postgres not reachable, skipping: %v", err)
		return nil, func() {}
	}

	dbName := fmt.Sprintf("signalbot_test_%d", rand.Int31())
	if _, err := adminDB.Exec("CREATE DATABASE " + dbName); err != nil {
		adminDB.Close()
		t.Fatalf("NewTestConfig | Failed to create database %s: %v", dbName, err)
	}

	schemaSQL, err := os.ReadFile(findSchema())
	if err != nil {
		adminDB.Close()
		t.Fatalf("NewTestConfig | Failed to read schema.sql: %v", err)
	}

	connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		testHost, testPort, testUser, testPassword, dbName)
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		adminDB.Close()
		t.Fatalf("NewTestConfig | Failed to connect to %s: %v", dbName, err)
	}

	for _, stmt := range strings.Split(string(schemaSQL), ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			adminDB.Close()
			t.Fatalf("NewTestConfig | Failed to apply schema statement %q: %v", stmt, err)
		}
	}

	cfg := &Config{
		Name:    dbName,
		DB:      db,
		ConnStr: connStr,
		AdminDB: adminDB,
	}
	cleanup := func() {
		db.Close()
		if _, err := adminDB.Exec(fmt.Sprintf("DROP DATABASE %s WITH (FORCE)", dbName)); err != nil {
			t.Logf("NewTestConfig | Failed to drop database %s: %v", dbName, err)
		}
		adminDB.Close()
	}
	return cfg, cleanup
}

// findSchema locates scripts/schema.sql relative to the test's working
// directory.
func findSchema() string {
	path := filepath.Join("scripts", "schema.sql")
	for i := 0; i < 3; i++ {
		if _, err := os.Stat(path); err == nil {
			return path
		}
		path = filepath.Join("..", path)
	}
	return filepath.Join("scripts", "schema.sql")
}
