package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/namelink/internal/config"
)

// Connection holds the database connection
type Connection struct {
	DB *sql.DB
}

// DSN builds a lib/pq connection string. MATCH_PG_DSN wins over the PG* variables.
func DSN() string {
	if dsn := config.GetEnv("MATCH_PG_DSN", ""); dsn != "" {
		return dsn
	}

	host := config.GetEnv("PGHOST", "localhost")
	port := config.GetEnv("PGPORT", "5432")
	user := config.GetEnv("PGUSER", "namelink")
	password := config.GetEnv("PGPASSWORD", "namelink")
	dbname := config.GetEnv("PGDATABASE", "namelink")
	sslmode := config.GetEnv("PGSSLMODE", "disable")

	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		host, port, user, password, dbname, sslmode)
}

// NewConnection opens and pings the database described by the environment
func NewConnection(ctx context.Context) (*Connection, error) {
	return Open(ctx, DSN())
}

// Open opens and pings the database at dsn
func Open(ctx context.Context, dsn string) (*Connection, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(config.GetEnvInt("PG_MAX_OPEN_CONNS", 20))
	db.SetMaxIdleConns(config.GetEnvInt("PG_MAX_IDLE_CONNS", 10))

	return &Connection{DB: db}, nil
}

// Ping checks the connection is alive
func (c *Connection) Ping(ctx context.Context) error {
	return c.DB.PingContext(ctx)
}

// Close closes the database connection
func (c *Connection) Close() error {
	return c.DB.Close()
}
