package store

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// DB is the Postgres handle behind the attendance, lecture, and leave
// repositories. Both the API and the capture daemon open one each.
type DB struct {
	Client *sql.DB
}

// NewDB opens a pooled connection. A nil handle means the DSN itself is
// unusable; a non-nil handle with an error means the ping failed and the
// database may come up later.
func NewDB(connString string) (*DB, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, err
	}
	// One classroom's worth of traffic; the capture loop adds at most one
	// query per tick.
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	return &DB{Client: db}, db.PingContext(context.Background())
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	if d == nil || d.Client == nil {
		return nil
	}
	return d.Client.Close()
}
