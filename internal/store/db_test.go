package store

import "testing"

func TestNewDBReturnsNoHandleForBadDSN(t *testing.T) {
	db, err := NewDB("this is not a connection string")
	if err == nil {
		t.Fatal("NewDB accepted a malformed DSN")
	}
	// Callers treat a nil handle as fatal; the error must not come back
	// alongside a half-built DB.
	if db != nil {
		t.Fatalf("db = %v, want nil handle on open failure", db)
	}
}

func TestDBCloseNilSafe(t *testing.T) {
	var db *DB
	if err := db.Close(); err != nil {
		t.Fatalf("Close on nil handle: %v", err)
	}
}
