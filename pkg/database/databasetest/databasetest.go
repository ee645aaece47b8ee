// Package databasetest boots a throwaway embedded PostgreSQL instance with
// the service schema loaded, so store-layer tests can exercise the real SQL
// — row locking, coalescing upserts, skip-locked claims — instead of
// stubbing the driver.
package databasetest

import (
	"database/sql"
	"fmt"
	"net"
	"path/filepath"
	"testing"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	_ "github.com/lib/pq"
)

const schema = `
CREATE TABLE mappings (
	id            BIGSERIAL PRIMARY KEY,
	slug          TEXT NOT NULL,
	mal_id        INTEGER UNIQUE,
	mal_title     TEXT,
	mal_episodes  INTEGER,
	mal_year      INTEGER,
	mal_image_url TEXT,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE mapping_slugs (
	mapping_id BIGINT NOT NULL REFERENCES mappings (id),
	provider   TEXT NOT NULL,
	slug       TEXT NOT NULL,
	PRIMARY KEY (mapping_id, provider)
);

CREATE TABLE mapping_phashes (
	mapping_id BIGINT NOT NULL REFERENCES mappings (id),
	hash       TEXT NOT NULL,
	PRIMARY KEY (mapping_id, hash)
);

CREATE TABLE video_queue (
	id            BIGSERIAL PRIMARY KEY,
	mal_id        INTEGER NOT NULL,
	episode       INTEGER NOT NULL,
	provider      TEXT NOT NULL,
	video_url     TEXT NOT NULL,
	resolution    TEXT,
	status        TEXT NOT NULL,
	retry_count   INTEGER NOT NULL DEFAULT 0,
	error_message TEXT,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE NULLS NOT DISTINCT (mal_id, episode, provider, resolution)
);

CREATE TABLE video_store (
	id            BIGSERIAL PRIMARY KEY,
	mal_id        INTEGER NOT NULL,
	episode       INTEGER NOT NULL,
	provider      TEXT NOT NULL,
	resolution    TEXT,
	file_key      TEXT NOT NULL,
	account_index INTEGER NOT NULL,
	repo_id       TEXT NOT NULL,
	path          TEXT NOT NULL,
	direct_url    TEXT NOT NULL,
	stream_url    TEXT NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE NULLS NOT DISTINCT (mal_id, episode, provider, resolution)
);
`

// New starts PostgreSQL under t.TempDir, applies the schema, and returns an
// open connection. Everything is torn down with the test.
func New(t *testing.T) *sql.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping embedded-postgres test in short mode")
	}

	port := freePort(t)
	base := t.TempDir()

	// NULLS NOT DISTINCT on the queue/store unique keys needs PostgreSQL 15+.
	pg := embeddedpostgres.NewDatabase(embeddedpostgres.DefaultConfig().
		Version(embeddedpostgres.V16).
		Username("postgres").
		Password("postgres").
		Database("anisource").
		Port(port).
		RuntimePath(filepath.Join(base, "runtime")).
		DataPath(filepath.Join(base, "data")).
		BinariesPath(filepath.Join(base, "binaries")).
		StartTimeout(60 * time.Second).
		Logger(nil))

	if err := pg.Start(); err != nil {
		t.Fatalf("start embedded postgres: %v", err)
	}
	t.Cleanup(func() {
		if err := pg.Stop(); err != nil {
			t.Logf("stop embedded postgres: %v", err)
		}
	})

	dsn := fmt.Sprintf("host=localhost port=%d user=postgres password=postgres dbname=anisource sslmode=disable", port)
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open embedded postgres: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := db.Ping(); err != nil {
		t.Fatalf("ping embedded postgres: %v", err)
	}
	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	return db
}

func freePort(t *testing.T) uint32 {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("find free port: %v", err)
	}
	defer ln.Close()
	return uint32(ln.Addr().(*net.TCPAddr).Port)
}
