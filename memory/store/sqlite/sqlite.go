// Package sqlite is a durable write-through journal for the in-memory vector
// store, built on the pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"time"

	_ "modernc.org/sqlite"

	"github.com/becomeliminal/nim-memory/internal/logging"
	"github.com/becomeliminal/nim-memory/memory"
	"github.com/becomeliminal/nim-memory/memory/store/inmem"
)

// Journal records collections and vectors in a SQLite database.
type Journal struct {
	db   *sql.DB
	path string
}

var _ inmem.Journal = (*Journal)(nil)

// Open opens (or creates) the journal database at path.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// Writes are serialized by the store; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	j := &Journal{db: db, path: path}
	if err := j.init(); err != nil {
		db.Close()
		return nil, err
	}
	logging.Debugf("[SQLITE] Opened journal at %s", path)
	return j, nil
}

func (j *Journal) init() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := j.db.Exec(p); err != nil {
			return fmt.Errorf("pragma failed: %w", err)
		}
	}

	schema := `
		CREATE TABLE IF NOT EXISTS collections (
			name TEXT PRIMARY KEY,
			dimension INTEGER NOT NULL,
			created_at TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS vectors (
			collection TEXT NOT NULL REFERENCES collections(name) ON DELETE CASCADE,
			id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			embedding BLOB NOT NULL,
			metadata TEXT NOT NULL,
			PRIMARY KEY (collection, id)
		);
		CREATE INDEX IF NOT EXISTS idx_vectors_seq ON vectors(collection, seq);
	`
	if _, err := j.db.Exec(schema); err != nil {
		return fmt.Errorf("schema creation failed: %w", err)
	}
	return nil
}

// Path returns the database file path.
func (j *Journal) Path() string {
	return j.path
}

// CreateCollection records an empty collection.
func (j *Journal) CreateCollection(ctx context.Context, name string, dimension int) error {
	_, err := j.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO collections (name, dimension, created_at) VALUES (?, ?, ?)",
		name, dimension, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert collection %s: %w", name, err)
	}
	return nil
}

// Upsert writes records in one transaction, creating the collection if
// needed. Overwritten records keep their original sequence number.
func (j *Journal) Upsert(ctx context.Context, name string, dimension int, records []memory.VectorRecord) error {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"INSERT OR IGNORE INTO collections (name, dimension, created_at) VALUES (?, ?, ?)",
		name, dimension, time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("insert collection %s: %w", name, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO vectors (collection, id, seq, embedding, metadata)
		VALUES (?, ?, (SELECT COALESCE(MAX(seq), -1) + 1 FROM vectors WHERE collection = ?), ?, ?)
		ON CONFLICT (collection, id) DO UPDATE SET
			embedding = excluded.embedding,
			metadata = excluded.metadata`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		meta, err := json.Marshal(rec.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata for %s: %w", rec.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, name, rec.ID, name, encodeFloat32s(rec.Vector), string(meta)); err != nil {
			return fmt.Errorf("upsert %s: %w", rec.ID, err)
		}
	}
	return tx.Commit()
}

// Delete removes records by id.
func (j *Journal) Delete(ctx context.Context, name string, ids []string) error {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, "DELETE FROM vectors WHERE collection = ? AND id = ?")
	if err != nil {
		return fmt.Errorf("prepare delete: %w", err)
	}
	defer stmt.Close()

	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, name, id); err != nil {
			return fmt.Errorf("delete %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// DeleteCollection removes a collection; its vectors cascade.
func (j *Journal) DeleteCollection(ctx context.Context, name string) error {
	if _, err := j.db.ExecContext(ctx, "DELETE FROM collections WHERE name = ?", name); err != nil {
		return fmt.Errorf("delete collection %s: %w", name, err)
	}
	return nil
}

// Load reads every collection with its records in insertion order.
func (j *Journal) Load(ctx context.Context) ([]inmem.Snapshot, error) {
	rows, err := j.db.QueryContext(ctx, "SELECT name, dimension FROM collections ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("query collections: %w", err)
	}
	var snapshots []inmem.Snapshot
	for rows.Next() {
		var snap inmem.Snapshot
		if err := rows.Scan(&snap.Name, &snap.Dimension); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan collection: %w", err)
		}
		snapshots = append(snapshots, snap)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range snapshots {
		records, err := j.loadRecords(ctx, snapshots[i].Name)
		if err != nil {
			return nil, err
		}
		snapshots[i].Records = records
	}
	return snapshots, nil
}

func (j *Journal) loadRecords(ctx context.Context, name string) ([]memory.VectorRecord, error) {
	rows, err := j.db.QueryContext(ctx,
		"SELECT id, embedding, metadata FROM vectors WHERE collection = ? ORDER BY seq", name)
	if err != nil {
		return nil, fmt.Errorf("query vectors of %s: %w", name, err)
	}
	defer rows.Close()

	var records []memory.VectorRecord
	for rows.Next() {
		var (
			rec  memory.VectorRecord
			blob []byte
			meta string
		)
		if err := rows.Scan(&rec.ID, &blob, &meta); err != nil {
			return nil, fmt.Errorf("scan vector: %w", err)
		}
		rec.Vector = decodeFloat32s(blob)
		if err := json.Unmarshal([]byte(meta), &rec.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata for %s: %w", rec.ID, err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// encodeFloat32s converts a float32 slice to little-endian bytes.
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32s converts little-endian bytes back to a float32 slice.
func decodeFloat32s(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
