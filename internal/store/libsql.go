package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
)

// LibsqlBackend keeps the document as a single row in a Turso/libsql
// database. The full-rewrite model is preserved: every save replaces
// the one row.
type LibsqlBackend struct {
	db *sql.DB
}

func NewLibsqlBackend(dbURL, authToken string) (*LibsqlBackend, error) {
	dsn := dbURL
	if authToken != "" {
		dsn = fmt.Sprintf("%s?authToken=%s", dbURL, authToken)
	}

	db, err := sql.Open("libsql", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	b := &LibsqlBackend{db: db}
	if err := b.createTable(); err != nil {
		db.Close()
		return nil, err
	}
	return b, nil
}

func (b *LibsqlBackend) createTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS bot_state (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		doc TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`
	_, err := b.db.Exec(query)
	return err
}

func (b *LibsqlBackend) Load(ctx context.Context) ([]byte, error) {
	var doc string
	err := b.db.QueryRowContext(ctx, "SELECT doc FROM bot_state WHERE id = 1").Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return []byte(doc), nil
}

func (b *LibsqlBackend) Save(ctx context.Context, doc []byte) error {
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO bot_state (id, doc, updated_at) VALUES (1, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET doc = excluded.doc, updated_at = CURRENT_TIMESTAMP
	`, string(doc))
	return err
}

func (b *LibsqlBackend) Close() error {
	return b.db.Close()
}
