/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package cursor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	_ "github.com/lib/pq"
)

// PostgresStore keeps cursors in the ordersync.cursors table created by the migrations under sql/.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// ConnectDB opens and pings a postgres connection.
func ConnectDB(dns string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dns)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		log.Printf("database connection error ❌: %v", err)
		return nil, err
	}
	return db, nil
}

func (p *PostgresStore) Read(ctx context.Context, key string, def int64) (int64, error) {
	var value int64
	err := p.db.QueryRowContext(ctx, `SELECT value FROM ordersync.cursors WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return def, nil
	}
	if err != nil {
		return def, fmt.Errorf("failed to read cursor %s: %w", key, err)
	}
	if value < 0 {
		return def, nil
	}
	return value, nil
}

func (p *PostgresStore) Write(ctx context.Context, key string, value int64) error {
	if value < 0 {
		return fmt.Errorf("cursor %s: negative value %d", key, value)
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO ordersync.cursors (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
	`, key, value)
	if err != nil {
		return fmt.Errorf("failed to write cursor %s: %w", key, err)
	}
	return nil
}
