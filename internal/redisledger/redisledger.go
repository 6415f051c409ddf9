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

package redisledger

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/blnkfinance/ordersync/model"
)

const keyPrefix = "ordersync:ledger:"

// Store keeps each ledger as a redis list of JSON-encoded rows. It mirrors the spreadsheet
// operations the pipeline needs, which makes it a drop-in ledger for local runs.
type Store struct {
	client redis.UniversalClient
}

func New(client redis.UniversalClient) *Store {
	return &Store{client: client}
}

func key(ledgerID string) string {
	return keyPrefix + ledgerID
}

func (s *Store) Values(ctx context.Context, ledgerID string) ([]model.Row, error) {
	raw, err := s.client.LRange(ctx, key(ledgerID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger %s: %w", ledgerID, err)
	}
	rows := make([]model.Row, 0, len(raw))
	for i, r := range raw {
		var row model.Row
		if err := json.Unmarshal([]byte(r), &row); err != nil {
			return nil, fmt.Errorf("ledger %s row %d: %w", ledgerID, i+1, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// AppendRows pushes every row in one MULTI/EXEC so a batch lands completely or not at all.
func (s *Store) AppendRows(ctx context.Context, ledgerID string, rows []model.Row) error {
	if len(rows) == 0 {
		return nil
	}
	values := make([]interface{}, len(rows))
	for i, r := range rows {
		data, err := json.Marshal(r)
		if err != nil {
			return err
		}
		values[i] = data
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key(ledgerID), values...)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to append %d rows to ledger %s: %w", len(rows), ledgerID, err)
	}
	return nil
}

// UpdateRow overwrites row rowNumber (1-based). Writing just past the end appends.
func (s *Store) UpdateRow(ctx context.Context, ledgerID string, rowNumber int, row model.Row) error {
	if rowNumber < 1 {
		return fmt.Errorf("invalid row number %d", rowNumber)
	}
	data, err := json.Marshal(row)
	if err != nil {
		return err
	}
	n, err := s.client.LLen(ctx, key(ledgerID)).Result()
	if err != nil {
		return fmt.Errorf("failed to read ledger %s: %w", ledgerID, err)
	}
	switch {
	case int64(rowNumber) <= n:
		err = s.client.LSet(ctx, key(ledgerID), int64(rowNumber-1), data).Err()
	case int64(rowNumber) == n+1:
		err = s.client.RPush(ctx, key(ledgerID), data).Err()
	default:
		return fmt.Errorf("row %d is beyond the end of ledger %s (%d rows)", rowNumber, ledgerID, n)
	}
	if err != nil {
		return fmt.Errorf("failed to update row %d of ledger %s: %w", rowNumber, ledgerID, err)
	}
	return nil
}
