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

package ordersync

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/blnkfinance/ordersync/model"
)

// PartitionRows splits rows into n contiguous chunks in order. Chunk sizes differ by at most
// one and the first len(rows)%n chunks are the larger ones.
func PartitionRows(rows []model.Row, n int) [][]model.Row {
	if n <= 0 {
		return nil
	}
	chunks := make([][]model.Row, n)
	base, extra := len(rows)/n, len(rows)%n
	start := 0
	for i := 0; i < n; i++ {
		size := base
		if i < extra {
			size++
		}
		chunks[i] = rows[start : start+size]
		start += size
	}
	return chunks
}

// newRows returns data[cursor-1:], clamped to the bounds of data.
func newRows(data []model.Row, cursor int64) []model.Row {
	start := cursor - 1
	if start < 0 {
		start = 0
	}
	if start >= int64(len(data)) {
		return nil
	}
	return data[start:]
}

// DistributeNewRows fans the master rows past the distribution cursor out across the roster
// and advances the cursor by the number of rows distributed. Each worker chunk is uploaded in
// sub-batches of at most chunkUploadSize rows with interBatchDelay between uploads. Any
// failure leaves the cursor where it was.
func (p *Pipeline) DistributeNewRows(ctx context.Context, chunkUploadSize int, interBatchDelay time.Duration) (int, error) {
	ctx, span := tracer.Start(ctx, "DistributeNewRows")
	defer span.End()

	if chunkUploadSize <= 0 {
		return 0, fmt.Errorf("chunk upload size must be positive, got %d", chunkUploadSize)
	}
	roster := p.Roster()
	if len(roster) == 0 {
		return 0, fmt.Errorf("roster is empty")
	}

	start, err := p.cursors.Read(ctx, DistributionCursorKey, DefaultRowCursor)
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("failed to read %s: %w", DistributionCursorKey, err)
	}

	values, err := p.ledgers.Values(ctx, p.cnf.Ledger.MasterSheetID)
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("failed to read master ledger: %w", err)
	}
	if len(values) == 0 {
		logrus.Info("master ledger is empty")
		return 0, nil
	}

	pending := newRows(values[1:], start)
	if len(pending) == 0 {
		logrus.Info("no new rows to distribute")
		return 0, nil
	}

	uploads := 0
	for i, chunk := range PartitionRows(pending, len(roster)) {
		worker := roster[i]
		if len(chunk) == 0 {
			continue
		}
		if err := p.ensureHeader(ctx, worker.SheetID); err != nil {
			span.RecordError(err)
			return 0, fmt.Errorf("worker %s: %w", worker.Name, err)
		}
		for off := 0; off < len(chunk); off += chunkUploadSize {
			end := off + chunkUploadSize
			if end > len(chunk) {
				end = len(chunk)
			}
			if uploads > 0 {
				if err := p.sleep(ctx, interBatchDelay); err != nil {
					return 0, err
				}
			}
			if err := p.ledgers.AppendRows(ctx, worker.SheetID, chunk[off:end]); err != nil {
				span.RecordError(err)
				return 0, fmt.Errorf("failed to upload rows to worker %s: %w", worker.Name, err)
			}
			uploads++
		}
		logrus.WithField("worker", worker.Name).Infof("assigned %d rows", len(chunk))
	}

	base := start
	if base < 1 {
		base = 1
	}
	next := base + int64(len(pending))
	if err := p.cursors.Write(ctx, DistributionCursorKey, next); err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("failed to write %s: %w", DistributionCursorKey, err)
	}

	logrus.WithFields(logrus.Fields{"from": start, "to": next}).Infof("distributed %d rows", len(pending))
	span.AddEvent("Rows distributed", trace.WithAttributes(attribute.Int("rows.count", len(pending)), attribute.Int("workers.count", len(roster))))
	return len(pending), nil
}

// ensureHeader writes the canonical header to an empty ledger or replaces a stale first row.
func (p *Pipeline) ensureHeader(ctx context.Context, ledgerID string) error {
	values, err := p.ledgers.Values(ctx, ledgerID)
	if err != nil {
		return fmt.Errorf("failed to read ledger: %w", err)
	}
	if len(values) == 0 {
		return p.ledgers.AppendRows(ctx, ledgerID, []model.Row{model.Header})
	}
	if !values[0].Equal(model.Header) {
		logrus.WithField("ledger", ledgerID).Warn("replacing non-canonical header row")
		return p.ledgers.UpdateRow(ctx, ledgerID, 1, model.Header)
	}
	return nil
}
