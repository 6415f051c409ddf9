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

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/blnkfinance/ordersync/model"
)

// AppendNewOrders expands orders into rows and appends them to the master ledger in one
// batch, writing the header first when the ledger is empty. An empty master gets its header
// even when there is nothing to append. Orders whose id is not above the highest ORDER NUMBER
// already in the master are skipped. It returns the number of rows appended.
func (p *Pipeline) AppendNewOrders(ctx context.Context, orders []model.Order) (int, error) {
	ctx, span := tracer.Start(ctx, "AppendNewOrders")
	defer span.End()

	master := p.cnf.Ledger.MasterSheetID
	existing, err := p.ledgers.Values(ctx, master)
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("failed to read master ledger: %w", err)
	}

	var batch []model.Row
	var highest int64
	if len(existing) == 0 {
		batch = append(batch, model.Header)
	} else {
		highest = model.MaxLedgerOrderID(existing[1:])
	}

	fresh := make([]model.Order, 0, len(orders))
	for _, o := range orders {
		if o.ID > highest {
			fresh = append(fresh, o)
		}
	}
	if skipped := len(orders) - len(fresh); skipped > 0 {
		logrus.WithFields(logrus.Fields{"skipped": skipped, "master_max_id": highest}).Warn("orders already present in master ledger")
	}

	rows := model.OrdersToRows(fresh)
	if len(rows) == 0 {
		if len(batch) > 0 {
			if err := p.ledgers.AppendRows(ctx, master, batch); err != nil {
				span.RecordError(err)
				return 0, fmt.Errorf("failed to write master ledger header: %w", err)
			}
			logrus.Info("wrote header to empty master ledger")
		}
		logrus.Info("no new rows for master ledger")
		return 0, nil
	}

	if err := p.ledgers.AppendRows(ctx, master, append(batch, rows...)); err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("failed to append %d rows to master ledger: %w", len(rows), err)
	}

	logrus.Infof("added %d rows to master ledger", len(rows))
	span.AddEvent("Rows appended", trace.WithAttributes(attribute.Int("rows.count", len(rows))))
	return len(rows), nil
}
