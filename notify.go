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
	"strings"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/blnkfinance/ordersync/config"
	"github.com/blnkfinance/ordersync/model"
)

// FormatMessage renders the assignment message for one ledger row. Missing cells render
// empty, except the order number which renders N/A.
func FormatMessage(row model.Row, currency string) string {
	orderNumber := row.Cell(model.ColOrderNumber)
	if orderNumber == "" {
		orderNumber = "N/A"
	}

	var b strings.Builder
	b.WriteString("New Order Assigned\n")
	fmt.Fprintf(&b, "Order #%s\n", orderNumber)
	fmt.Fprintf(&b, "Customer: %s %s\n", row.Cell(model.ColFirstName), row.Cell(model.ColLastName))
	fmt.Fprintf(&b, "Phone: %s\n", row.Cell(model.ColPhone))
	fmt.Fprintf(&b, "Location: %s\n", row.Cell(model.ColLocation))
	b.WriteString("Items:\n")
	fmt.Fprintf(&b, " - %s x%s @ %s%s\n", row.Cell(model.ColProduct), row.Cell(model.ColQuantity), currency, row.Cell(model.ColPrice))
	fmt.Fprintf(&b, "Date: %s", row.Cell(model.ColDate))
	return b.String()
}

// DispatchResult counts the outcome of one notification pass.
type DispatchResult struct {
	Sent   int
	Failed int
}

// DispatchNotifications sends one message per worker ledger row past that worker's cursor.
// A failed send is logged and counted but does not stop the pass. Once every row of a worker
// has been attempted, its cursor moves to the end of the ledger whether or not all sends
// succeeded.
func (p *Pipeline) DispatchNotifications(ctx context.Context) (DispatchResult, error) {
	ctx, span := tracer.Start(ctx, "DispatchNotifications")
	defer span.End()

	var res DispatchResult
	currency := p.cnf.Messaging.Currency
	if currency == "" {
		currency = config.DEFAULT_CURRENCY
	}
	delay := p.cnf.MessageDelay()

	attempts := 0
	for _, worker := range p.Roster() {
		key := NotifyCursorKey(worker.Name)
		logger := logrus.WithField("worker", worker.Name)

		last, err := p.cursors.Read(ctx, key, DefaultRowCursor)
		if err != nil {
			span.RecordError(err)
			return res, fmt.Errorf("failed to read %s: %w", key, err)
		}

		values, err := p.ledgers.Values(ctx, worker.SheetID)
		if err != nil {
			span.RecordError(err)
			return res, fmt.Errorf("failed to read ledger of worker %s: %w", worker.Name, err)
		}
		if len(values) == 0 {
			logger.Info("worker ledger is empty")
			continue
		}
		data := values[1:]

		pending := newRows(data, last)
		if len(pending) == 0 {
			logger.Info("no new rows to notify")
			continue
		}

		for _, row := range pending {
			if attempts > 0 {
				if err := p.sleep(ctx, delay); err != nil {
					return res, err
				}
			}
			attempts++
			if err := p.sender.Send(ctx, worker.WhatsApp, FormatMessage(row, currency)); err != nil {
				logger.WithError(err).WithField("order", row.Cell(model.ColOrderNumber)).Error("notification failed")
				res.Failed++
				continue
			}
			res.Sent++
		}

		// Failed sends are not retried: the cursor moves past them.
		next := 1 + int64(len(data))
		if next < last {
			next = last
		}
		if err := p.cursors.Write(ctx, key, next); err != nil {
			span.RecordError(err)
			return res, fmt.Errorf("failed to write %s: %w", key, err)
		}
		logger.WithFields(logrus.Fields{"from": last, "to": next}).Infof("notified %d rows", len(pending))
	}

	logrus.Infof("sent %d messages (%d failed)", res.Sent, res.Failed)
	span.AddEvent("Notifications dispatched", trace.WithAttributes(attribute.Int("messages.sent", res.Sent), attribute.Int("messages.failed", res.Failed)))
	return res, nil
}
