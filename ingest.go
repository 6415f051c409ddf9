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
	"sort"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/blnkfinance/ordersync/internal/request"
	"github.com/blnkfinance/ordersync/internal/woocommerce"
	"github.com/blnkfinance/ordersync/model"
)

// PendingOrders returns every storefront order newer than the order cursor, ascending by id,
// without advancing the cursor. The second return value is the cursor the fetch started from.
func (p *Pipeline) PendingOrders(ctx context.Context) ([]model.Order, int64, error) {
	ctx, span := tracer.Start(ctx, "PendingOrders")
	defer span.End()

	last, err := p.cursors.Read(ctx, OrderCursorKey, DefaultOrderCursor)
	if err != nil {
		span.RecordError(err)
		return nil, 0, fmt.Errorf("failed to read %s: %w", OrderCursorKey, err)
	}

	orders, err := p.listAll(ctx, last+1, last)
	if request.IsClientError(err) {
		logrus.WithError(err).Warn("store rejected the min_id filter, falling back to unfiltered pagination")
		span.AddEvent("min_id filter rejected")
		orders, err = p.listAll(ctx, 0, last)
	}
	if err != nil {
		span.RecordError(err)
		return nil, last, err
	}

	sort.SliceStable(orders, func(i, j int) bool { return orders[i].ID < orders[j].ID })
	span.AddEvent("Orders fetched", trace.WithAttributes(attribute.Int("orders.count", len(orders)), attribute.Int64("cursor", last)))
	return orders, last, nil
}

// listAll walks every page the store reports. Orders at or below after are dropped even when
// minID is set, since some stores ignore unknown query parameters.
func (p *Pipeline) listAll(ctx context.Context, minID, after int64) ([]model.Order, error) {
	var orders []model.Order
	for page, total := 1, 1; page <= total; page++ {
		res, err := p.source.ListOrders(ctx, woocommerce.ListOptions{Page: page, MinID: minID})
		if err != nil {
			return nil, err
		}
		if page == 1 {
			total = res.TotalPages
		}
		for _, o := range res.Orders {
			if o.ID > after {
				orders = append(orders, o)
			}
		}
	}
	return orders, nil
}

// FetchNewOrders fetches the pending orders and, when there are any, advances the order cursor
// to the highest id seen. An empty fetch leaves the cursor untouched.
func (p *Pipeline) FetchNewOrders(ctx context.Context) ([]model.Order, error) {
	orders, last, err := p.PendingOrders(ctx)
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		logrus.Info("no new orders")
		return nil, nil
	}
	if err := p.commitOrderCursor(ctx, last, model.MaxOrderID(orders)); err != nil {
		return nil, err
	}
	logrus.Infof("fetched %d new orders", len(orders))
	return orders, nil
}

// IngestNewOrders appends the pending orders to the master ledger and only then advances the
// order cursor, so a failed append is retried from the same position on the next run.
func (p *Pipeline) IngestNewOrders(ctx context.Context) (fetched, appended int, err error) {
	ctx, span := tracer.Start(ctx, "IngestNewOrders")
	defer span.End()

	orders, last, err := p.PendingOrders(ctx)
	if err != nil {
		span.RecordError(err)
		return 0, 0, err
	}
	if len(orders) == 0 {
		logrus.Info("no new orders")
		return 0, 0, nil
	}

	appended, err = p.AppendNewOrders(ctx, orders)
	if err != nil {
		span.RecordError(err)
		return len(orders), 0, err
	}

	if err := p.commitOrderCursor(ctx, last, model.MaxOrderID(orders)); err != nil {
		span.RecordError(err)
		return len(orders), appended, err
	}
	span.AddEvent("Orders ingested", trace.WithAttributes(attribute.Int("orders.count", len(orders)), attribute.Int("rows.count", appended)))
	return len(orders), appended, nil
}

func (p *Pipeline) commitOrderCursor(ctx context.Context, before, next int64) error {
	if next <= before {
		return nil
	}
	if err := p.cursors.Write(ctx, OrderCursorKey, next); err != nil {
		return fmt.Errorf("failed to write %s: %w", OrderCursorKey, err)
	}
	logrus.WithFields(logrus.Fields{"from": before, "to": next}).Infof("advanced %s", OrderCursorKey)
	return nil
}
