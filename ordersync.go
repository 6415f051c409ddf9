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
	"embed"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/blnkfinance/ordersync/config"
	"github.com/blnkfinance/ordersync/internal/cursor"
	"github.com/blnkfinance/ordersync/internal/woocommerce"
	"github.com/blnkfinance/ordersync/model"
)

// Cursor keys and their defaults. Row cursors count header plus data rows already handled,
// so 1 means "only the header has been seen".
const (
	OrderCursorKey        = "last_order_id"
	DistributionCursorKey = "last_distributed_row"
	notifyCursorPrefix    = "last_sent_row_"

	DefaultOrderCursor int64 = 0
	DefaultRowCursor   int64 = 1
)

//go:embed sql/*.sql
var SQLFiles embed.FS

var tracer = otel.Tracer("ordersync.pipeline")

// NotifyCursorKey is the key of a worker's notification cursor.
func NotifyCursorKey(workerName string) string {
	return notifyCursorPrefix + cursor.SanitizeKey(workerName)
}

// OrderSource lists storefront orders one page at a time.
type OrderSource interface {
	ListOrders(ctx context.Context, opts woocommerce.ListOptions) (*woocommerce.Page, error)
}

// LedgerStore reads and writes ledgers identified by an opaque id. Row numbers are 1-based
// and include the header.
type LedgerStore interface {
	Values(ctx context.Context, ledgerID string) ([]model.Row, error)
	AppendRows(ctx context.Context, ledgerID string, rows []model.Row) error
	UpdateRow(ctx context.Context, ledgerID string, rowNumber int, row model.Row) error
}

// Sender delivers one text message. There is no delivery receipt.
type Sender interface {
	Send(ctx context.Context, address, body string) error
}

// RunLocker keeps two pipeline runs from overlapping. Extend renews a held lock for another
// ttl so a long run does not outlive it.
type RunLocker interface {
	Lock(ctx context.Context, ttl time.Duration) error
	Extend(ctx context.Context, ttl time.Duration) error
	Unlock(ctx context.Context) error
}

// Pipeline moves orders from the storefront into the master ledger, fans new master rows out
// to the worker ledgers and notifies workers of what they received. Stages run sequentially
// and each advances its cursor only after its writes succeeded.
type Pipeline struct {
	cnf     *config.Configuration
	cursors cursor.Store
	source  OrderSource
	ledgers LedgerStore
	sender  Sender
	locker  RunLocker
	sleep   func(ctx context.Context, d time.Duration) error

	// renewEvery overrides the lock renewal interval, which defaults to a third of the lock ttl.
	renewEvery time.Duration
}

func NewPipeline(cnf *config.Configuration, cursors cursor.Store, source OrderSource, ledgers LedgerStore, sender Sender) *Pipeline {
	return &Pipeline{
		cnf:     cnf,
		cursors: cursors,
		source:  source,
		ledgers: ledgers,
		sender:  sender,
		sleep:   sleepContext,
	}
}

// WithLocker makes Run take locker before touching any stage.
func (p *Pipeline) WithLocker(locker RunLocker) *Pipeline {
	p.locker = locker
	return p
}

// Roster returns the configured workers in distribution order.
func (p *Pipeline) Roster() []model.Worker {
	return p.cnf.Roster
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
