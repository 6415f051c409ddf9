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
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/shopspring/decimal"

	"github.com/blnkfinance/ordersync/config"
	"github.com/blnkfinance/ordersync/internal/cursor"
	"github.com/blnkfinance/ordersync/internal/request"
	"github.com/blnkfinance/ordersync/internal/woocommerce"
	"github.com/blnkfinance/ordersync/model"
)

const masterID = "master"

// fakeStore serves orders the way WooCommerce does: sorted, paginated and optionally
// filtered by min_id.
type fakeStore struct {
	orders      []model.Order
	perPage     int
	rejectMinID bool
	ignoreMinID bool
	failPage    int
	calls       []woocommerce.ListOptions
}

func (s *fakeStore) ListOrders(_ context.Context, opts woocommerce.ListOptions) (*woocommerce.Page, error) {
	s.calls = append(s.calls, opts)
	if opts.MinID > 0 && s.rejectMinID {
		return nil, &request.StatusError{Method: "GET", URL: "orders", StatusCode: 400, Body: "invalid min_id"}
	}
	if s.failPage > 0 && opts.Page == s.failPage {
		return nil, &request.StatusError{Method: "GET", URL: "orders", StatusCode: 502, Body: "bad gateway"}
	}

	var matching []model.Order
	for _, o := range s.orders {
		if opts.MinID > 0 && !s.ignoreMinID && o.ID < opts.MinID {
			continue
		}
		matching = append(matching, o)
	}

	perPage := s.perPage
	if perPage <= 0 {
		perPage = 100
	}
	total := (len(matching) + perPage - 1) / perPage
	if total == 0 {
		total = 1
	}
	start := (opts.Page - 1) * perPage
	if start > len(matching) {
		start = len(matching)
	}
	end := start + perPage
	if end > len(matching) {
		end = len(matching)
	}
	return &woocommerce.Page{Orders: matching[start:end], TotalPages: total}, nil
}

// fakeLedgers keeps every ledger in memory. failAppend makes the n-th AppendRows call to a
// ledger fail (1-based).
type fakeLedgers struct {
	mu         sync.Mutex
	ledgers    map[string][]model.Row
	appends    map[string][]int
	failAppend map[string]int
	failValues map[string]bool
}

func newFakeLedgers() *fakeLedgers {
	return &fakeLedgers{
		ledgers:    map[string][]model.Row{},
		appends:    map[string][]int{},
		failAppend: map[string]int{},
		failValues: map[string]bool{},
	}
}

func (f *fakeLedgers) Values(_ context.Context, id string) ([]model.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failValues[id] {
		return nil, fmt.Errorf("ledger %s unavailable", id)
	}
	return append([]model.Row(nil), f.ledgers[id]...), nil
}

func (f *fakeLedgers) AppendRows(_ context.Context, id string, rows []model.Row) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appends[id] = append(f.appends[id], len(rows))
	if n := f.failAppend[id]; n > 0 && len(f.appends[id]) == n {
		return fmt.Errorf("quota exceeded on %s", id)
	}
	f.ledgers[id] = append(f.ledgers[id], rows...)
	return nil
}

func (f *fakeLedgers) UpdateRow(_ context.Context, id string, rowNumber int, row model.Row) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rowNumber < 1 || rowNumber > len(f.ledgers[id]) {
		return fmt.Errorf("row %d out of range", rowNumber)
	}
	f.ledgers[id][rowNumber-1] = row
	return nil
}

// data returns the ledger rows after the header.
func (f *fakeLedgers) data(id string) []model.Row {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.ledgers[id]) == 0 {
		return nil
	}
	return f.ledgers[id][1:]
}

type sentMessage struct {
	to, body string
}

// fakeSender records messages. onSend, when set, runs at the start of every Send.
type fakeSender struct {
	sent   []sentMessage
	failTo map[string]bool
	failAt map[int]bool
	calls  int
	onSend func()
}

func (s *fakeSender) Send(_ context.Context, address, body string) error {
	s.calls++
	if s.onSend != nil {
		s.onSend()
	}
	if s.failTo[address] || s.failAt[s.calls] {
		return errors.New("recipient unreachable")
	}
	s.sent = append(s.sent, sentMessage{to: address, body: body})
	return nil
}

type fakeLocker struct {
	err      error
	locked   bool
	unlocked bool
	extends  int
}

func (l *fakeLocker) Lock(context.Context, time.Duration) error {
	if l.err != nil {
		return l.err
	}
	l.locked = true
	return nil
}

func (l *fakeLocker) Extend(context.Context, time.Duration) error {
	l.extends++
	return nil
}

func (l *fakeLocker) Unlock(context.Context) error {
	l.unlocked = true
	return nil
}

func testRoster(n int) []model.Worker {
	roster := make([]model.Worker, n)
	for i := range roster {
		roster[i] = model.Worker{
			Name:     fmt.Sprintf("worker %d", i+1),
			SheetID:  fmt.Sprintf("sheet-%d", i+1),
			WhatsApp: fmt.Sprintf("+23480000000%02d", i+1),
		}
	}
	return roster
}

func testConfig(workers int) *config.Configuration {
	zero := 0
	cnf := &config.Configuration{
		ProjectName:  "Ordersync",
		Ledger:       config.LedgerConfig{MasterSheetID: masterID},
		Distribution: config.DistributionConfig{ChunkUploadSize: 50, InterBatchDelayMs: &zero},
		Messaging:    config.MessagingConfig{Currency: "NGN", DelaySeconds: &zero},
		Lock:         config.LockConfig{TTLSec: 60},
		Roster:       testRoster(workers),
	}
	config.MockConfig(cnf)
	return cnf
}

type harness struct {
	pipeline *Pipeline
	cursors  *cursor.MemoryStore
	store    *fakeStore
	ledgers  *fakeLedgers
	sender   *fakeSender
	sleeps   []time.Duration
}

func newHarness(workers int, orders ...model.Order) *harness {
	h := &harness{
		cursors: cursor.NewMemoryStore(),
		store:   &fakeStore{orders: orders},
		ledgers: newFakeLedgers(),
		sender:  &fakeSender{failTo: map[string]bool{}, failAt: map[int]bool{}},
	}
	h.pipeline = NewPipeline(testConfig(workers), h.cursors, h.store, h.ledgers, h.sender)
	h.pipeline.sleep = func(_ context.Context, d time.Duration) error {
		h.sleeps = append(h.sleeps, d)
		return nil
	}
	return h
}

func (h *harness) cursor(key string, def int64) int64 {
	v, _ := h.cursors.Read(context.Background(), key, def)
	return v
}

// fakeOrder builds an order with lineItems line items and random billing details.
func fakeOrder(id int64, lineItems int) model.Order {
	o := model.Order{
		ID:             id,
		Status:         "processing",
		Currency:       "NGN",
		DateCreatedGMT: "2025-08-20T14:21:33",
		Billing: model.Billing{
			FirstName: gofakeit.FirstName(),
			LastName:  gofakeit.LastName(),
			City:      gofakeit.City(),
			State:     gofakeit.StateAbr(),
			Phone:     gofakeit.Phone(),
		},
	}
	for i := 0; i < lineItems; i++ {
		o.LineItems = append(o.LineItems, model.LineItem{
			Name:     gofakeit.ProductName(),
			Quantity: gofakeit.Number(1, 5),
			Total:    decimal.NewNullDecimal(decimal.NewFromFloat(gofakeit.Price(1, 500)).Round(2)),
		})
	}
	return o
}

// seedMaster writes a header and n data rows with order numbers 1..n.
func seedMaster(f *fakeLedgers, n int) {
	f.ledgers[masterID] = []model.Row{model.Header}
	for i := 1; i <= n; i++ {
		f.ledgers[masterID] = append(f.ledgers[masterID], model.Row{"2025-08-20", fmt.Sprint(i), "F", "L", "City, ST", "P", "1", "1.00", "+234"})
	}
}
