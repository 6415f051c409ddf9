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

package sheets

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	gsheets "google.golang.org/api/sheets/v4"

	"github.com/blnkfinance/ordersync/model"
)

const (
	valueInputOption = "USER_ENTERED"
	maxRetries       = 5
)

// quoteSheetName renders a sheet (tab) name for A1 notation. Names made only of letters,
// digits and underscores go as they are; any other name is single-quoted with embedded quotes
// doubled.
func quoteSheetName(name string) string {
	for _, r := range name {
		if !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_') {
			return "'" + strings.ReplaceAll(name, "'", "''") + "'"
		}
	}
	return name
}

// Store reads and writes ledgers kept as Google spreadsheets. A ledger id is a spreadsheet id;
// every ledger lives on the same named sheet (tab) of its spreadsheet.
type Store struct {
	svc        *gsheets.Service
	sheetRange string
	newBackOff func() backoff.BackOff
}

// New authenticates with a service-account credentials file.
func New(ctx context.Context, credentialsFile, sheetRange string) (*Store, error) {
	svc, err := gsheets.NewService(ctx,
		option.WithCredentialsFile(credentialsFile),
		option.WithScopes(gsheets.SpreadsheetsScope),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}
	return NewWithService(svc, sheetRange), nil
}

func NewWithService(svc *gsheets.Service, sheetRange string) *Store {
	return &Store{svc: svc, sheetRange: quoteSheetName(sheetRange), newBackOff: defaultBackOff}
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 2 * time.Minute
	return b
}

// Values returns every populated row of the ledger, header included. Trailing empty cells are
// not returned by the API, so rows may be shorter than the header.
func (s *Store) Values(ctx context.Context, ledgerID string) ([]model.Row, error) {
	var resp *gsheets.ValueRange
	err := s.retry(ctx, "read", ledgerID, true, func() error {
		var err error
		resp, err = s.svc.Spreadsheets.Values.Get(ledgerID, s.sheetRange).Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger %s: %w", ledgerID, err)
	}

	rows := make([]model.Row, 0, len(resp.Values))
	for _, raw := range resp.Values {
		row := make(model.Row, len(raw))
		for i, cell := range raw {
			row[i] = fmt.Sprint(cell)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// AppendRows adds rows after the last populated row in a single API call.
func (s *Store) AppendRows(ctx context.Context, ledgerID string, rows []model.Row) error {
	if len(rows) == 0 {
		return nil
	}
	vr := &gsheets.ValueRange{Values: toValues(rows)}
	// Append is not idempotent, so only a quota rejection is retried.
	err := s.retry(ctx, "append", ledgerID, false, func() error {
		_, err := s.svc.Spreadsheets.Values.Append(ledgerID, s.sheetRange, vr).
			ValueInputOption(valueInputOption).
			InsertDataOption("INSERT_ROWS").
			Context(ctx).
			Do()
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to append %d rows to ledger %s: %w", len(rows), ledgerID, err)
	}
	return nil
}

// UpdateRow overwrites the row at 1-based position rowNumber.
func (s *Store) UpdateRow(ctx context.Context, ledgerID string, rowNumber int, row model.Row) error {
	if rowNumber < 1 {
		return fmt.Errorf("invalid row number %d", rowNumber)
	}
	rng := fmt.Sprintf("%s!A%d", s.sheetRange, rowNumber)
	vr := &gsheets.ValueRange{Values: toValues([]model.Row{row})}
	err := s.retry(ctx, "update", ledgerID, true, func() error {
		_, err := s.svc.Spreadsheets.Values.Update(ledgerID, rng, vr).
			ValueInputOption(valueInputOption).
			Context(ctx).
			Do()
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to update row %d of ledger %s: %w", rowNumber, ledgerID, err)
	}
	return nil
}

func (s *Store) retry(ctx context.Context, op, ledgerID string, idempotent bool, fn func() error) error {
	b := backoff.WithContext(backoff.WithMaxRetries(s.newBackOff(), maxRetries), ctx)
	return backoff.Retry(func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if !retryable(err, idempotent) {
			return backoff.Permanent(err)
		}
		logrus.WithFields(logrus.Fields{
			"ledger_id": ledgerID,
			"operation": op,
			"error":     err,
		}).Warn("sheets request throttled, retrying")
		return err
	}, b)
}

// retryable reports whether a failed call may be repeated. A 429 means the request was
// rejected before being applied; server errors are only safe to repeat for idempotent calls.
func retryable(err error, idempotent bool) bool {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return false
	}
	if gerr.Code == http.StatusTooManyRequests {
		return true
	}
	return idempotent && gerr.Code >= http.StatusInternalServerError
}

func toValues(rows []model.Row) [][]interface{} {
	values := make([][]interface{}, len(rows))
	for i, r := range rows {
		cells := make([]interface{}, len(r))
		for j, c := range r {
			cells[j] = c
		}
		values[i] = cells
	}
	return values
}
