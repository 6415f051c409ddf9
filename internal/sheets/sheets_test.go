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
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/cenkalti/backoff/v4"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	gsheets "google.golang.org/api/sheets/v4"

	"github.com/blnkfinance/ordersync/model"
)

func newTestStore(t *testing.T) *Store {
	return newTestStoreOnSheet(t, "Sheet1")
}

func newTestStoreOnSheet(t *testing.T, sheet string) *Store {
	httpmock.Activate()
	t.Cleanup(httpmock.DeactivateAndReset)

	svc, err := gsheets.NewService(context.Background(),
		option.WithHTTPClient(&http.Client{}),
		option.WithEndpoint("https://sheets.test/"),
	)
	require.NoError(t, err)

	s := NewWithService(svc, sheet)
	s.newBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	return s
}

func TestValues_ConvertsCells(t *testing.T) {
	s := newTestStore(t)

	httpmock.RegisterResponder(http.MethodGet, `=~^https://sheets\.test/v4/spreadsheets/master/values/Sheet1`,
		httpmock.NewStringResponder(http.StatusOK, `{
			"range": "Sheet1!A1:I2",
			"majorDimension": "ROWS",
			"values": [
				["DATE", "ORDER NUMBER", "FIRST NAME", "LAST NAME", "LOCATION", "PRODUCT", "QUANTITY", "PRICE", "PHONE NUMBER"],
				["2025-08-20", "501", "Ada"]
			]
		}`))

	rows, err := s.Values(context.Background(), "master")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.True(t, rows[0].Equal(model.Header))
	assert.Equal(t, model.Row{"2025-08-20", "501", "Ada"}, rows[1])
}

func TestValues_EmptySheet(t *testing.T) {
	s := newTestStore(t)

	httpmock.RegisterResponder(http.MethodGet, `=~^https://sheets\.test/v4/spreadsheets/empty/values/Sheet1`,
		httpmock.NewStringResponder(http.StatusOK, `{"range": "Sheet1!A1:Z1000", "majorDimension": "ROWS"}`))

	rows, err := s.Values(context.Background(), "empty")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestAppendRows_SendsUserEnteredBatch(t *testing.T) {
	s := newTestStore(t)

	var got gsheets.ValueRange
	httpmock.RegisterResponder(http.MethodPost, `=~^https://sheets\.test/v4/spreadsheets/worker/values/Sheet1:append`,
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "USER_ENTERED", req.URL.Query().Get("valueInputOption"))
			assert.Equal(t, "INSERT_ROWS", req.URL.Query().Get("insertDataOption"))
			require.NoError(t, json.NewDecoder(req.Body).Decode(&got))
			return httpmock.NewStringResponse(http.StatusOK, `{"spreadsheetId": "worker"}`), nil
		})

	rows := []model.Row{{"2025-08-20", "501"}, {"2025-08-21", "502"}}
	require.NoError(t, s.AppendRows(context.Background(), "worker", rows))

	require.Len(t, got.Values, 2)
	assert.Equal(t, "502", got.Values[1][1])
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestAppendRows_NoRowsIsNoop(t *testing.T) {
	s := newTestStore(t)
	assert.NoError(t, s.AppendRows(context.Background(), "worker", nil))
	assert.Equal(t, 0, httpmock.GetTotalCallCount())
}

func TestAppendRows_RetriesQuotaErrors(t *testing.T) {
	s := newTestStore(t)

	calls := 0
	httpmock.RegisterResponder(http.MethodPost, `=~^https://sheets\.test/v4/spreadsheets/worker/values/Sheet1:append`,
		func(req *http.Request) (*http.Response, error) {
			calls++
			if calls == 1 {
				return httpmock.NewStringResponse(http.StatusTooManyRequests, `{"error": {"code": 429, "message": "Quota exceeded"}}`), nil
			}
			return httpmock.NewStringResponse(http.StatusOK, `{"spreadsheetId": "worker"}`), nil
		})

	require.NoError(t, s.AppendRows(context.Background(), "worker", []model.Row{{"x"}}))
	assert.Equal(t, 2, calls)
}

func TestAppendRows_DoesNotRetryServerErrors(t *testing.T) {
	s := newTestStore(t)

	httpmock.RegisterResponder(http.MethodPost, `=~^https://sheets\.test/v4/spreadsheets/worker/values/Sheet1:append`,
		httpmock.NewStringResponder(http.StatusInternalServerError, `{"error": {"code": 500, "message": "backend error"}}`))

	err := s.AppendRows(context.Background(), "worker", []model.Row{{"x"}})
	assert.Error(t, err)
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestUpdateRow_RetriesServerErrors(t *testing.T) {
	s := newTestStore(t)

	calls := 0
	httpmock.RegisterResponder(http.MethodPut, `=~^https://sheets\.test/v4/spreadsheets/worker/values/`,
		func(req *http.Request) (*http.Response, error) {
			calls++
			if calls == 1 {
				return httpmock.NewStringResponse(http.StatusServiceUnavailable, `{"error": {"code": 503, "message": "unavailable"}}`), nil
			}
			var vr gsheets.ValueRange
			require.NoError(t, json.NewDecoder(req.Body).Decode(&vr))
			assert.Equal(t, "DATE", vr.Values[0][0])
			return httpmock.NewStringResponse(http.StatusOK, `{"spreadsheetId": "worker", "updatedRows": 1}`), nil
		})

	require.NoError(t, s.UpdateRow(context.Background(), "worker", 1, model.Header))
	assert.Equal(t, 2, calls)
}

func TestUpdateRow_RejectsInvalidRowNumber(t *testing.T) {
	s := newTestStore(t)
	assert.Error(t, s.UpdateRow(context.Background(), "worker", 0, model.Header))
}

func TestQuoteSheetName(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"Sheet1", "Sheet1"},
		{"orders_2025", "orders_2025"},
		{"My Sheet", "'My Sheet'"},
		{"Ada's orders", "'Ada''s orders'"},
		{"Q3-ledger", "'Q3-ledger'"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, quoteSheetName(tt.name))
		})
	}
}

func TestUpdateRow_QuotesSheetNameWithSpaces(t *testing.T) {
	s := newTestStoreOnSheet(t, "My Sheet")

	var path string
	httpmock.RegisterResponder(http.MethodPut, `=~^https://sheets\.test/v4/spreadsheets/worker/values/`,
		func(req *http.Request) (*http.Response, error) {
			path = req.URL.Path
			return httpmock.NewStringResponse(http.StatusOK, `{"spreadsheetId": "worker", "updatedRows": 1}`), nil
		})

	require.NoError(t, s.UpdateRow(context.Background(), "worker", 3, model.Header))
	assert.True(t, strings.HasSuffix(path, "/values/'My Sheet'!A3"), path)
}
