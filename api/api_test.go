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

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/blnkfinance/ordersync/api/middleware"
	"github.com/blnkfinance/ordersync/config"
	"github.com/blnkfinance/ordersync/model"
)

type mockCursors struct {
	mock.Mock
}

func (m *mockCursors) CursorSnapshot(ctx context.Context) ([]model.CursorValue, error) {
	args := m.Called(ctx)
	values, _ := args.Get(0).([]model.CursorValue)
	return values, args.Error(1)
}

type mockQueue struct {
	mock.Mock
}

func (m *mockQueue) EnqueueRun(ctx context.Context, trigger string) (bool, error) {
	args := m.Called(ctx, trigger)
	return args.Bool(0), args.Error(1)
}

func (m *mockQueue) Pending() (int, error) {
	args := m.Called()
	return args.Int(0), args.Error(1)
}

func newTestAPI(conf *config.Configuration, cursors CursorReader, runs RunQueue) *gin.Engine {
	if conf == nil {
		conf = &config.Configuration{ProjectName: "Ordersync"}
	}
	router := NewAPI(conf, cursors, runs).Router()
	gin.SetMode(gin.TestMode)
	return router
}

func serve(router *gin.Engine, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	router := newTestAPI(nil, &mockCursors{}, nil)

	w := serve(router, http.MethodGet, "/", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "server running...")
}

func TestGetCursors(t *testing.T) {
	cursors := &mockCursors{}
	cursors.On("CursorSnapshot", mock.Anything).Return([]model.CursorValue{
		{Key: "last_order_id", Value: 501},
		{Key: "last_distributed_row", Value: 12},
	}, nil)
	router := newTestAPI(nil, cursors, nil)

	w := serve(router, http.MethodGet, "/cursors", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var got []model.CursorValue
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, int64(501), got[0].Value)
	cursors.AssertExpectations(t)
}

func TestGetCursors_StoreFailure(t *testing.T) {
	cursors := &mockCursors{}
	cursors.On("CursorSnapshot", mock.Anything).Return(nil, errors.New("redis down"))
	router := newTestAPI(nil, cursors, nil)

	w := serve(router, http.MethodGet, "/cursors", "", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "INTERNAL_SERVER_ERROR")
}

func TestQueueRun(t *testing.T) {
	queue := &mockQueue{}
	queue.On("EnqueueRun", mock.Anything, "api").Return(true, nil).Once()
	queue.On("EnqueueRun", mock.Anything, "manual").Return(false, nil).Once()
	router := newTestAPI(nil, &mockCursors{}, queue)

	w := serve(router, http.MethodPost, "/runs", "", nil)
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.JSONEq(t, `{"queued":true,"trigger":"api"}`, w.Body.String())

	w = serve(router, http.MethodPost, "/runs", `{"trigger":"manual"}`, nil)
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.JSONEq(t, `{"queued":false,"trigger":"manual"}`, w.Body.String())

	queue.AssertExpectations(t)
}

func TestQueueRun_InvalidBody(t *testing.T) {
	router := newTestAPI(nil, &mockCursors{}, &mockQueue{})

	w := serve(router, http.MethodPost, "/runs", `{"trigger":`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRuns_NoQueueConfigured(t *testing.T) {
	router := newTestAPI(nil, &mockCursors{}, nil)

	assert.Equal(t, http.StatusServiceUnavailable, serve(router, http.MethodPost, "/runs", "", nil).Code)
	assert.Equal(t, http.StatusServiceUnavailable, serve(router, http.MethodGet, "/runs", "", nil).Code)
}

func TestGetRuns(t *testing.T) {
	queue := &mockQueue{}
	queue.On("Pending").Return(2, nil)
	router := newTestAPI(nil, &mockCursors{}, queue)

	w := serve(router, http.MethodGet, "/runs", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"pending":2}`, w.Body.String())
}

func TestSecureMode(t *testing.T) {
	cursors := &mockCursors{}
	cursors.On("CursorSnapshot", mock.Anything).Return([]model.CursorValue{}, nil)
	conf := &config.Configuration{Server: config.ServerConfig{Secure: true, SecretKey: "s3cret"}}
	router := newTestAPI(conf, cursors, nil)

	assert.Equal(t, http.StatusUnauthorized, serve(router, http.MethodGet, "/cursors", "", nil).Code)
	assert.Equal(t, http.StatusOK, serve(router, http.MethodGet, "/cursors", "", map[string]string{middleware.SecretKeyHeader: "s3cret"}).Code)
}
