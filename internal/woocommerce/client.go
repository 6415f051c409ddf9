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

package woocommerce

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/blnkfinance/ordersync/internal/request"
	"github.com/blnkfinance/ordersync/model"
)

const (
	ordersPath       = "/wp-json/wc/v3/orders"
	totalPagesHeader = "X-WP-TotalPages"
)

// ListOptions selects one page of the orders listing. A zero MinID sends no min_id filter.
type ListOptions struct {
	Page  int
	MinID int64
}

// Page is one page of orders together with the page count the store reported.
type Page struct {
	Orders     []model.Order
	TotalPages int
}

// Client reads orders from the WooCommerce REST API.
type Client struct {
	baseURL        string
	consumerKey    string
	consumerSecret string
	perPage        int
	httpClient     *http.Client
}

func NewClient(baseURL, consumerKey, consumerSecret string, perPage int, timeout time.Duration) *Client {
	return &Client{
		baseURL:        baseURL,
		consumerKey:    consumerKey,
		consumerSecret: consumerSecret,
		perPage:        perPage,
		httpClient:     &http.Client{Timeout: timeout},
	}
}

// ListOrders fetches one page of orders sorted by ascending id.
// HTTP failures come back as *request.StatusError so callers can tell a rejected filter
// (4xx) from an unreachable store.
func (c *Client) ListOrders(ctx context.Context, opts ListOptions) (*Page, error) {
	page := opts.Page
	if page < 1 {
		page = 1
	}

	q := url.Values{}
	q.Set("per_page", strconv.Itoa(c.perPage))
	q.Set("orderby", "id")
	q.Set("order", "asc")
	q.Set("page", strconv.Itoa(page))
	if opts.MinID > 0 {
		q.Set("min_id", strconv.FormatInt(opts.MinID, 10))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+ordersPath+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create orders request: %w", err)
	}
	req.Header.Set("Authorization", "Basic "+request.BasicAuth(c.consumerKey, c.consumerSecret))

	var orders []model.Order
	resp, err := request.Call(c.httpClient, req, &orders)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders page %d: %w", page, err)
	}

	return &Page{Orders: orders, TotalPages: totalPages(resp)}, nil
}

// totalPages reads X-WP-TotalPages, treating a missing or bad header as a single page.
func totalPages(resp *http.Response) int {
	if resp == nil {
		return 1
	}
	n, err := strconv.Atoi(resp.Header.Get(totalPagesHeader))
	if err != nil || n < 1 {
		return 1
	}
	return n
}
