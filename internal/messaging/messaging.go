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

package messaging

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/blnkfinance/ordersync/internal/request"
)

// WhatsApp sends plain text messages through the WhatsApp Cloud API.
type WhatsApp struct {
	apiURL        string
	phoneNumberID string
	accessToken   string
	client        *http.Client
}

type textBody struct {
	Body string `json:"body"`
}

type messageRequest struct {
	MessagingProduct string   `json:"messaging_product"`
	To               string   `json:"to"`
	Type             string   `json:"type"`
	Text             textBody `json:"text"`
}

type messageResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

func NewWhatsApp(apiURL, phoneNumberID, accessToken string, timeout time.Duration) *WhatsApp {
	return &WhatsApp{
		apiURL:        strings.TrimRight(apiURL, "/"),
		phoneNumberID: phoneNumberID,
		accessToken:   accessToken,
		client:        &http.Client{Timeout: timeout},
	}
}

// Send delivers body to address. The leading "+" of an E.164 number is optional upstream and
// is stripped here.
func (w *WhatsApp) Send(ctx context.Context, address, body string) error {
	to := strings.TrimPrefix(strings.TrimSpace(address), "+")
	if to == "" {
		return fmt.Errorf("empty recipient address")
	}

	payload, err := request.ToJsonReq(messageRequest{
		MessagingProduct: "whatsapp",
		To:               to,
		Type:             "text",
		Text:             textBody{Body: body},
	})
	if err != nil {
		return err
	}

	endpoint := fmt.Sprintf("%s/%s/messages", w.apiURL, w.phoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, payload)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+w.accessToken)

	var resp messageResponse
	if _, err := request.Call(w.client, req, &resp); err != nil {
		return fmt.Errorf("failed to send whatsapp message to %s: %w", address, err)
	}
	if len(resp.Messages) > 0 {
		logrus.WithFields(logrus.Fields{"to": address, "message_id": resp.Messages[0].ID}).Debug("whatsapp message accepted")
	}
	return nil
}

// Log writes every message to the logger instead of delivering it. It backs dry runs.
type Log struct {
	logger logrus.FieldLogger
}

func NewLog(logger logrus.FieldLogger) *Log {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Log{logger: logger}
}

func (l *Log) Send(_ context.Context, address, body string) error {
	l.logger.WithField("to", address).Info(body)
	return nil
}
