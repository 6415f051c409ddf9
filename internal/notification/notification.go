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

package notification

import (
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/blnkfinance/ordersync/config"
	"github.com/blnkfinance/ordersync/internal/request"
)

type slackText struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Emoji bool   `json:"emoji,omitempty"`
}

type slackBlock struct {
	Type   string      `json:"type"`
	Text   *slackText  `json:"text,omitempty"`
	Fields []slackText `json:"fields,omitempty"`
}

type slackMessage struct {
	Blocks []slackBlock `json:"blocks"`
}

// SlackNotification posts an error to the configured Slack webhook.
// The message carries the project name, the error text and the current time.
func SlackNotification(err error) {
	conf, cErr := config.Fetch()
	if cErr != nil {
		log.Println(cErr)
		return
	}

	data := slackMessage{Blocks: []slackBlock{
		{Type: "header", Text: &slackText{Type: "plain_text", Text: fmt.Sprintf("Error From %s 🐞", conf.ProjectName), Emoji: true}},
		{Type: "section", Fields: []slackText{{Type: "mrkdwn", Text: "*Error:*\n" + err.Error()}}},
		{Type: "section", Fields: []slackText{{Type: "mrkdwn", Text: "*Time:*\n" + time.Now().Format(time.RFC822)}}},
	}}

	payload, pErr := request.ToJsonReq(data)
	if pErr != nil {
		log.Println(pErr)
		return
	}

	req, rErr := http.NewRequest(http.MethodPost, conf.Notification.Slack.WebhookUrl, payload)
	if rErr != nil {
		log.Println(rErr)
		return
	}

	if _, err := request.Call(&http.Client{Timeout: 10 * time.Second}, req, nil); err != nil {
		log.Println(err)
	}
}

// NotifyError logs systemError and forwards it to Slack when a webhook is configured.
// It blocks until the webhook answers so a one-shot command does not exit first.
func NotifyError(systemError error) {
	logrus.Error(systemError)

	conf, err := config.Fetch()
	if err != nil {
		log.Println(err)
		return
	}

	if strings.TrimSpace(conf.Notification.Slack.WebhookUrl) != "" {
		SlackNotification(systemError)
	}
}
