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
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/flashmart/seckill/config"
	"github.com/flashmart/seckill/internal/request"
	"github.com/sirupsen/logrus"
)

// SlackNotification posts err to the configured Slack webhook.
func SlackNotification(err error) error {
	conf, cerr := config.Fetch()
	if cerr != nil {
		return cerr
	}
	if conf.Notification.Slack.WebhookUrl == "" {
		return nil
	}

	data := json.RawMessage(fmt.Sprintf(`{
		"blocks": [
			{
				"type": "header",
				"text": {
					"type": "plain_text",
					"text": "Error From %s 🐞",
					"emoji": true
				}
			},
			{
				"type": "section",
				"fields": [
					{
						"type": "mrkdwn",
						"text": "*Error:*\n%v"
					}
				]
			},
			{
				"type": "section",
				"fields": [
					{
						"type": "mrkdwn",
						"text": "*Time:*\n%v"
					}
				]
			}
		]
	}`, jsonEscape(conf.ProjectName), jsonEscape(err.Error()), time.Now().Format(time.RFC822)))

	payload, perr := request.ToJsonReq(&data)
	if perr != nil {
		return perr
	}

	req, rerr := http.NewRequest(http.MethodPost, conf.Notification.Slack.WebhookUrl, payload)
	if rerr != nil {
		return rerr
	}

	_, cerr = request.Call(req, nil)
	return cerr
}

func jsonEscape(s string) string {
	b, _ := json.Marshal(s)
	return string(b[1 : len(b)-1])
}

// NotifyError logs systemError and, when Slack is configured, reports it there
// without blocking the caller.
func NotifyError(systemError error) {
	go func(systemError error) {
		logrus.Error(systemError)
		if err := SlackNotification(systemError); err != nil {
			logrus.WithError(err).Warn("failed to send slack notification")
		}
	}(systemError)
}
