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

package main

import (
	"testing"

	"github.com/flashmart/seckill/config"
	"github.com/stretchr/testify/assert"
)

func TestNewCLI_RegistersCommands(t *testing.T) {
	cli := NewCLI()

	var names []string
	for _, c := range cli.cmd.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"start", "workers", "migrate", "config"})

	flag := cli.cmd.PersistentFlags().Lookup("config")
	if assert.NotNil(t, flag) {
		assert.Equal(t, "./seckill.json", flag.DefValue)
	}
}

func TestInitializeQueues(t *testing.T) {
	conf := &config.Configuration{Queue: config.QueueConfig{PreheatQueue: "voucher_preheat", WebhookQueue: "new:webhook"}}
	queues := initializeQueues(conf)
	assert.Equal(t, map[string]int{"voucher_preheat": 3, "new:webhook": 1}, queues)
}
