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

package redis_db

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRedisURL(t *testing.T) {
	tests := []struct {
		name         string
		url          string
		wantAddr     string
		wantPassword string
		wantErr      bool
	}{
		{name: "docker style", url: "redis:6379", wantAddr: "redis:6379"},
		{name: "url with password", url: "redis://:password123@localhost:6379", wantAddr: "localhost:6379", wantPassword: "password123"},
		{name: "url with bare password", url: "redis://secret@localhost:6379", wantAddr: "localhost:6379", wantPassword: "secret"},
		{name: "url with db", url: "redis://localhost:6379/2", wantAddr: "localhost:6379"},
		{name: "empty", url: "  ", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRedisURL(tt.url, false)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantAddr, got.Addr)
			assert.Equal(t, tt.wantPassword, got.Password)
		})
	}
}

func TestParseRedisURL_SkipTLSVerify(t *testing.T) {
	opts, err := ParseRedisURL("rediss://:pw@cache.example.com:6380", true)
	require.NoError(t, err)
	require.NotNil(t, opts.TLSConfig)
	assert.True(t, opts.TLSConfig.InsecureSkipVerify)
}

func TestAsynqClientOpt(t *testing.T) {
	opt, err := AsynqClientOpt("redis://:pw@localhost:6379/3", false)
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", opt.Addr)
	assert.Equal(t, "pw", opt.Password)
	assert.Equal(t, 3, opt.DB)
}

func TestNewRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)

	t.Run("empty addresses", func(t *testing.T) {
		_, err := NewRedisClient([]string{}, false)
		assert.Error(t, err)
	})

	t.Run("single address", func(t *testing.T) {
		r, err := NewRedisClient([]string{mr.Addr()}, false)
		require.NoError(t, err)
		defer r.Close()
		assert.NotNil(t, r.Client())
	})

	t.Run("unreachable address", func(t *testing.T) {
		_, err := NewRedisClient([]string{"127.0.0.1:1"}, false)
		assert.Error(t, err)
	})
}
