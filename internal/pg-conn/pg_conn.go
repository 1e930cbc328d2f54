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

package pgconn

import (
	"database/sql"
	"errors"

	"github.com/flashmart/seckill/config"
	_ "github.com/lib/pq" // Import the postgres driver
	"github.com/sirupsen/logrus"
)

// ConnectDB opens a pooled postgres connection and verifies it with a ping.
func ConnectDB(cfg config.DataSourceConfig) (*sql.DB, error) {
	if cfg.Dns == "" {
		return nil, errors.New("data source DNS is required")
	}

	db, err := sql.Open("postgres", cfg.Dns)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err = db.Ping(); err != nil {
		_ = db.Close()
		logrus.Errorf("Database connection error ❌: %v", err)
		return nil, err
	}

	logrus.Info("Database connection established ✅")
	return db, nil
}
