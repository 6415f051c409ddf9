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
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/blnkfinance/ordersync"
	"github.com/blnkfinance/ordersync/config"
	"github.com/blnkfinance/ordersync/internal/cursor"
	redlock "github.com/blnkfinance/ordersync/internal/lock"
	"github.com/blnkfinance/ordersync/internal/messaging"
	redis_db "github.com/blnkfinance/ordersync/internal/redis-db"
	"github.com/blnkfinance/ordersync/internal/redisledger"
	"github.com/blnkfinance/ordersync/internal/sheets"
	trace "github.com/blnkfinance/ordersync/internal/traces"
	"github.com/blnkfinance/ordersync/internal/woocommerce"
)

// runLockKey guards the whole pipeline: only one run may touch the cursors at a time.
const runLockKey = "ordersync:pipeline"

// ordersyncInstance holds everything a command needs once the configuration is loaded.
type ordersyncInstance struct {
	cnf      *config.Configuration
	pipeline *ordersync.Pipeline
	queue    *ordersync.Queue
	redis    redis.UniversalClient
	db       *sql.DB
	shutdown func(context.Context) error
}

func (app *ordersyncInstance) setup(ctx context.Context) error {
	cnf := app.cnf

	if cnf.EnableTelemetry {
		if err := config.SetOtelExporterEnvs(); err != nil {
			return err
		}
		shutdown, err := trace.SetupOTelSDK(ctx, cnf.ProjectName)
		if err != nil {
			return fmt.Errorf("error setting up OTel SDK: %w", err)
		}
		app.shutdown = shutdown
	}

	if cnf.Redis.Dns != "" {
		client, err := redis_db.NewRedisClient(cnf.Redis.Dns, cnf.Redis.SkipTLSVerify)
		if err != nil {
			return err
		}
		app.redis = client
	}

	cursors, err := app.cursorStore()
	if err != nil {
		return err
	}

	ledgers, err := app.ledgerStore(ctx)
	if err != nil {
		return err
	}

	source := woocommerce.NewClient(cnf.Store.Url, cnf.Store.ConsumerKey, cnf.Store.ConsumerSecret,
		cnf.Store.PerPage, time.Duration(cnf.Store.TimeoutSec)*time.Second)

	app.pipeline = ordersync.NewPipeline(cnf, cursors, source, ledgers, app.sender())

	if app.redis != nil {
		app.pipeline.WithLocker(redlock.NewRunLocker(app.redis, runLockKey))
		queue, err := ordersync.NewQueue(cnf)
		if err != nil {
			return err
		}
		app.queue = queue
	}

	return nil
}

func (app *ordersyncInstance) cursorStore() (cursor.Store, error) {
	switch app.cnf.Cursor.Driver {
	case config.DriverRedis:
		return cursor.NewRedisStore(app.redis), nil
	case config.DriverPostgres:
		db, err := cursor.ConnectDB(app.cnf.Cursor.Dns)
		if err != nil {
			return nil, err
		}
		app.db = db
		return cursor.NewPostgresStore(db), nil
	default:
		return cursor.NewFileStore(app.cnf.StateDir)
	}
}

func (app *ordersyncInstance) ledgerStore(ctx context.Context) (ordersync.LedgerStore, error) {
	if app.cnf.Ledger.Driver == config.DriverRedis {
		return redisledger.New(app.redis), nil
	}
	return sheets.New(ctx, app.cnf.Ledger.CredentialsFile, app.cnf.Ledger.SheetRange)
}

func (app *ordersyncInstance) sender() ordersync.Sender {
	m := app.cnf.Messaging
	if m.Driver == config.DriverLog {
		return messaging.NewLog(logrus.StandardLogger())
	}
	return messaging.NewWhatsApp(m.ApiUrl, m.PhoneNumberID, m.AccessToken, time.Duration(app.cnf.Store.TimeoutSec)*time.Second)
}

// requireQueue fails commands that hand work to the background worker when no Redis is configured.
func (app *ordersyncInstance) requireQueue() (*ordersync.Queue, error) {
	if app.queue == nil {
		return nil, errors.New("redis DNS is required to queue pipeline runs")
	}
	return app.queue, nil
}

func (app *ordersyncInstance) close(ctx context.Context) {
	if app.queue != nil {
		if err := app.queue.Close(); err != nil {
			log.Printf("Error closing queue: %v", err)
		}
	}
	if app.redis != nil {
		_ = app.redis.Close()
	}
	if app.db != nil {
		_ = app.db.Close()
	}
	if app.shutdown != nil {
		if err := app.shutdown(ctx); err != nil {
			log.Printf("Error during shutdown: %v", err)
		}
	}
}
