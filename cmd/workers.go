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
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/hibiken/asynq"
	"github.com/hibiken/asynqmon"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.elastic.co/apm/module/apmlogrus/v2"

	"github.com/blnkfinance/ordersync"
	"github.com/blnkfinance/ordersync/config"
	redis_db "github.com/blnkfinance/ordersync/internal/redis-db"
)

func init() {
	logrus.AddHook(&apmlogrus.Hook{})
}

// initializeWorkerServer runs one task at a time: pipeline runs must never overlap.
func initializeWorkerServer(conf *config.Configuration) (*asynq.Server, asynq.RedisClientOpt, error) {
	opt, err := redis_db.AsynqOpt(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		return nil, opt, fmt.Errorf("error parsing Redis URL: %w", err)
	}

	return asynq.NewServer(opt, asynq.Config{
		Concurrency: 1,
		Queues:      map[string]int{conf.Queue.Name: 1},
	}), opt, nil
}

// workerCommands defines the "workers" command that processes queued pipeline runs.
func workerCommands(app *ordersyncInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "start the ordersync worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := app.requireQueue(); err != nil {
				return err
			}

			srv, opt, err := initializeWorkerServer(app.cnf)
			if err != nil {
				return err
			}

			mux := asynq.NewServeMux()
			mux.HandleFunc(ordersync.TypePipelineRun, app.pipeline.ProcessRunTask)

			h := asynqmon.New(asynqmon.Options{
				RootPath:     "/monitoring",
				RedisConnOpt: opt,
			})

			go func() {
				monitoringAddr := fmt.Sprintf(":%s", app.cnf.Queue.MonitoringPort)
				log.Printf("Asynqmon server listening on %s/monitoring", monitoringAddr)
				if err := http.ListenAndServe(monitoringAddr, h); err != nil {
					log.Fatalf("could not start asynqmon server: %v", err)
				}
			}()

			if err := srv.Run(mux); err != nil {
				return fmt.Errorf("could not run server: %w", err)
			}
			return nil
		},
	}

	return cmd
}

// scheduleCommands registers the periodic run with the asynq scheduler.
func scheduleCommands(app *ordersyncInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "enqueue pipeline runs on the configured schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			conf := app.cnf
			if conf.Redis.Dns == "" {
				return errors.New("redis DNS is required to schedule pipeline runs")
			}

			opt, err := redis_db.AsynqOpt(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
			if err != nil {
				return fmt.Errorf("error parsing Redis URL: %w", err)
			}

			task, err := ordersync.NewRunTask("schedule", conf.Queue.Name, time.Duration(conf.Queue.UniqueTTLSec)*time.Second)
			if err != nil {
				return err
			}

			scheduler := asynq.NewScheduler(opt, &asynq.SchedulerOpts{
				PostEnqueueFunc: func(info *asynq.TaskInfo, err error) {
					if errors.Is(err, asynq.ErrDuplicateTask) {
						logrus.Info("previous scheduled run still queued, skipping")
						return
					}
					if err != nil {
						logrus.WithError(err).Error("failed to enqueue scheduled run")
						return
					}
					logrus.WithField("task_id", info.ID).Info("scheduled run queued")
				},
			})

			entryID, err := scheduler.Register(conf.Queue.Schedule, task)
			if err != nil {
				return fmt.Errorf("invalid schedule %q: %w", conf.Queue.Schedule, err)
			}
			logrus.WithFields(logrus.Fields{"entry_id": entryID, "schedule": conf.Queue.Schedule}).Info("pipeline run scheduled")

			return scheduler.Run()
		},
	}
	cmd.Annotations = map[string]string{skipSetup: "true"}
	return cmd
}
