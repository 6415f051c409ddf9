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

package ordersync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/blnkfinance/ordersync/config"
	redis_db "github.com/blnkfinance/ordersync/internal/redis-db"
)

// TypePipelineRun is the task type of a queued pipeline run.
const TypePipelineRun = "pipeline:run"

// Queue hands pipeline runs to the background worker.
type Queue struct {
	Client    *asynq.Client
	Inspector *asynq.Inspector
	name      string
	uniqueTTL time.Duration
}

// RunPayload records who asked for a run.
type RunPayload struct {
	Trigger string `json:"trigger"`
}

func NewQueue(conf *config.Configuration) (*Queue, error) {
	opt, err := redis_db.AsynqOpt(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		return nil, fmt.Errorf("error parsing Redis URL: %w", err)
	}
	return &Queue{
		Client:    asynq.NewClient(opt),
		Inspector: asynq.NewInspector(opt),
		name:      conf.Queue.Name,
		uniqueTTL: time.Duration(conf.Queue.UniqueTTLSec) * time.Second,
	}, nil
}

// NewRunTask builds the task the scheduler and EnqueueRun submit. Runs are never retried:
// the next scheduled run picks up from the same cursors.
func NewRunTask(trigger, queue string, uniqueTTL time.Duration) (*asynq.Task, error) {
	payload, err := json.Marshal(RunPayload{Trigger: trigger})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypePipelineRun, payload,
		asynq.Queue(queue),
		asynq.MaxRetry(0),
		asynq.Unique(uniqueTTL),
	), nil
}

// EnqueueRun queues a pipeline run. It reports false when an identical run is already
// waiting.
func (q *Queue) EnqueueRun(ctx context.Context, trigger string) (bool, error) {
	task, err := NewRunTask(trigger, q.name, q.uniqueTTL)
	if err != nil {
		return false, err
	}
	info, err := q.Client.EnqueueContext(ctx, task)
	if errors.Is(err, asynq.ErrDuplicateTask) {
		logrus.WithField("trigger", trigger).Info("a pipeline run is already queued")
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to enqueue pipeline run: %w", err)
	}
	logrus.WithFields(logrus.Fields{"task_id": info.ID, "trigger": trigger}).Info("pipeline run queued")
	return true, nil
}

// Pending returns how many runs wait in the queue. A queue that has never been used has none.
func (q *Queue) Pending() (int, error) {
	info, err := q.Inspector.GetQueueInfo(q.name)
	if errors.Is(err, asynq.ErrQueueNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return info.Pending + info.Active, nil
}

func (q *Queue) Close() error {
	return errors.Join(q.Client.Close(), q.Inspector.Close())
}

// ProcessRunTask runs the pipeline for a queued task.
func (p *Pipeline) ProcessRunTask(ctx context.Context, t *asynq.Task) error {
	var payload RunPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid %s payload: %w", TypePipelineRun, err)
	}
	logrus.WithField("trigger", payload.Trigger).Info("processing queued pipeline run")
	_, err := p.Run(ctx)
	return err
}
