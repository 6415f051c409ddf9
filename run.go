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
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	redlock "github.com/blnkfinance/ordersync/internal/lock"
	"github.com/blnkfinance/ordersync/internal/notification"
	"github.com/blnkfinance/ordersync/model"
)

// Run executes ingest, distribution and notification in order. Distribution and notification
// are skipped when ingest appended nothing. A run that finds the lock held returns a skipped
// summary and no error.
func (p *Pipeline) Run(ctx context.Context) (model.RunSummary, error) {
	started := time.Now()
	summary := model.RunSummary{RunID: uuid.NewString()}
	logger := logrus.WithField("run_id", summary.RunID)

	ctx, span := tracer.Start(ctx, "Run", trace.WithAttributes(attribute.String("run.id", summary.RunID)))
	defer span.End()

	err := p.Exclusive(ctx, func(ctx context.Context) error {
		return p.run(ctx, &summary, logger)
	})
	summary.Duration = time.Since(started)
	if errors.Is(err, redlock.ErrLockHeld) {
		logger.Warn("another run is in progress, skipping")
		summary.Skipped = true
		return summary, nil
	}
	if err != nil {
		span.RecordError(err)
		notification.NotifyError(fmt.Errorf("run %s failed: %w", summary.RunID, err))
		return summary, err
	}
	logger.Info(summary.String())
	return summary, nil
}

// ErrRunLockLost is the cause attached to a run cancelled because its lock could not be renewed.
var ErrRunLockLost = errors.New("run lock lost")

// Exclusive calls fn while holding the run lock and renews the lock until fn returns. A lock
// held elsewhere yields an error wrapping redlock.ErrLockHeld and fn is not called. When a
// renewal fails, the context passed to fn is cancelled and the returned error wraps
// ErrRunLockLost. Without a locker fn runs directly.
func (p *Pipeline) Exclusive(ctx context.Context, fn func(ctx context.Context) error) error {
	if p.locker == nil {
		return fn(ctx)
	}

	ttl := time.Duration(p.cnf.Lock.TTLSec) * time.Second
	if err := p.locker.Lock(ctx, ttl); err != nil {
		if errors.Is(err, redlock.ErrLockHeld) {
			return err
		}
		return fmt.Errorf("failed to acquire run lock: %w", err)
	}
	defer func() {
		if err := p.locker.Unlock(context.WithoutCancel(ctx)); err != nil {
			logrus.WithError(err).Warn("failed to release run lock")
		}
	}()

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	stop := p.renewLock(runCtx, cancel, ttl)

	err := fn(runCtx)
	stop()
	if cause := context.Cause(runCtx); errors.Is(cause, ErrRunLockLost) {
		if err == nil {
			return cause
		}
		return fmt.Errorf("%w: %w", err, cause)
	}
	return err
}

// renewLock extends the run lock every renewal interval until the returned stop func is
// called. A failed renewal cancels ctx with ErrRunLockLost as the cause.
func (p *Pipeline) renewLock(ctx context.Context, cancel context.CancelCauseFunc, ttl time.Duration) (stop func()) {
	every := p.renewEvery
	if every <= 0 {
		every = ttl / 3
	}
	if every <= 0 {
		every = time.Second
	}

	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := p.locker.Extend(ctx, ttl); err != nil {
					logrus.WithError(err).Error("failed to renew run lock, cancelling run")
					cancel(fmt.Errorf("%w: %w", ErrRunLockLost, err))
					return
				}
			}
		}
	}()

	return func() {
		close(done)
		<-exited
	}
}

func (p *Pipeline) run(ctx context.Context, summary *model.RunSummary, logger *logrus.Entry) error {
	fetched, appended, err := p.IngestNewOrders(ctx)
	summary.OrdersFetched, summary.RowsAppended = fetched, appended
	if err != nil {
		return fmt.Errorf("ingest: %w", err)
	}
	if appended == 0 {
		logger.Info("nothing new, skipping distribution and notifications")
		return nil
	}

	distributed, err := p.DistributeNewRows(ctx, p.cnf.Distribution.ChunkUploadSize, p.cnf.InterBatchDelay())
	summary.RowsDistributed = distributed
	if err != nil {
		return fmt.Errorf("distribute: %w", err)
	}

	res, err := p.DispatchNotifications(ctx)
	summary.MessagesSent, summary.MessagesFailed = res.Sent, res.Failed
	if err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	return nil
}

type cursorDefault struct {
	key string
	def int64
}

// CursorSnapshot reads every cursor the pipeline owns, worker cursors in roster order.
func (p *Pipeline) CursorSnapshot(ctx context.Context) ([]model.CursorValue, error) {
	keys := []cursorDefault{
		{OrderCursorKey, DefaultOrderCursor},
		{DistributionCursorKey, DefaultRowCursor},
	}
	for _, w := range p.Roster() {
		keys = append(keys, cursorDefault{NotifyCursorKey(w.Name), DefaultRowCursor})
	}

	values := make([]model.CursorValue, 0, len(keys))
	for _, k := range keys {
		v, err := p.cursors.Read(ctx, k.key, k.def)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", k.key, err)
		}
		values = append(values, model.CursorValue{Key: k.key, Value: v})
	}
	return values, nil
}
