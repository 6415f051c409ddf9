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
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/blnkfinance/ordersync"
	redlock "github.com/blnkfinance/ordersync/internal/lock"
	"github.com/blnkfinance/ordersync/internal/notification"
	"github.com/blnkfinance/ordersync/model"
)

// exclusive runs a single stage under the same lock as a full run, so a stage command never
// overlaps a queued run.
func exclusive(app *ordersyncInstance, cmd *cobra.Command, stage func(ctx context.Context) error) error {
	err := app.pipeline.Exclusive(cmd.Context(), stage)
	if errors.Is(err, redlock.ErrLockHeld) {
		return fmt.Errorf("another run is in progress, try again later: %w", err)
	}
	return err
}

// runPipeline runs every stage once in this process.
func runPipeline(app *ordersyncInstance) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		summary, err := app.pipeline.Run(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Println(summary.String())
		return nil
	}
}

// runCommands runs every stage once, or hands the run to the worker with --queue.
func runCommands(app *ordersyncInstance) *cobra.Command {
	var queued bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "ingest new orders, distribute them and notify workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			if queued {
				queue, err := app.requireQueue()
				if err != nil {
					return err
				}
				ok, err := queue.EnqueueRun(cmd.Context(), "cli")
				if err != nil {
					return err
				}
				if !ok {
					fmt.Println("a pipeline run is already queued")
					return nil
				}
				fmt.Println("pipeline run queued")
				return nil
			}

			return runPipeline(app)(cmd, args)
		},
	}
	cmd.Flags().BoolVar(&queued, "queue", false, "queue the run for the background worker instead of running it here")
	return cmd
}

func ingestCommands(app *ordersyncInstance) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest",
		Short: "append new storefront orders to the master ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			var fetched, appended int
			err := exclusive(app, cmd, func(ctx context.Context) (err error) {
				fetched, appended, err = app.pipeline.IngestNewOrders(ctx)
				return err
			})
			if err != nil {
				notification.NotifyError(err)
				return err
			}
			fmt.Printf("%d orders fetched, %d rows appended\n", fetched, appended)
			return nil
		},
	}
}

func distributeCommands(app *ordersyncInstance) *cobra.Command {
	var chunkSize int
	cmd := &cobra.Command{
		Use:   "distribute",
		Short: "split new master rows across the worker ledgers",
		RunE: func(cmd *cobra.Command, args []string) error {
			if chunkSize <= 0 {
				chunkSize = app.cnf.Distribution.ChunkUploadSize
			}
			var n int
			err := exclusive(app, cmd, func(ctx context.Context) (err error) {
				n, err = app.pipeline.DistributeNewRows(ctx, chunkSize, app.cnf.InterBatchDelay())
				return err
			})
			if err != nil {
				notification.NotifyError(err)
				return err
			}
			fmt.Printf("%d rows distributed\n", n)
			return nil
		},
	}
	cmd.Flags().IntVar(&chunkSize, "chunk-size", 0, "rows per upload (defaults to distribution.chunk_upload_size)")
	return cmd
}

func notifyCommands(app *ordersyncInstance) *cobra.Command {
	return &cobra.Command{
		Use:   "notify",
		Short: "message each worker about rows added to their ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			var res ordersync.DispatchResult
			err := exclusive(app, cmd, func(ctx context.Context) (err error) {
				res, err = app.pipeline.DispatchNotifications(ctx)
				return err
			})
			if err != nil {
				notification.NotifyError(err)
				return err
			}
			fmt.Printf("%d messages sent, %d failed\n", res.Sent, res.Failed)
			return nil
		},
	}
}

// ordersCommands previews what the next ingest would append without writing anything.
func ordersCommands(app *ordersyncInstance) *cobra.Command {
	return &cobra.Command{
		Use:   "orders",
		Short: "list storefront orders newer than the order cursor",
		RunE: func(cmd *cobra.Command, args []string) error {
			orders, _, err := app.pipeline.PendingOrders(cmd.Context())
			if err != nil {
				return err
			}
			if len(orders) == 0 {
				fmt.Println("no new orders")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tDATE\tCUSTOMER\tITEMS\tTOTAL")
			for _, o := range orders {
				fmt.Fprintf(w, "%d\t%s\t%s %s\t%d\t%s\n", o.ID, model.FormatOrderDate(o.CreatedAt()),
					o.Billing.FirstName, o.Billing.LastName, len(o.LineItems), model.FormatAmount(o.Total))
			}
			return w.Flush()
		},
	}
}

func cursorsCommands(app *ordersyncInstance) *cobra.Command {
	return &cobra.Command{
		Use:   "cursors",
		Short: "show the position of every pipeline cursor",
		RunE: func(cmd *cobra.Command, args []string) error {
			values, err := app.pipeline.CursorSnapshot(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "KEY\tVALUE")
			for _, v := range values {
				fmt.Fprintf(w, "%s\t%d\n", v.Key, v.Value)
			}
			return w.Flush()
		},
	}
}
