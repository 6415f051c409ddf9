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
	"fmt"
	"log"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/blnkfinance/ordersync/config"
	"github.com/blnkfinance/ordersync/internal/notification"
)

// Ordersync represents the CLI application, encapsulating the root Cobra command.
type Ordersync struct {
	cmd *cobra.Command
	app *ordersyncInstance
}

// recoverPanic handles any panics during program execution and logs the error using Logrus.
func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// skipSetup marks commands that only need the configuration.
const skipSetup = "skip-setup"

// preRun loads the configuration and, unless the command opts out, builds the pipeline and
// its collaborators.
func preRun(app *ordersyncInstance, configFile *string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if err := config.InitConfig(*configFile); err != nil {
			log.Fatal("error loading config: ", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}
		app.cnf = cnf

		if !needsSetup(cmd) {
			return nil
		}

		if err := app.setup(cmd.Context()); err != nil {
			notification.NotifyError(err)
			return err
		}
		return nil
	}
}

func needsSetup(cmd *cobra.Command) bool {
	if cmd.Annotations[skipSetup] == "true" || !cmd.Runnable() {
		return false
	}
	return cmd.Name() != "help"
}

// NewCLI creates the command-line interface for ordersync.
func NewCLI() *Ordersync {
	var configFile string
	app := &ordersyncInstance{}

	var rootCmd = &cobra.Command{
		Use:   "ordersync",
		Short: "Sync storefront orders into shared ledgers and notify workers",
		Long:  "Without a subcommand ordersync runs the full pipeline once, the same as `ordersync run`.",
		RunE:  runPipeline(app),

		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./ordersync.json", "Configuration file for ordersync")
	rootCmd.PersistentPreRunE = preRun(app, &configFile)
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.AddCommand(runCommands(app))
	rootCmd.AddCommand(ingestCommands(app))
	rootCmd.AddCommand(distributeCommands(app))
	rootCmd.AddCommand(notifyCommands(app))
	rootCmd.AddCommand(ordersCommands(app))
	rootCmd.AddCommand(cursorsCommands(app))
	rootCmd.AddCommand(workerCommands(app))
	rootCmd.AddCommand(scheduleCommands(app))
	rootCmd.AddCommand(serverCommands(app))
	rootCmd.AddCommand(migrateCommands(app))
	rootCmd.AddCommand(configCommands())

	return &Ordersync{cmd: rootCmd, app: app}
}

// execute runs the root command and then flushes traces and closes the connections preRun
// opened, whether or not the command failed.
func (o Ordersync) execute() error {
	err := o.cmd.Execute()
	o.app.close(context.Background())
	return err
}

// executeCLI runs the root command, handling any errors that occur during execution.
func (o Ordersync) executeCLI() {
	if err := o.execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()

	cli := NewCLI()
	cli.executeCLI()
}
