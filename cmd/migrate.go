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
	"fmt"

	migrate "github.com/rubenv/sql-migrate"
	"github.com/spf13/cobra"

	"github.com/blnkfinance/ordersync"
	"github.com/blnkfinance/ordersync/config"
	"github.com/blnkfinance/ordersync/internal/cursor"
)

const migrationSchema = "ordersync"

// migrateCommands creates the root command for the postgres cursor table migrations.
func migrateCommands(_ *ordersyncInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "migrate the postgres cursor store",
	}

	cmd.AddCommand(migrateCommand("up", migrate.Up, "Applied"))
	cmd.AddCommand(migrateCommand("down", migrate.Down, "Rolled back"))

	return cmd
}

func migrateCommand(use string, direction migrate.MigrationDirection, verb string) *cobra.Command {
	cmd := &cobra.Command{
		Use: use,
		RunE: func(cmd *cobra.Command, args []string) error {
			migrations := migrate.EmbedFileSystemMigrationSource{
				FileSystem: ordersync.SQLFiles,
				Root:       "sql",
			}

			cnf, err := config.Fetch()
			if err != nil {
				return err
			}
			if cnf.Cursor.Dns == "" {
				return fmt.Errorf("cursor DNS is required to run migrations")
			}

			db, err := cursor.ConnectDB(cnf.Cursor.Dns)
			if err != nil {
				return fmt.Errorf("error connecting to database: %w", err)
			}
			defer db.Close()

			// The migration bookkeeping table lives in the schema, so it must exist first.
			if _, err := db.Exec("CREATE SCHEMA IF NOT EXISTS " + migrationSchema); err != nil {
				return err
			}
			migrate.SetSchema(migrationSchema)

			n, err := migrate.Exec(db, "postgres", migrations, direction)
			if err != nil {
				return fmt.Errorf("error migrating %s: %w", use, err)
			}
			fmt.Printf("%s %d migrations!\n", verb, n)
			return nil
		},
	}
	cmd.Annotations = map[string]string{skipSetup: "true"}
	return cmd
}
