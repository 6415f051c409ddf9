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
	"log"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/blnkfinance/ordersync/api"
	"github.com/blnkfinance/ordersync/config"
)

func initializeRouter(app *ordersyncInstance) *gin.Engine {
	// A nil *Queue must not reach the API as a non-nil interface.
	var runs api.RunQueue
	if app.queue != nil {
		runs = app.queue
	}
	return api.NewAPI(app.cnf, app.pipeline, runs).Router()
}

func startServer(router *gin.Engine, cfg config.ServerConfig) error {
	log.Printf("Starting server on http://localhost:%s", cfg.Port)
	return router.Run(":" + cfg.Port)
}

// serverCommands returns the "start" command serving the status and trigger API.
func serverCommands(app *ordersyncInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "start ordersync server",
		RunE: func(cmd *cobra.Command, args []string) error {
			router := initializeRouter(app)
			return startServer(router, app.cnf.Server)
		},
	}

	return cmd
}
