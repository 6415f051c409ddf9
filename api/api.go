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

package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/blnkfinance/ordersync/api/middleware"
	"github.com/blnkfinance/ordersync/config"
	"github.com/blnkfinance/ordersync/internal/apierror"
	"github.com/blnkfinance/ordersync/model"
)

// CursorReader reports the current position of every pipeline cursor.
type CursorReader interface {
	CursorSnapshot(ctx context.Context) ([]model.CursorValue, error)
}

// RunQueue accepts pipeline runs for the background worker.
type RunQueue interface {
	EnqueueRun(ctx context.Context, trigger string) (bool, error)
	Pending() (int, error)
}

type Api struct {
	conf    *config.Configuration
	cursors CursorReader
	runs    RunQueue
	router  *gin.Engine
}

type triggerRequest struct {
	Trigger string `json:"trigger"`
}

func (a Api) Router() *gin.Engine {
	router := a.router
	router.GET("/cursors", a.GetCursors)
	router.GET("/runs", a.GetRuns)
	router.POST("/runs", a.QueueRun)
	return router
}

// NewAPI builds the status API. runs may be nil when no queue is configured; run endpoints
// then answer 503.
func NewAPI(conf *config.Configuration, cursors CursorReader, runs RunQueue) *Api {
	gin.SetMode(gin.ReleaseMode)
	r := gin.Default()
	r.Use(otelgin.Middleware(conf.ProjectName))
	r.Use(middleware.RateLimitMiddleware(conf))
	if conf.Server.Secure {
		r.Use(middleware.SecretKeyAuthMiddleware(conf))
	}

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "server running...", "project": conf.ProjectName})
	})

	return &Api{conf: conf, cursors: cursors, runs: runs, router: r}
}

func (a Api) GetCursors(c *gin.Context) {
	values, err := a.cursors.CursorSnapshot(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, apierror.NewAPIError(apierror.ErrInternalServer, "failed to read cursors", err))
		return
	}
	c.JSON(http.StatusOK, values)
}

func (a Api) GetRuns(c *gin.Context) {
	if a.runs == nil {
		c.JSON(http.StatusServiceUnavailable, apierror.NewAPIError(apierror.ErrUnavailable, "run queue is not configured", nil))
		return
	}
	pending, err := a.runs.Pending()
	if err != nil {
		c.JSON(http.StatusInternalServerError, apierror.NewAPIError(apierror.ErrInternalServer, "failed to inspect run queue", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"pending": pending})
}

func (a Api) QueueRun(c *gin.Context) {
	if a.runs == nil {
		c.JSON(http.StatusServiceUnavailable, apierror.NewAPIError(apierror.ErrUnavailable, "run queue is not configured", nil))
		return
	}

	req := triggerRequest{Trigger: "api"}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, apierror.NewAPIError(apierror.ErrInvalidInput, "invalid run request", err))
			return
		}
		if req.Trigger == "" {
			req.Trigger = "api"
		}
	}

	queued, err := a.runs.EnqueueRun(c.Request.Context(), req.Trigger)
	if err != nil {
		c.JSON(http.StatusInternalServerError, apierror.NewAPIError(apierror.ErrInternalServer, "failed to queue run", err))
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"queued": queued, "trigger": req.Trigger})
}
