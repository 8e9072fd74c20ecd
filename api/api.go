// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

// Package api exposes the semantic cache over HTTP.
package api

import (
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/mattermost/semantic-cache/metrics"
	"github.com/mattermost/semantic-cache/semanticcache"
)

type API struct {
	cache   *semanticcache.Cache
	metrics metrics.Metrics
	log     *logrus.Logger
	router  *gin.Engine
}

func New(cache *semanticcache.Cache, m metrics.Metrics, log *logrus.Logger) *API {
	if log == nil {
		log = logrus.New()
	}

	a := &API{
		cache:   cache,
		metrics: m,
		log:     log,
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(a.requestIDMiddleware)
	router.Use(a.metricsMiddleware)

	router.GET("/health", a.handleHealth)

	if m != nil && m.GetRegistry() != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(m.GetRegistry(), promhttp.HandlerOpts{})))
	}

	v1 := router.Group("/api/v1")
	v1.POST("/query", a.handleQuery)
	cacheGroup := v1.Group("/cache")
	cacheGroup.POST("/clear", a.handleClear)
	cacheGroup.GET("/stats", a.handleStats)

	a.router = router
	return a
}

func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.router.ServeHTTP(w, r)
}

func (a *API) enforceEmptyBody(c *gin.Context) error {
	if c.Request.Body != nil {
		buf, err := io.ReadAll(c.Request.Body)
		if err != nil {
			return fmt.Errorf("unable to read request body: %w", err)
		}
		if len(buf) > 0 {
			return fmt.Errorf("request body must be empty")
		}
	}
	return nil
}
