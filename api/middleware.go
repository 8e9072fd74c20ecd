// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package api

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const requestIDHeader = "X-Request-ID"

func (a *API) requestIDMiddleware(c *gin.Context) {
	requestID := c.GetHeader(requestIDHeader)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Set("requestID", requestID)
	c.Header(requestIDHeader, requestID)
	c.Next()
}

func (a *API) metricsMiddleware(c *gin.Context) {
	if a.metrics == nil {
		c.Next()
		return
	}

	a.metrics.IncrementHTTPRequests()
	start := time.Now()

	c.Next()

	status := c.Writer.Status()
	if status >= 500 {
		a.metrics.IncrementHTTPErrors()
	}

	handler := c.FullPath()
	if handler == "" {
		handler = "unknown"
	}
	a.metrics.ObserveAPIEndpointDuration(handler, c.Request.Method, strconv.Itoa(status), time.Since(start).Seconds())
}
