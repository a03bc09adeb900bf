// Package telemetry holds the prometheus collectors exported on /metrics.
package telemetry

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "svat"

var (
	IngestedFiles = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ingested_files_total",
		Help:      "Uploaded files processed, by outcome.",
	}, []string{"outcome"})

	DedupSkips = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dedup_skips_total",
		Help:      "Writes skipped because the collection already held the fingerprint.",
	})

	UnitsStored = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "units_stored_total",
		Help:      "Embedded units written to the vector store.",
	})

	ChatTurns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "chat_turns_total",
		Help:      "Chat session turns, by outcome.",
	}, []string{"outcome"})

	CodeFindings = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "code_findings_total",
		Help:      "CVE and CWE identifiers found by code analysis.",
	}, []string{"kind"})

	EnrichmentFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "enrichment_failures_total",
		Help:      "External reference lookups that fell back to placeholders.",
	}, []string{"source"})

	NewsFetchFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "news_fetch_failures_total",
		Help:      "Feed fetches that failed, by source.",
	}, []string{"source"})

	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route", "code"})
)

// EchoMiddleware records request latency per route template.
func EchoMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			code := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				code = he.Code
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			RequestDuration.WithLabelValues(c.Request().Method, route, strconv.Itoa(code)).Observe(time.Since(start).Seconds())
			return err
		}
	}
}
