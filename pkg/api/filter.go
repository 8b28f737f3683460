// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"time"

	"github.com/Ayazzbek/kaspi--lab-project1/pkg/debug"

	"github.com/prometheus/client_golang/prometheus"
)

type Response interface {
	IsEnd() bool
}

type Next struct{}

func (n Next) IsEnd() bool {
	return false
}

// End stops the chain; the filter has already written the response.
type End struct{}

func (e End) IsEnd() bool {
	return true
}

type Filter interface {
	Run(d *Data) (Response, error)
	Type() string
}

var (
	filterErrorCount = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "uploader",
		Subsystem: "api",
		Name:      "filter_error_count",
		Help:      "Number of errors encountered in filters",
	}, []string{"filter"})

	filterRunDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "uploader",
		Subsystem: "api",
		Name:      "filter_run_duration_seconds",
		Help:      "Duration of filter runs in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"filter"})

	filterContextCancelled = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "uploader",
		Subsystem: "api",
		Name:      "filter_context_cancelled_count",
		Help:      "Number of times filter context was cancelled",
	}, []string{"filter"})
)

func init() {
	debug.Registry().MustRegister(filterErrorCount, filterRunDuration, filterContextCancelled)
}

// Chain runs filters in order until one ends the request or fails.
type Chain struct {
	filters []Filter
}

func NewChain(filters ...Filter) *Chain {
	return &Chain{filters: filters}
}

func (c *Chain) AddFilter(f Filter) {
	c.filters = append(c.filters, f)
}

// Run returns the type of the filter that stopped the chain, if any.
func (c *Chain) Run(d *Data) (string, bool, error) {
	for _, filter := range c.filters {
		t := time.Now()
		resp, err := filter.Run(d)
		filterRunDuration.WithLabelValues(filter.Type()).Observe(time.Since(t).Seconds())

		if d.Ctx.Err() != nil {
			filterContextCancelled.WithLabelValues(filter.Type()).Inc()
			return filter.Type(), true, d.Ctx.Err()
		}
		if err != nil {
			filterErrorCount.WithLabelValues(filter.Type()).Inc()
			return filter.Type(), true, err
		}
		if resp.IsEnd() {
			return filter.Type(), true, nil
		}
	}
	return "", false, nil
}
