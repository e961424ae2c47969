// Copyright (C) 2020-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// Metrics that are domain-specific (job counters, poll latency) live in
// internal/metrics, built by its New(namespace, registerer) against a
// prometheus.Registerer.

// Registerer is an interface for registering prometheus metrics
type Registerer interface {
	prometheus.Registerer
}

// Registry is an interface for prometheus registry
type Registry interface {
	prometheus.Registerer
	prometheus.Gatherer
}

// NewRegistry creates a new prometheus registry
func NewRegistry() Registry {
	return prometheus.NewRegistry()
}

// MultiGatherer is a prometheus gatherer that can gather metrics from multiple sources
type MultiGatherer interface {
	prometheus.Gatherer
	
	// Register adds a new gatherer to this multi-gatherer
	Register(string, prometheus.Gatherer) error
}

// multiGatherer implements MultiGatherer
type multiGatherer struct {
	gatherers map[string]prometheus.Gatherer
}

// NewMultiGatherer creates a new multi-gatherer
func NewMultiGatherer() MultiGatherer {
	return &multiGatherer{
		gatherers: make(map[string]prometheus.Gatherer),
	}
}

// Register adds a new gatherer
func (mg *multiGatherer) Register(name string, gatherer prometheus.Gatherer) error {
	mg.gatherers[name] = gatherer
	return nil
}

// Gather implements prometheus.Gatherer
func (mg *multiGatherer) Gather() ([]*dto.MetricFamily, error) {
	var result []*dto.MetricFamily
	for _, g := range mg.gatherers {
		metrics, err := g.Gather()
		if err != nil {
			return nil, err
		}
		result = append(result, metrics...)
	}
	return result, nil
}
