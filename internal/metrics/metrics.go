/*
 * Copyright 2023 nebuly.com.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"net/http"
	"time"
)

const (
	metricsNamespace = "qpack"
	metricsPath      = "/metrics"
)

const (
	OutcomeEmbedded     = "embedded"
	OutcomeUnembeddable = "unembeddable"
	OutcomeExhausted    = "exhausted"
	OutcomeError        = "error"
)

var (
	solveDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "solver",
			Name:      "solve_duration_seconds",
			Help:      "Time taken by a single embedding attempt",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	solverCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "solver",
			Name:      "cache_lookups_total",
			Help:      "Total number of embedding cache lookups",
		},
		[]string{"result"},
	)

	placedCircuits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "packing",
			Name:      "circuits_total",
			Help:      "Total number of circuits processed by the planner",
		},
		[]string{"result"},
	)

	circuitsPerHost = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "packing",
			Name:      "circuits_per_host",
			Help:      "Number of circuits merged into each host circuit",
			Buckets:   []float64{1, 2, 4, 8, 16, 32, 64},
		},
	)

	submittedJobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "dispatch",
			Name:      "jobs_total",
			Help:      "Total number of host circuits submitted to backends",
		},
		[]string{"backend", "result"},
	)

	jobWaitDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "dispatch",
			Name:      "job_wait_duration_seconds",
			Help:      "Time spent waiting for a job to reach a final status",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		},
		[]string{"backend", "status"},
	)
)

func ObserveSolve(outcome string, elapsed time.Duration) {
	solveDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

func RecordCacheLookup(hit bool) {
	if hit {
		solverCacheLookups.WithLabelValues("hit").Inc()
		return
	}
	solverCacheLookups.WithLabelValues("miss").Inc()
}

func RecordPlacement(placed bool) {
	if placed {
		placedCircuits.WithLabelValues("placed").Inc()
		return
	}
	placedCircuits.WithLabelValues("unplaceable").Inc()
}

func ObserveHostCircuit(numCircuits int) {
	circuitsPerHost.Observe(float64(numCircuits))
}

func RecordSubmission(backend string, err error) {
	if err != nil {
		submittedJobs.WithLabelValues(backend, "failed").Inc()
		return
	}
	submittedJobs.WithLabelValues(backend, "submitted").Inc()
}

func ObserveJobWait(backend, status string, elapsed time.Duration) {
	jobWaitDuration.WithLabelValues(backend, status).Observe(elapsed.Seconds())
}

// Handler returns the HTTP handler exposing the metrics of the default registry.
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(metricsPath, promhttp.Handler())
	return mux
}

// Serve exposes the metrics on addr until the server fails.
func Serve(addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return server.ListenAndServe()
}
