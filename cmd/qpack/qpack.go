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

package main

import (
	"context"
	"flag"
	"fmt"
	"github.com/nebuly-ai/qpack/internal/metrics"
	"github.com/nebuly-ai/qpack/internal/otel"
	"github.com/nebuly-ai/qpack/pkg/api/qpack/config/v1alpha1"
	"github.com/nebuly-ai/qpack/pkg/parallelizer"
	"github.com/nebuly-ai/qpack/pkg/util"
	"os"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"
	"sigs.k8s.io/yaml"
	"time"
)

const traceFlushTimeout = 5 * time.Second

var setupLog = ctrl.Log.WithName("setup")

type placementSummary struct {
	Circuit string `json:"circuit"`
	Index   int    `json:"index"`
	Units   []int  `json:"units"`
	Offset  int    `json:"offset"`
	Width   int    `json:"width"`
}

type hostSummary struct {
	Name       string             `json:"name"`
	Backend    string             `json:"backend"`
	Placements []placementSummary `json:"placements"`
}

type summary struct {
	PlanId      string            `json:"planId"`
	Info        parallelizer.Info `json:"info"`
	Hosts       []hostSummary     `json:"hosts"`
	Unplaceable map[int]string    `json:"unplaceable,omitempty"`
}

func newSummary(a parallelizer.Arrangement) summary {
	res := summary{PlanId: a.Plan.GetId(), Info: a.Info, Hosts: make([]hostSummary, 0, len(a.Hosts))}
	for _, h := range a.Hosts {
		host := hostSummary{Name: h.Name, Backend: h.Backend, Placements: make([]placementSummary, 0)}
		for _, m := range h.RegisterMaps {
			host.Placements = append(host.Placements, placementSummary{
				Circuit: m.CircuitName,
				Index:   m.CircuitIndex,
				Units:   m.Units,
				Offset:  m.Offset,
				Width:   m.Width,
			})
		}
		res.Hosts = append(res.Hosts, host)
	}
	if len(a.Plan.Failures) > 0 {
		res.Unplaceable = make(map[int]string, len(a.Plan.Failures))
		for i, err := range a.Plan.Failures {
			res.Unplaceable[i] = err.Error()
		}
	}
	return res
}

// flushTraces runs the tracing shutdown on its own context, since the signal
// handler context is already done when the process is interrupted.
func flushTraces(shutdown func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), traceFlushTimeout)
	defer cancel()
	return shutdown(ctx)
}

func main() {
	var configFile string
	var batchFile string
	var output string
	var otelEndpoint string
	var metricsAddr string
	flag.StringVar(&configFile, "config", "", "Path to the packing options file. Defaults are used if empty.")
	flag.StringVar(&batchFile, "batch", "", "Path to the file containing the backends and the circuits to pack.")
	flag.StringVar(&output, "output", "text", "Output format, one of text, yaml.")
	flag.StringVar(
		&otelEndpoint,
		"otel-endpoint",
		util.GetEnv("QPACK_OTEL_ENDPOINT", ""),
		"OTLP/gRPC endpoint traces are exported to. Tracing is disabled if empty.",
	)
	flag.StringVar(&metricsAddr, "metrics-bind-address", "0", "The address the metric endpoint binds to. Use 0 to disable it.")
	opts := zap.Options{
		Development: true,
	}
	opts.BindFlags(flag.CommandLine)
	flag.Parse()
	ctrl.SetLogger(zap.New(zap.UseFlagOptions(&opts)))

	if batchFile == "" {
		setupLog.Error(fmt.Errorf("missing flag"), "the batch file is required")
		os.Exit(1)
	}
	if output != "text" && output != "yaml" {
		setupLog.Error(fmt.Errorf("invalid flag"), "unknown output format", "output", output)
		os.Exit(1)
	}

	// Load config
	options := v1alpha1.NewDefaultOptions()
	if configFile != "" {
		var err error
		if options, err = v1alpha1.Load(configFile); err != nil {
			setupLog.Error(err, "unable to load options")
			os.Exit(1)
		}
	}
	batch, err := v1alpha1.LoadBatch(batchFile)
	if err != nil {
		setupLog.Error(err, "unable to load batch")
		os.Exit(1)
	}
	targets, err := batch.Targets()
	if err != nil {
		setupLog.Error(err, "unable to build backend topologies")
		os.Exit(1)
	}

	// Setup tracing
	shutdown, err := otel.Setup(otelEndpoint, "qpack")
	if err != nil {
		setupLog.Error(err, "unable to setup tracing")
		os.Exit(1)
	}

	// Serve metrics
	if metricsAddr != "0" && metricsAddr != "" {
		go func() {
			if err := metrics.Serve(metricsAddr); err != nil {
				setupLog.Error(err, "unable to serve metrics")
			}
		}()
	}

	ctx := log.IntoContext(ctrl.SetupSignalHandler(), ctrl.Log.WithName("qpack"))
	setupLog.Info("packing circuits", "circuits", len(batch.Circuits), "backends", len(targets))
	arrangement, err := parallelizer.Rearrange(ctx, batch.Circuits, targets, options)
	if shutdownErr := flushTraces(shutdown); shutdownErr != nil {
		setupLog.Error(shutdownErr, "unable to flush traces")
	}
	if err != nil {
		setupLog.Error(err, "packing failed")
		os.Exit(1)
	}

	switch output {
	case "yaml":
		out, err := yaml.Marshal(newSummary(arrangement))
		if err != nil {
			setupLog.Error(err, "unable to encode the arrangement")
			os.Exit(1)
		}
		fmt.Print(string(out))
	default:
		fmt.Print(arrangement.Describe())
	}
}
