package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"salesagg/internal/config"
	"salesagg/internal/metrics"
	"salesagg/internal/metrics/datadog"
	"salesagg/internal/metrics/prompush"

	"github.com/google/uuid"

	// register every sink backend; sink.kind picks one at runtime.
	_ "salesagg/internal/storage/all"
)

// main loads the pipeline config, applies CLI overrides, installs a metrics
// backend and executes one aggregation run.
func main() {
	var (
		cfgPath           string
		reportsFlg        string
		inputFlg          string
		metricsBackendFlg string
		pushGatewayURLFlg string
		datadogAddrFlg    string
		validate          bool
	)

	flag.StringVar(&cfgPath, "config", "configs/pipelines/retail.json", "pipeline config JSON path")
	flag.StringVar(&reportsFlg, "reports", "", "comma-separated report names (overrides reports.names)")
	flag.StringVar(&inputFlg, "input", "", "input file path or http(s) URL (overrides source)")
	flag.StringVar(&metricsBackendFlg, "metrics-backend", "", "metrics backend: pushgateway, datadog or none (env METRICS_BACKEND)")
	flag.StringVar(&pushGatewayURLFlg, "pushgateway-url", "", "Pushgateway base URL (env PUSHGATEWAY_URL)")
	flag.StringVar(&datadogAddrFlg, "datadog-addr", "", "DogStatsD address (env DD_DOGSTATSD_ADDR)")
	flag.BoolVar(&validate, "validate", false, "validate the configuration and exit")
	verbose := flag.Bool("v", false, "enable verbose logs")

	flag.Parse()

	f, err := os.Open(cfgPath)
	if err != nil {
		fatalf("open config: %v", err)
	}
	var p config.Pipeline
	err = json.NewDecoder(f).Decode(&p)
	f.Close()
	if err != nil {
		fatalf("decode config: %v", err)
	}

	switch {
	case strings.HasPrefix(inputFlg, "http://"), strings.HasPrefix(inputFlg, "https://"):
		p.Source.Kind = "http"
		p.Source.HTTP.URL = inputFlg
	case inputFlg != "":
		p.Source.Kind = "file"
		p.Source.File.Path = inputFlg
	}
	if reportsFlg != "" {
		p.Reports.Names = splitList(reportsFlg)
	}

	issues := config.ValidatePipeline(p)
	hasError := false
	for _, iss := range issues {
		fmt.Fprintf(os.Stderr, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
		if iss.Severity == config.SeverityError {
			hasError = true
		}
	}
	if hasError {
		log.Printf("Configuration is invalid: %v", cfgPath)
		os.Exit(1)
	}
	if validate {
		log.Printf("Configuration is valid: %v", cfgPath)
		os.Exit(0)
	}

	jobName := p.Job
	if jobName == "" {
		jobName = "salesagg"
	}

	// Decide metrics backend: flag → env → none.
	backendName := metricsBackendFlg
	if backendName == "" {
		backendName = os.Getenv("METRICS_BACKEND")
	}
	switch backendName {
	case "pushgateway":
		gwURL := firstNonEmpty(pushGatewayURLFlg, os.Getenv("PUSHGATEWAY_URL"), "http://localhost:9091")
		b, err := prompush.NewBackend(jobName, gwURL)
		if err != nil {
			log.Printf("metrics: failed to init prom push backend: %v; using nop", err)
			break
		}
		log.Printf("metrics: url=%v, backend=%v, job_name=%v", gwURL, backendName, jobName)
		metrics.SetBackend(b)

	case "datadog":
		addr := firstNonEmpty(datadogAddrFlg, os.Getenv("DD_DOGSTATSD_ADDR"), "127.0.0.1:8125")
		b, err := datadog.NewBackend(datadog.Config{
			Addr:       addr,
			GlobalTags: []string{"job:" + jobName},
		})
		if err != nil {
			log.Printf("metrics: failed to init datadog backend: %v; using nop", err)
			break
		}
		log.Printf("metrics: addr=%v, backend=%v", addr, backendName)
		metrics.SetBackend(b)

	case "", "none":
		if *verbose {
			log.Printf("metrics: disabled (backend=%q)", backendName)
		}

	default:
		log.Printf("metrics: unknown backend %q; metrics disabled", backendName)
	}

	runID := uuid.NewString()
	start := time.Now()
	if *verbose {
		log.Printf("pipeline: run_id=%s source=%s parser=%s sink=%s prefix=%q",
			runID, p.Source.Kind, p.Parser.Kind, p.Sink.Kind, p.Sink.Prefix)
	}

	runErr := run(context.Background(), p, runID)

	if err := metrics.Flush(); err != nil {
		log.Printf("metrics: flush error: %v", err)
	}
	if runErr != nil {
		fatalf("run %s failed: %v", runID, runErr)
	}
	log.Printf("completed run_id=%s in %s", runID, time.Since(start).Truncate(time.Millisecond))
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
