package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/peterbourgon/ff/v2/ffcli"

	"github.com/DrC0ns0le/irr-filter/internal/config"
	"github.com/DrC0ns0le/irr-filter/internal/generator"
	"github.com/DrC0ns0le/irr-filter/internal/metrics"
	"github.com/DrC0ns0le/irr-filter/pkg/logging"
)

var (
	configPath   = flag.String("config", "config.toml", "path to TOML configuration")
	serveMetrics = flag.Bool("metrics.serve", false, "serve prometheus metrics while running")
)

func main() {
	cmd := &ffcli.Command{
		Name:       "generator",
		ShortUsage: "generator [flags]",
		ShortHelp:  "generate router prefix filters from IRR data",
		FlagSet:    flag.CommandLine,
		Exec:       run,
	}

	if err := cmd.ParseAndRun(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, _ []string) error {
	logger := logging.NewDefaultLogger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *serveMetrics {
		go metrics.Serve()
	}

	logger.Infof("resolving %d routers via %s", len(cfg.Routers), cfg.Global.Server)
	start := time.Now()

	runner := &generator.Runner{Config: cfg, Logger: logger}
	results := runner.Run(ctx)

	elapsed := time.Since(start)

	table := tablewriter.NewWriter(os.Stderr)
	table.SetHeader([]string{"Router", "In", "Out", "Elapsed", "Status"})
	var failed int
	var inputs, outputs int
	for _, res := range results {
		status := "ok"
		if res.Err != nil {
			failed++
			status = res.Err.Error()
		} else if !res.Written {
			status = "unchanged"
		}
		inputs += res.InputPrefixes
		outputs += res.OutputPrefixes
		table.Append([]string{
			res.Hostname,
			fmt.Sprintf("%d", res.InputPrefixes),
			fmt.Sprintf("%d", res.OutputPrefixes),
			res.Elapsed.Round(time.Millisecond).String(),
			status,
		})
	}
	table.Render()

	if cfg.AggregateEnabled() {
		logger.Infof("aggregated %d prefixes into %d entries", inputs, outputs)
	}
	logger.Infof("%s in %.2fs", generator.Summary(results), elapsed.Seconds())

	if failed > 0 {
		return fmt.Errorf("%d of %d routers failed", failed, len(results))
	}
	return nil
}
