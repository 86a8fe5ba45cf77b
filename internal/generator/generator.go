// Package generator runs the full pipeline for every configured router:
// expand filters, collect routes, aggregate, render, write.
package generator

import (
	"context"
	"fmt"
	"net/netip"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/DrC0ns0le/irr-filter/internal/aggregate"
	"github.com/DrC0ns0le/irr-filter/internal/config"
	"github.com/DrC0ns0le/irr-filter/internal/irr"
	"github.com/DrC0ns0le/irr-filter/internal/metrics"
	"github.com/DrC0ns0le/irr-filter/internal/render"
	"github.com/DrC0ns0le/irr-filter/internal/resolve"
	"github.com/DrC0ns0le/irr-filter/pkg/logging"
)

var families = []irr.Family{irr.FamilyIPv4, irr.FamilyIPv6}

// Runner generates filter files for all routers in one configuration.
type Runner struct {
	Config *config.Config
	Logger logging.Logger
}

// RouterResult is the captured outcome of one router's generation. A
// failed router carries its error here; it never aborts the others.
type RouterResult struct {
	Hostname       string
	InputPrefixes  int
	OutputPrefixes int
	Elapsed        time.Duration
	Written        bool
	Err            error
}

// Run generates every router's filters. Each router resolves over its own
// connection in its own goroutine; they share only the read-only result
// cache, so a set referenced by several routers is downloaded once.
func (r *Runner) Run(ctx context.Context) []RouterResult {
	if err := os.MkdirAll(r.Config.Global.OutputDir, 0o755); err != nil {
		results := make([]RouterResult, len(r.Config.Routers))
		for i, rt := range r.Config.Routers {
			results[i] = RouterResult{Hostname: rt.Hostname, Err: errors.Wrap(err, "create output dir")}
		}
		return results
	}

	comment := "Generated by " + irr.ClientName
	if r.Config.Global.Timestamps {
		comment += " at " + time.Now().UTC().Format(time.RFC3339)
	}

	cache := resolve.NewCache()
	results := make([]RouterResult, len(r.Config.Routers))

	var wg sync.WaitGroup
	for i, rt := range r.Config.Routers {
		wg.Add(1)
		go func(i int, rt config.Router) {
			defer wg.Done()
			results[i] = r.generateRouter(ctx, rt, cache, comment)
		}(i, rt)
	}
	wg.Wait()
	return results
}

func (r *Runner) generateRouter(ctx context.Context, rt config.Router, cache *resolve.Cache, comment string) RouterResult {
	start := time.Now()
	res := RouterResult{Hostname: rt.Hostname}
	defer func() {
		res.Elapsed = time.Since(start)
		metrics.RouterDuration.WithLabelValues(rt.Hostname).Observe(res.Elapsed.Seconds())
		if res.Err != nil {
			metrics.RouterFailures.WithLabelValues(rt.Hostname).Inc()
		}
	}()

	client, err := irr.Dial(ctx, r.Config.Global.Server, r.Config.Global.Sources, r.Logger)
	if err != nil {
		res.Err = err
		return res
	}
	defer client.Close()
	stop := context.AfterFunc(ctx, client.Hangup)
	defer stop()

	resolver := &resolve.Resolver{Client: client, Cache: cache, Logger: r.Logger}
	style := render.Style(rt.Style)

	var content strings.Builder
	for _, name := range rt.Filters {
		filter, err := irr.ClassifyFilter(name)
		if err != nil {
			res.Err = err
			return res
		}
		block, in, out, err := r.buildFilter(resolver, style, filter, comment)
		if err != nil {
			res.Err = errors.Wrapf(err, "filter %s", name)
			return res
		}
		if block == "" {
			r.Logger.Infof("%s: %s is empty, skipping", rt.Hostname, name)
			continue
		}
		content.WriteString(block)
		res.InputPrefixes += in
		res.OutputPrefixes += out
	}
	if style == render.StylePrefixList {
		content.WriteString("end\n")
	}

	written, err := (&render.Writer{OutputDir: r.Config.Global.OutputDir}).WriteRouter(rt.Hostname, content.String())
	if err != nil {
		res.Err = err
		return res
	}
	res.Written = written
	return res
}

// buildFilter resolves one filter name into rendered filter text and
// returns it with the input and output prefix counts.
func (r *Runner) buildFilter(resolver *resolve.Resolver, style render.Style, filter irr.Filter, comment string) (string, int, int, error) {
	expansion, err := resolver.Expand([]irr.Filter{filter})
	if err != nil {
		return "", 0, 0, err
	}
	routes, err := resolver.CollectRoutes(expansion.ASNs, families)
	if err != nil {
		return "", 0, 0, err
	}

	var entries []aggregate.Entry
	var inputs int
	for _, family := range families {
		prefixes := mergePrefixes(routes[family], expansion.Declared[family])
		if len(prefixes) == 0 {
			continue
		}
		inputs += len(prefixes)
		metrics.InputPrefixes.WithLabelValues(family.String()).Add(float64(len(prefixes)))

		var famEntries []aggregate.Entry
		if r.Config.AggregateEnabled() {
			famEntries, err = aggregate.Aggregate(prefixes, family, r.Config.MinLength(family))
			if err != nil {
				return "", 0, 0, err
			}
		} else {
			famEntries = aggregate.Passthrough(prefixes)
		}
		metrics.OutputPrefixes.WithLabelValues(family.String()).Add(float64(len(famEntries)))
		entries = append(entries, famEntries...)
	}
	if len(entries) == 0 {
		return "", 0, 0, nil
	}
	aggregate.SortEntries(entries)

	block, err := render.Build(style, filter.Name, comment, entries)
	if err != nil {
		return "", 0, 0, err
	}
	return block, inputs, len(entries), nil
}

func mergePrefixes(routes, declared []netip.Prefix) []netip.Prefix {
	if len(declared) == 0 {
		return routes
	}
	seen := make(map[netip.Prefix]struct{}, len(routes)+len(declared))
	merged := make([]netip.Prefix, 0, len(routes)+len(declared))
	for _, p := range routes {
		if _, ok := seen[p]; !ok {
			seen[p] = struct{}{}
			merged = append(merged, p)
		}
	}
	for _, p := range declared {
		if _, ok := seen[p]; !ok {
			seen[p] = struct{}{}
			merged = append(merged, p)
		}
	}
	return merged
}

// Summary is the one-line human report for a finished run.
func Summary(results []RouterResult) string {
	var ok, failed int
	for _, res := range results {
		if res.Err != nil {
			failed++
		} else {
			ok++
		}
	}
	return fmt.Sprintf("%d routers generated, %d failed", ok, failed)
}
