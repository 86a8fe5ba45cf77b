// Ad-hoc query tool: expand names on the command line and print the
// resulting prefix-set to stdout.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/DrC0ns0le/irr-filter/internal/aggregate"
	"github.com/DrC0ns0le/irr-filter/internal/irr"
	"github.com/DrC0ns0le/irr-filter/internal/render"
	"github.com/DrC0ns0le/irr-filter/internal/resolve"
	"github.com/DrC0ns0le/irr-filter/pkg/logging"
)

var (
	server      = flag.String("server", "whois.radb.net:43", "IRR server host:port")
	sources     = flag.String("sources", "", "comma-separated registry sources, empty for all")
	doAggregate = flag.Bool("a", false, "aggregate prefixes")
	families    = []irr.Family{irr.FamilyIPv4, irr.FamilyIPv6}
)

func main() {
	flag.Parse()
	logger := logging.NewDefaultLogger()

	names := flag.Args()
	if len(names) == 0 {
		fmt.Fprintf(os.Stderr, "Usage: %s [-a] [-server host:port] expr ...\n", os.Args[0])
		os.Exit(1)
	}

	filters := make([]irr.Filter, 0, len(names))
	for _, name := range names {
		f, err := irr.ClassifyFilter(name)
		if err != nil {
			logger.Fatalf("%v", err)
		}
		filters = append(filters, f)
	}

	var srcs []string
	if *sources != "" {
		srcs = strings.Split(*sources, ",")
	}
	client, err := irr.Dial(context.Background(), *server, srcs, logger)
	if err != nil {
		logger.Fatalf("failed to connect to %s: %v", *server, err)
	}
	defer client.Close()

	resolver := &resolve.Resolver{Client: client, Cache: resolve.NewCache(), Logger: logger}
	for _, filter := range filters {
		expansion, err := resolver.Expand([]irr.Filter{filter})
		if err != nil {
			logger.Fatalf("failed to expand %s: %v", filter.Name, err)
		}
		routes, err := resolver.CollectRoutes(expansion.ASNs, families)
		if err != nil {
			logger.Fatalf("failed to collect routes for %s: %v", filter.Name, err)
		}

		var entries []aggregate.Entry
		for _, family := range families {
			prefixes := append(routes[family], expansion.Declared[family]...)
			if *doAggregate {
				famEntries, err := aggregate.Aggregate(prefixes, family, 0)
				if err != nil {
					logger.Fatalf("aggregation failed for %s: %v", filter.Name, err)
				}
				entries = append(entries, famEntries...)
			} else {
				entries = append(entries, aggregate.Passthrough(prefixes)...)
			}
		}
		aggregate.SortEntries(entries)

		block, err := render.Build(render.StylePrefixSet, filter.Name, "Generated by "+irr.ClientName, entries)
		if err != nil {
			logger.Fatalf("%v", err)
		}
		os.Stdout.WriteString(block)
	}
}
