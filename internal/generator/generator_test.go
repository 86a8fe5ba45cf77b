package generator

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DrC0ns0le/irr-filter/internal/config"
	"github.com/DrC0ns0le/irr-filter/internal/irr"
	"github.com/DrC0ns0le/irr-filter/pkg/logging"
)

// serveIRR runs a scripted IRR server on loopback. Each accepted
// connection answers query lines from the replies map; unknown objects
// get a not-found reply.
func serveIRR(t *testing.T, replies map[string]string) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				scanner := bufio.NewScanner(conn)
				for scanner.Scan() {
					line := scanner.Text()
					switch {
					case line == "!!":
						// keep-open, never answered
					case line == "!q":
						return
					case strings.HasPrefix(line, "!n"), strings.HasPrefix(line, "!s"):
						if _, err := conn.Write([]byte("C\n")); err != nil {
							return
						}
					default:
						reply, ok := replies[line]
						if !ok {
							reply = "D\n"
						}
						if _, err := conn.Write([]byte(reply)); err != nil {
							return
						}
					}
				}
			}(conn)
		}
	}()
	return ln.Addr().String()
}

func data(payload string) string {
	return fmt.Sprintf("A%d\n%sC\n", len(payload), payload)
}

func testConfig(server, outdir string, aggregate bool, routers ...config.Router) *config.Config {
	return &config.Config{
		Global: config.Global{
			Server:    server,
			OutputDir: outdir,
			Sources:   []string{"RADB"},
			Aggregate: &aggregate,
		},
		Routers: routers,
	}
}

func TestRunGeneratesRouterFile(t *testing.T) {
	addr := serveIRR(t, map[string]string{
		"!iAS-EXAMPLE,1": data("AS65536 AS65537\n"),
		"!gas65536":      data("192.0.2.0/24\n"),
		"!gas65537":      data("192.0.3.0/24\n"),
	})
	outdir := t.TempDir()
	cfg := testConfig(addr, outdir, false, config.Router{
		Hostname: "edge1.example.net",
		Style:    "prefix-set",
		Filters:  []string{"AS-EXAMPLE"},
	})

	runner := &Runner{Config: cfg, Logger: logging.NewDefaultLogger()}
	results := runner.Run(context.Background())
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
	assert.True(t, results[0].Written)
	assert.Equal(t, 2, results[0].InputPrefixes)
	assert.Equal(t, 2, results[0].OutputPrefixes)

	raw, err := os.ReadFile(filepath.Join(outdir, "edge1.example.net.txt"))
	require.NoError(t, err)
	want := "no prefix-set AS-EXAMPLE\n" +
		"prefix-set AS-EXAMPLE\n" +
		" # Generated by " + irr.ClientName + "\n" +
		" 192.0.2.0/24,\n" +
		" 192.0.3.0/24\n" +
		"end-set\n"
	assert.Equal(t, want, string(raw))

	// a second run produces identical output and leaves the file alone
	results = runner.Run(context.Background())
	require.NoError(t, results[0].Err)
	assert.False(t, results[0].Written)
}

func TestRunAggregates(t *testing.T) {
	addr := serveIRR(t, map[string]string{
		"!gas65536": data("192.0.2.0/25 192.0.2.128/25\n"),
	})
	outdir := t.TempDir()
	cfg := testConfig(addr, outdir, true, config.Router{
		Hostname: "edge1.example.net",
		Style:    "prefix-list",
		Filters:  []string{"AS65536"},
	})

	runner := &Runner{Config: cfg, Logger: logging.NewDefaultLogger()}
	results := runner.Run(context.Background())
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
	assert.Equal(t, 2, results[0].InputPrefixes)
	assert.Equal(t, 1, results[0].OutputPrefixes)

	raw, err := os.ReadFile(filepath.Join(outdir, "edge1.example.net.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), "ip prefix-list AS65536 permit 192.0.2.0/24 ge 25 le 25\n")
	assert.True(t, strings.HasSuffix(string(raw), "end\n"))
}

func TestRunRouterFailureIsIsolated(t *testing.T) {
	addr := serveIRR(t, map[string]string{
		"!iAS-EXAMPLE,1": data("AS65536\n"),
		"!iAS-BROKEN,1":  "Fquery limit exceeded\n",
		"!gas65536":      data("192.0.2.0/24\n"),
	})
	outdir := t.TempDir()
	cfg := testConfig(addr, outdir, false,
		config.Router{Hostname: "good", Style: "prefix-set", Filters: []string{"AS-EXAMPLE"}},
		config.Router{Hostname: "bad", Style: "prefix-set", Filters: []string{"AS-BROKEN"}},
	)

	runner := &Runner{Config: cfg, Logger: logging.NewDefaultLogger()}
	results := runner.Run(context.Background())
	require.Len(t, results, 2)

	byName := map[string]RouterResult{}
	for _, res := range results {
		byName[res.Hostname] = res
	}
	require.NoError(t, byName["good"].Err)
	assert.True(t, byName["good"].Written)
	require.Error(t, byName["bad"].Err)
	assert.ErrorIs(t, byName["bad"].Err, irr.ErrProtocol)

	_, err := os.Stat(filepath.Join(outdir, "good.txt"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(outdir, "bad.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestSummary(t *testing.T) {
	results := []RouterResult{
		{Hostname: "a"},
		{Hostname: "b", Err: fmt.Errorf("boom")},
	}
	assert.Equal(t, "1 routers generated, 1 failed", Summary(results))
}
