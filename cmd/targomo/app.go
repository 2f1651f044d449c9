package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/apex/log"
	"github.com/dustin/go-humanize"
	"github.com/tidwall/pretty"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	targomo "github.com/targomo/targomo-go"
)

func newApp(stdout, stderr io.Writer) *cli.Command {
	return &cli.Command{
		Name:      "targomo",
		Usage:     "query the Targomo API through the request cache",
		Version:   targomo.Version,
		Writer:    stdout,
		ErrWriter: stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "YAML config file"},
			&cli.BoolFlag{Name: "debug", Usage: "log cache and request decisions"},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			if cmd.Bool("debug") {
				log.SetLevel(log.DebugLevel)
			}
			return ctx, nil
		},
		Commands: []*cli.Command{
			fetchCommand(stdout, stderr),
			{
				Name:  "version",
				Usage: "print build information",
				Action: func(_ context.Context, _ *cli.Command) error {
					_, err := fmt.Fprintln(stdout, targomo.GetVersion())
					return err
				},
			},
		},
	}
}

func fetchCommand(stdout, stderr io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "fetch",
		Usage: "send one request, optionally several times, and report how many reached the network",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "url", Aliases: []string{"u"}, Usage: "absolute URL or path relative to base_url", Required: true},
			&cli.StringFlag{Name: "method", Aliases: []string{"X"}, Value: http.MethodGet},
			&cli.StringFlag{Name: "data", Aliases: []string{"d"}, Usage: "JSON payload"},
			&cli.StringFlag{Name: "base-url", Usage: "overrides base_url from the config"},
			&cli.StringFlag{Name: "api-key", Usage: "overrides api_key from the config", Sources: cli.EnvVars("TARGOMO_API_KEY")},
			&cli.StringFlag{Name: "cache", Usage: "default, bypass or lru"},
			&cli.IntFlag{Name: "capacity", Usage: "lru capacity, 0 for unbounded", Value: -1},
			&cli.IntFlag{Name: "repeat", Aliases: []string{"n"}, Usage: "number of identical requests", Value: 1},
			&cli.IntFlag{Name: "parallel", Aliases: []string{"p"}, Usage: "requests in flight at once", Value: 1},
			&cli.StringFlag{Name: "query", Aliases: []string{"q"}, Usage: "gjson path applied to the response"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return runFetch(ctx, cmd, stdout, stderr)
		},
	}
}

func runFetch(ctx context.Context, cmd *cli.Command, stdout, stderr io.Writer) error {
	cfg := &targomo.Config{}
	if path := cmd.String("config"); path != "" {
		loaded, err := targomo.LoadConfig(path)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if v := cmd.String("base-url"); v != "" {
		cfg.BaseURL = v
	}
	if v := cmd.String("api-key"); v != "" {
		cfg.APIKey = v
	}
	if v := cmd.String("cache"); v != "" {
		cfg.Cache.Mode = v
	}
	if v := int(cmd.Int("capacity")); v >= 0 {
		cfg.Cache.Capacity = v
	}

	var networkCalls int64
	counter := func(req *http.Request, next targomo.RoundTripper) (*http.Response, error) {
		atomic.AddInt64(&networkCalls, 1)
		return next.RoundTrip(req)
	}

	logger := targomo.NewApexLogger(log.Log)
	opts := append(cfg.Options(), targomo.WithMiddleware(counter), targomo.WithLogger(logger))
	if cmd.Bool("debug") {
		opts = append(opts, targomo.WithDebug())
	}
	client := targomo.New(opts...)
	if !client.IsValid() {
		return client.ValidationError()
	}

	var lruOpts []targomo.LRUOption
	if cmd.Bool("debug") {
		lruOpts = append(lruOpts, targomo.WithLRULogger(logger))
	}
	sel, err := cfg.Cache.Selector(lruOpts...)
	if err != nil {
		return err
	}

	req := targomo.Request{URL: cmd.String("url"), Method: cmd.String("method")}
	if data := cmd.String("data"); data != "" {
		var payload any
		if err := json.Unmarshal([]byte(data), &payload); err != nil {
			return fmt.Errorf("--data is not valid JSON: %w", err)
		}
		req.Payload = payload
	}

	repeat := int(cmd.Int("repeat"))
	if repeat < 1 {
		repeat = 1
	}
	parallel := int(cmd.Int("parallel"))
	if parallel < 1 {
		parallel = 1
	}

	start := time.Now()
	results := make([]targomo.Response, repeat)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)
	for i := 0; i < repeat; i++ {
		i := i // per-iteration copy; go 1.21 loop variables are shared across iterations
		g.Go(func() error {
			res, err := client.Fetch(gctx, req, sel)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	res := results[repeat-1]
	if q := cmd.String("query"); q != "" {
		res = res.Get(q)
	}
	if err := writeJSON(stdout, res.Raw); err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"selector": sel.String(),
		"duration": time.Since(start).Round(time.Millisecond),
	}).Debug("fetch finished")
	_, err = fmt.Fprintf(stderr, "%s requests, %s network calls, %s response\n",
		humanize.Comma(int64(repeat)),
		humanize.Comma(atomic.LoadInt64(&networkCalls)),
		humanize.Bytes(uint64(len(res.Raw))))
	return err
}

// writeJSON pretty-prints raw JSON, in colour when stdout is a terminal.
func writeJSON(w io.Writer, raw string) error {
	if raw == "" {
		return nil
	}
	out := pretty.Pretty([]byte(raw))
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		out = pretty.Color(out, nil)
	}
	_, err := w.Write(out)
	return err
}
