package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/jittakal/dumpshard/internal/generator"
	"github.com/jittakal/dumpshard/internal/observability"
	"github.com/jittakal/dumpshard/pkg/record"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newCLI(os.Stdout).RunContext(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "gendump: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func newCLI(stdout io.Writer) *cli.App {
	return &cli.App{
		Name:      "gendump",
		Usage:     "write synthetic Reddit dump files",
		ArgsUsage: "<file>...",
		Writer:    stdout,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "kind", Value: generator.KindPosts, Usage: "posts or comments"},
			&cli.IntFlag{Name: "records", Aliases: []string{"n"}, Value: 10000, Usage: "lines per file"},
			&cli.StringSliceFlag{Name: "category", Usage: "subreddit names; repeatable"},
			&cli.StringFlag{Name: "start", Value: "2020-01", Usage: "first month (YYYY-MM)"},
			&cli.StringFlag{Name: "end", Value: "2020-04", Usage: "month after the last one (YYYY-MM)"},
			&cli.Float64Flag{Name: "malformed", Value: 0.01, Usage: "share of broken lines"},
			&cli.StringFlag{Name: "codec", Usage: "plain, zstd or gzip (default from extension)"},
			&cli.Int64Flag{Name: "seed", Usage: "random seed; 0 is random"},
			&cli.StringFlag{Name: "log-level", Value: "info", Usage: "log level"},
		},
		Action: run,
	}
}

func run(c *cli.Context) error {
	if !c.Args().Present() {
		return cli.Exit("at least one output file is required", 1)
	}

	start, err := time.Parse(record.PeriodLayout, c.String("start"))
	if err != nil {
		return fmt.Errorf("invalid --start: %w", err)
	}
	end, err := time.Parse(record.PeriodLayout, c.String("end"))
	if err != nil {
		return fmt.Errorf("invalid --end: %w", err)
	}

	logger := observability.NewLogger(observability.LoggingConfig{
		Level:  c.String("log-level"),
		Format: "text",
		Output: "stderr",
	})

	for i, path := range c.Args().Slice() {
		seed := c.Int64("seed")
		if seed != 0 {
			seed += int64(i)
		}
		g, err := generator.New(generator.Config{
			Kind:           c.String("kind"),
			Records:        c.Int("records"),
			Categories:     c.StringSlice("category"),
			Start:          start,
			End:            end,
			MalformedRatio: c.Float64("malformed"),
			Codec:          c.String("codec"),
			Seed:           seed,
		}, logger)
		if err != nil {
			return err
		}
		if _, err := g.WriteFile(c.Context, path); err != nil {
			return fmt.Errorf("failed to generate %s: %w", path, err)
		}
	}

	fmt.Fprintln(c.App.Writer, "Done :>")
	return nil
}
