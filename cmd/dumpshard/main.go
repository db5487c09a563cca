package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newCLI(os.Stdout).RunContext(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "dumpshard: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func newCLI(stdout io.Writer) *cli.App {
	return &cli.App{
		Name:    "dumpshard",
		Usage:   "partition Reddit dumps into per-month, per-subreddit shards",
		Version: version,
		Writer:  stdout,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to configuration file",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "log level (debug, info, warn, error)",
			},
			&cli.StringFlag{
				Name:  "output",
				Usage: "organized output directory",
			},
		},
		Commands: []*cli.Command{
			organizeCommand(),
			compactCommand(),
			archiveCommand(),
			searchCommand(),
			checkpointCommand(),
		},
	}
}

func organizeCommand() *cli.Command {
	return &cli.Command{
		Name:      "organize",
		Usage:     "stream dumps into the organized shard tree",
		ArgsUsage: "[input]",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "recursive", Aliases: []string{"r"}, Usage: "descend into subdirectories"},
			&cli.BoolFlag{Name: "reverse", Usage: "process input files in reverse order"},
			&cli.BoolFlag{Name: "no-checkpoint", Usage: "disable checkpointing"},
			&cli.StringFlag{Name: "checkpoint-path", Usage: "checkpoint store location"},
			&cli.StringFlag{Name: "allow-list", Usage: "CSV file with a name column of admitted subreddits"},
			&cli.StringSliceFlag{Name: "blacklist", Usage: "input file names to skip"},
			&cli.IntFlag{Name: "batch-size", Usage: "records per batch"},
			&cli.IntFlag{Name: "producers", Usage: "concurrent input files (0 derives from CPUs)"},
			&cli.IntFlag{Name: "writers", Usage: "writer workers (0 derives from CPUs)"},
			&cli.BoolFlag{Name: "no-compact", Usage: "skip compaction after the run"},
			&cli.BoolFlag{Name: "archive", Usage: "upload compacted shards after compaction"},
			&cli.StringFlag{Name: "dead-letter", Usage: "dead-letter sink (none, file, kafka, amqp)"},
			&cli.StringFlag{Name: "progress", Usage: "progress mode (auto, bar, log, none)"},
		},
		Action: func(c *cli.Context) error {
			a, err := setup(c, organizeOverrides)
			if err != nil {
				return err
			}
			defer a.close()
			return finish(c, a.organize(c.Context))
		},
	}
}

func compactCommand() *cli.Command {
	return &cli.Command{
		Name:  "compact",
		Usage: "compress .jsonl shards of the organized tree into .zst",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "level", Usage: "zstd level (fastest, default, better, best or a number)"},
			&cli.IntFlag{Name: "workers", Usage: "concurrent compactions (0 uses one per CPU)"},
		},
		Action: func(c *cli.Context) error {
			a, err := setup(c, compactOverrides)
			if err != nil {
				return err
			}
			defer a.close()
			_, err = a.compact(c.Context)
			return finish(c, err)
		},
	}
}

func archiveCommand() *cli.Command {
	return &cli.Command{
		Name:  "archive",
		Usage: "upload compacted shards to the configured storage backend",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "backend", Usage: "storage backend (file, s3, gcs, azure)"},
			&cli.BoolFlag{Name: "delete-local", Usage: "remove shards after upload"},
		},
		Action: func(c *cli.Context) error {
			a, err := setup(c, archiveOverrides)
			if err != nil {
				return err
			}
			defer a.close()
			return finish(c, a.archive(c.Context))
		},
	}
}

func searchCommand() *cli.Command {
	return &cli.Command{
		Name:      "search",
		Usage:     "export records of selected subreddits matching search terms",
		ArgsUsage: "[input]",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:    "target",
				Aliases: []string{"t"},
				Usage:   "category[:term,term...]; repeatable, none exports every record",
			},
			&cli.StringFlag{Name: "format", Usage: "export format (csv, parquet, avro)"},
			&cli.StringFlag{Name: "compression", Usage: "export compression"},
			&cli.BoolFlag{Name: "comments", Usage: "inputs are comment dumps"},
			&cli.StringFlag{Name: "output-dir", Usage: "export directory"},
			&cli.BoolFlag{Name: "recursive", Aliases: []string{"r"}, Usage: "descend into subdirectories"},
		},
		Action: func(c *cli.Context) error {
			a, err := setup(c, searchOverrides)
			if err != nil {
				return err
			}
			defer a.close()

			if targets := c.StringSlice("target"); len(targets) > 0 {
				a.cfg.Search.Targets = parseTargets(targets)
			}
			return finish(c, a.search(c.Context))
		},
	}
}

func checkpointCommand() *cli.Command {
	return &cli.Command{
		Name:  "checkpoint",
		Usage: "inspect or reset checkpoint entries",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "checkpoint-path", Usage: "checkpoint store location"},
		},
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "print every file id and its committed offset",
				Action: func(c *cli.Context) error {
					a, err := setup(c, checkpointOverrides)
					if err != nil {
						return err
					}
					defer a.close()
					return a.checkpointList(c.Context, c.App.Writer)
				},
			},
			{
				Name:      "reset",
				Usage:     "remove checkpoint entries",
				ArgsUsage: "<file>...",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "all", Usage: "remove every entry"},
				},
				Action: func(c *cli.Context) error {
					a, err := setup(c, checkpointOverrides)
					if err != nil {
						return err
					}
					defer a.close()
					return finish(c, a.checkpointReset(c.Context, c.Args().Slice(), c.Bool("all")))
				},
			},
		},
	}
}

// finish prints the completion marker after a successful command.
func finish(c *cli.Context, err error) error {
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, "Done :>")
	return nil
}
