package main

import (
	"github.com/urfave/cli/v2"

	"github.com/jittakal/dumpshard/internal/config"
)

func organizeOverrides(c *cli.Context, l *config.Loader) {
	setInput(c, l)
	setBool(c, l, "recursive", "input.recursive")
	setBool(c, l, "reverse", "input.reverse")
	if c.IsSet("blacklist") {
		l.Set("input.blacklist", c.StringSlice("blacklist"))
	}
	if c.IsSet("no-checkpoint") {
		l.Set("pipeline.checkpointing", !c.Bool("no-checkpoint"))
	}
	setString(c, l, "checkpoint-path", "checkpoint.path")
	setString(c, l, "allow-list", "filter.allow_list_path")
	setInt(c, l, "batch-size", "pipeline.batch_size")
	setInt(c, l, "producers", "pipeline.producers")
	setInt(c, l, "writers", "pipeline.writers")
	if c.IsSet("no-compact") {
		l.Set("compaction.enabled", !c.Bool("no-compact"))
	}
	setBool(c, l, "archive", "archive.enabled")
	setString(c, l, "dead-letter", "dead_letter.sink")
	setString(c, l, "progress", "observability.progress.mode")
}

func compactOverrides(c *cli.Context, l *config.Loader) {
	setString(c, l, "level", "compaction.level")
	setInt(c, l, "workers", "compaction.workers")
}

func archiveOverrides(c *cli.Context, l *config.Loader) {
	setString(c, l, "backend", "archive.backend")
	setBool(c, l, "delete-local", "archive.delete_local")
	l.Set("archive.enabled", true)
}

func searchOverrides(c *cli.Context, l *config.Loader) {
	setInput(c, l)
	setBool(c, l, "recursive", "input.recursive")
	setString(c, l, "format", "search.format")
	setString(c, l, "compression", "search.compression")
	setBool(c, l, "comments", "search.comments")
	setString(c, l, "output-dir", "search.output_dir")
}

func checkpointOverrides(c *cli.Context, l *config.Loader) {
	setString(c, l, "checkpoint-path", "checkpoint.path")
}

// setInput uses the first positional argument as input.path.
func setInput(c *cli.Context, l *config.Loader) {
	if c.Args().Present() {
		l.Set("input.path", c.Args().First())
	}
}

func setString(c *cli.Context, l *config.Loader, flag, key string) {
	if c.IsSet(flag) {
		l.Set(key, c.String(flag))
	}
}

func setBool(c *cli.Context, l *config.Loader, flag, key string) {
	if c.IsSet(flag) {
		l.Set(key, c.Bool(flag))
	}
}

func setInt(c *cli.Context, l *config.Loader, flag, key string) {
	if c.IsSet(flag) {
		l.Set(key, c.Int(flag))
	}
}
