// Package main implements the adag binary, which runs one task of an
// asynchronous distributed gradient descent cluster.
//
// Every process is started with the same cluster table and picks its role
// from --job_name and --task_index:
//
//	┌──────────────┐  push / pull   ┌──────────────┐
//	│  worker[0]   │ ─────────────▶ │    ps[0]     │
//	│  (chief)     │                │  g/a  g/b    │
//	├──────────────┤                │  global step │
//	│  worker[1]   │ ─────────────▶ │              │
//	└──────────────┘                └──────────────┘
//
// Parameter servers serve their shard of the global parameters until
// interrupted. Workers run T local steps, push the averaged gradients, pull
// the global values and repeat until the global step reaches the ceiling.
//
// Configuration:
//   - --config: optional config file (YAML, JSON or TOML)
//   - --job_name: ps or worker
//   - --task_index: index of the task within its job (default 0)
//   - ADAG_* environment variables override file values, flags override both
//   - glog flags (-v, -logtostderr, ...) control logging
//
// Example usage:
//
//	adag --job_name=ps --task_index=0 -logtostderr
//	adag --job_name=worker --task_index=0 -logtostderr
//	adag --job_name=worker --task_index=1 -logtostderr -v=2
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/golang/glog"

	"github.com/dreamware/adag/internal/config"
	"github.com/dreamware/adag/internal/trainer"
)

// logFatal is a variable to allow mocking glog.Exitf in tests.
var logFatal = glog.Exitf

type cliFlags struct {
	config    *string
	jobName   *string
	taskIndex *int
}

func registerFlags(fs *flag.FlagSet) *cliFlags {
	return &cliFlags{
		config:    fs.String("config", "", "path to a config file"),
		jobName:   fs.String("job_name", "", "one of 'ps', 'worker'"),
		taskIndex: fs.Int("task_index", 0, "index of task within the job"),
	}
}

// overrides returns the flags given explicitly on the command line, keyed
// like the config file. Unset flags leave file and env values alone.
func (f *cliFlags) overrides(fs *flag.FlagSet) map[string]any {
	out := make(map[string]any)
	fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "job_name":
			out["job_name"] = *f.jobName
		case "task_index":
			out["task_index"] = *f.taskIndex
		}
	})
	return out
}

// run loads the configuration and runs the selected role until it returns
// or ctx is cancelled.
func run(ctx context.Context, file string, overrides map[string]any) error {
	cfg, err := config.Load(file, overrides)
	if err != nil {
		return err
	}
	role, err := trainer.NewRole(cfg, trainer.Deps{})
	if err != nil {
		return err
	}
	glog.Infof("starting %s (window %d, ceiling %d)", cfg.Task(), cfg.WindowSize, cfg.MaxGlobalStep)
	if err := role.Run(ctx); err != nil {
		return err
	}
	glog.Infof("%s exited", cfg.Task())
	return nil
}

func mustRun(ctx context.Context, file string, overrides map[string]any) {
	if err := run(ctx, file, overrides); err != nil {
		logFatal("adag: %v", err)
	}
}

func main() {
	flags := registerFlags(flag.CommandLine)
	flag.Parse()
	defer glog.Flush()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mustRun(ctx, *flags.config, flags.overrides(flag.CommandLine))
}
