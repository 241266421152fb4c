package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"testing"

	"github.com/dreamware/adag/internal/config"
)

func TestFlagOverrides(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected map[string]any
	}{
		{
			name:     "no flags",
			args:     nil,
			expected: map[string]any{},
		},
		{
			name:     "job only",
			args:     []string{"--job_name=ps"},
			expected: map[string]any{"job_name": "ps"},
		},
		{
			name:     "job and index",
			args:     []string{"--job_name", "worker", "--task_index", "1"},
			expected: map[string]any{"job_name": "worker", "task_index": 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := flag.NewFlagSet("adag", flag.ContinueOnError)
			flags := registerFlags(fs)
			if err := fs.Parse(tt.args); err != nil {
				t.Fatalf("parse: %v", err)
			}

			got := flags.overrides(fs)
			if len(got) != len(tt.expected) {
				t.Fatalf("Expected %v, got %v", tt.expected, got)
			}
			for k, v := range tt.expected {
				if got[k] != v {
					t.Errorf("Expected %s=%v, got %v", k, v, got[k])
				}
			}
		})
	}
}

func TestConfigFlag(t *testing.T) {
	fs := flag.NewFlagSet("adag", flag.ContinueOnError)
	flags := registerFlags(fs)
	if err := fs.Parse([]string{"--config", "/etc/adag.yaml"}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if *flags.config != "/etc/adag.yaml" {
		t.Errorf("Expected config path, got %q", *flags.config)
	}
	if len(flags.overrides(fs)) != 0 {
		t.Error("config path must not become a config override")
	}
}

func TestRunRejectsUnknownRole(t *testing.T) {
	err := run(context.Background(), "", map[string]any{"job_name": "chief"})
	if !errors.Is(err, config.ErrUnknownRole) {
		t.Errorf("Expected ErrUnknownRole, got %v", err)
	}
}

func TestRunParameterServerUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := run(ctx, "", map[string]any{
		"job_name":   "ps",
		"cluster.ps": []string{"127.0.0.1:0"},
	})
	if err != nil {
		t.Errorf("Expected clean exit, got %v", err)
	}
}

func TestMustRunCallsLogFatal(t *testing.T) {
	oldLogFatal := logFatal
	defer func() { logFatal = oldLogFatal }()

	var called string
	logFatal = func(format string, args ...interface{}) {
		called = fmt.Sprintf(format, args...)
	}

	mustRun(context.Background(), "", map[string]any{"job_name": "worker", "window_size": 0})
	if called == "" {
		t.Error("Expected logFatal to be called for an invalid window")
	}
}
