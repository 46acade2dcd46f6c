// Package executor runs external commands with output capture, stdin
// injection, environment overrides, and retry support. It backs the docker
// interactions in the ecr package.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Result holds the captured output of a finished command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner executes a fixed program with per-call arguments.
type Runner struct {
	program string
}

// runConfig holds per-call settings assembled from Options.
type runConfig struct {
	stdin      string
	env        map[string]string
	workdir    string
	maxRetries int
	retryDelay time.Duration
}

// Option configures a single Run call.
type Option func(*runConfig)

// WithStdin feeds the given string to the command's standard input.
func WithStdin(input string) Option {
	return func(c *runConfig) {
		c.stdin = input
	}
}

// WithEnv appends environment variables to the inherited environment.
func WithEnv(env map[string]string) Option {
	return func(c *runConfig) {
		if c.env == nil {
			c.env = make(map[string]string)
		}
		for k, v := range env {
			c.env[k] = v
		}
	}
}

// WithWorkdir sets the working directory for the command.
func WithWorkdir(dir string) Option {
	return func(c *runConfig) {
		c.workdir = dir
	}
}

// WithRetry retries a failing command up to maxRetries additional times,
// waiting delay between attempts.
func WithRetry(maxRetries int, delay time.Duration) Option {
	return func(c *runConfig) {
		c.maxRetries = maxRetries
		c.retryDelay = delay
	}
}

// New creates a Runner for the given program.
func New(program string) *Runner {
	return &Runner{program: program}
}

// Run executes the program with the given arguments and returns its
// captured output. A non-zero exit is returned as an error alongside the
// Result so callers can inspect stderr.
func (r *Runner) Run(ctx context.Context, args []string, opts ...Option) (*Result, error) {
	cfg := &runConfig{retryDelay: time.Second}
	for _, opt := range opts {
		opt(cfg)
	}

	var result *Result
	var err error
	for attempt := 0; ; attempt++ {
		result, err = r.runOnce(ctx, args, cfg)
		if err == nil || attempt >= cfg.maxRetries {
			return result, err
		}

		select {
		case <-ctx.Done():
			return result, fmt.Errorf("executor: cancelled during retry: %w", ctx.Err())
		case <-time.After(cfg.retryDelay):
		}
	}
}

func (r *Runner) runOnce(ctx context.Context, args []string, cfg *runConfig) (*Result, error) {
	cmd := exec.CommandContext(ctx, r.program, args...)

	if cfg.workdir != "" {
		cmd.Dir = cfg.workdir
	}
	if len(cfg.env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range cfg.env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}
	if cfg.stdin != "" {
		cmd.Stdin = strings.NewReader(cfg.stdin)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: exitCode(err),
	}
	if err != nil {
		return result, fmt.Errorf("executor: %s %s: %w", r.program, strings.Join(args, " "), err)
	}
	return result, nil
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
