// Package invoker runs capabilities as external processes. Parameters become
// named flags; standard output is the result.
package invoker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	hive "github.com/ZanzyTHEbar/dragonscale-hive"
	"github.com/kballard/go-shellquote"
)

const (
	maxStderr = 2000
	waitDelay = time.Second
)

// Subprocess invokes "<interpreter> <binDir>/<id><ext> --flag value ...".
type Subprocess struct {
	binDir      string
	interpreter []string
	ext         string
	env         []string
	logger      *slog.Logger
}

// Option configures a Subprocess.
type Option func(*Subprocess) error

// WithInterpreter runs scripts through a command line such as "python3" or
// "uv run python", and appends ext to the capability id.
func WithInterpreter(command, ext string) Option {
	return func(s *Subprocess) error {
		words, err := shellquote.Split(command)
		if err != nil {
			return fmt.Errorf("invalid interpreter %q: %w", command, err)
		}
		s.interpreter = words
		s.ext = ext
		return nil
	}
}

// WithEnv adds KEY=value pairs to the child environment.
func WithEnv(env ...string) Option {
	return func(s *Subprocess) error {
		s.env = append(s.env, env...)
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Subprocess) error {
		s.logger = l
		return nil
	}
}

// NewSubprocess creates an invoker for capabilities installed in binDir.
func NewSubprocess(binDir string, opts ...Option) (*Subprocess, error) {
	if binDir == "" {
		return nil, hive.NewConfigurationError("capability bin dir is required", nil)
	}
	s := &Subprocess{binDir: binDir}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, hive.NewConfigurationError("invalid subprocess option", err)
		}
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return s, nil
}

// Has reports whether the capability's executable exists.
func (s *Subprocess) Has(id string) bool {
	_, err := os.Stat(s.path(id))
	return err == nil
}

func (s *Subprocess) path(id string) string {
	return filepath.Join(s.binDir, id+s.ext)
}

// Command returns the program and arguments for one invocation.
func (s *Subprocess) Command(id string, params map[string]any) (string, []string) {
	args := append([]string(nil), s.interpreter...)
	args = append(args, s.path(id))
	args = append(args, BuildArgs(params)...)
	return args[0], args[1:]
}

// Invoke implements hive.Invoker. A non-zero exit is an error unless stderr
// shows a missing required argument, in which case the call is retried once
// with only a best-guess "query".
func (s *Subprocess) Invoke(ctx context.Context, c hive.Capability, params map[string]any) (any, error) {
	out, stderr, err := s.run(ctx, c.ID, params)
	if err == nil {
		return ParseOutput(out), nil
	}
	if ctx.Err() != nil {
		return nil, hive.NewTimeoutError("invoke", fmt.Errorf("%s: %w", c.ID, ctx.Err()))
	}

	if MissingArgument(stderr) {
		if q, ok := BestGuessQuery(params); ok {
			s.logger.Info("retrying capability with query only", "capability", c.ID, "query", q)
			out, stderr, err = s.run(ctx, c.ID, map[string]any{"query": q})
			if err == nil {
				return ParseOutput(out), nil
			}
			if ctx.Err() != nil {
				return nil, hive.NewTimeoutError("invoke", fmt.Errorf("%s: %w", c.ID, ctx.Err()))
			}
		}
	}

	cause := fmt.Errorf("%w: %s", err, tail(stderr))
	if isRateLimited(stderr) {
		return nil, hive.NewRateLimitedError("invoke", c.ID, cause)
	}
	return nil, hive.NewCapabilityExecutionError("invoke", c.ID, cause)
}

func (s *Subprocess) run(ctx context.Context, id string, params map[string]any) ([]byte, string, error) {
	name, args := s.Command(id, params)
	cmd := exec.CommandContext(ctx, name, args...)
	killGroupOnCancel(cmd)
	// Bounds the wait for pipes still held open by orphaned descendants.
	cmd.WaitDelay = waitDelay
	if len(s.env) > 0 {
		cmd.Env = append(os.Environ(), s.env...)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	s.logger.Debug("running capability process", "capability", id, "args", args)
	err := cmd.Run()
	return stdout.Bytes(), stderr.String(), err
}

// BuildArgs turns parameters into flags in key order. Lists repeat the flag
// once per element; nested objects and nils are dropped.
func BuildArgs(params map[string]any) []string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var args []string
	for _, k := range keys {
		flag := "--" + k
		switch v := params[k].(type) {
		case nil, map[string]any:
		case []any:
			for _, item := range v {
				if s, ok := scalar(item); ok {
					args = append(args, flag, s)
				}
			}
		case []string:
			for _, item := range v {
				args = append(args, flag, item)
			}
		default:
			if s, ok := scalar(v); ok {
				args = append(args, flag, s)
			}
		}
	}
	return args
}

func scalar(v any) (string, bool) {
	switch x := v.(type) {
	case nil, map[string]any, []any:
		return "", false
	case string:
		return x, true
	case float64:
		if x == float64(int64(x)) {
			return fmt.Sprintf("%d", int64(x)), true
		}
		return fmt.Sprint(x), true
	case json.Number:
		return x.String(), true
	}
	return fmt.Sprint(v), true
}

// ParseOutput returns stdout decoded as one JSON value, or {"text": raw}.
func ParseOutput(stdout []byte) any {
	trimmed := bytes.TrimSpace(stdout)
	if len(trimmed) > 0 {
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		var v any
		if err := dec.Decode(&v); err == nil {
			if _, err := dec.Token(); errors.Is(err, io.EOF) {
				return v
			}
		}
	}
	return map[string]any{"text": string(stdout)}
}

var missingArgPattern = regexp.MustCompile(`(?i)(the following arguments are required|missing required (argument|option|flag)|required (argument|option|flag)s? .*(missing|not provided)|error: argument --?\w+ is required)`)

// MissingArgument reports whether stderr shows a missing required argument.
func MissingArgument(stderr string) bool {
	return missingArgPattern.MatchString(stderr)
}

var queryKeys = []string{"query", "q", "term", "search", "keyword", "gene", "protein", "name", "id"}

// BestGuessQuery picks one string to retry with: a well-known key first,
// then the first string parameter in key order.
func BestGuessQuery(params map[string]any) (string, bool) {
	for _, k := range queryKeys {
		if s, ok := params[k].(string); ok && strings.TrimSpace(s) != "" {
			return s, true
		}
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if s, ok := params[k].(string); ok && strings.TrimSpace(s) != "" {
			return s, true
		}
	}
	return "", false
}

func isRateLimited(stderr string) bool {
	s := strings.ToLower(stderr)
	return strings.Contains(s, "429") || strings.Contains(s, "rate limit") || strings.Contains(s, "too many requests")
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxStderr {
		return "..." + s[len(s)-maxStderr:]
	}
	return s
}
