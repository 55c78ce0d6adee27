// Package config loads the inflight configuration.
//
// Configuration is written in CUE and unified with an embedded schema
// (schema.cue) that supplies every default, so an empty file is a valid
// configuration:
//
//	database: "chat.db"
//	user_id:  42
//	realtime: rpc_endpoint: "tcp://chat.example:5555"
//	retry: limits: add_reaction: max_attempts: 3
package config

import (
	_ "embed"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/inflight/internal/realtime"
	"github.com/roach88/inflight/internal/txn"
)

//go:embed schema.cue
var schemaSource []byte

// Config is the decoded configuration.
type Config struct {
	Database string
	UserID   int64
	Log      Log
	Realtime Realtime
	Retry    txn.RetryPolicy
}

// Log selects the slog handler.
type Log struct {
	Level  slog.Level
	Format string // "text" | "json"
}

// Realtime configures the transport.
type Realtime struct {
	RPCEndpoint  string
	PushEndpoint string
	PollInterval time.Duration
	Breaker      realtime.BreakerSettings
}

// Error is a configuration error, positioned in the source when CUE knows
// where it came from.
type Error struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *Error) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Default returns the schema defaults.
func Default() Config {
	cfg, err := Parse(nil, "default.cue")
	if err != nil {
		// The embedded schema is fixed at build time.
		panic(fmt.Sprintf("config: embedded defaults invalid: %v", err))
	}
	return cfg
}

// Load reads and parses the file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(data, path)
}

// Parse unifies CUE source with the schema and decodes the result. filename
// is only used in error positions.
func Parse(data []byte, filename string) (Config, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileBytes(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return Config{}, formatCUEError(err)
	}

	user := ctx.CompileBytes(data, cue.Filename(filename))
	if err := user.Err(); err != nil {
		return Config{}, formatCUEError(err)
	}

	v := schema.FillPath(cue.ParsePath("config"), user).LookupPath(cue.ParsePath("config"))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return Config{}, formatCUEError(err)
	}

	var raw rawConfig
	if err := v.Decode(&raw); err != nil {
		return Config{}, formatCUEError(err)
	}
	return raw.build()
}

type rawLimits struct {
	MaxAttempts int    `json:"max_attempts"`
	MaxAge      string `json:"max_age"`
}

type rawConfig struct {
	Database string `json:"database"`
	UserID   int64  `json:"user_id"`
	Log      struct {
		Level  string `json:"level"`
		Format string `json:"format"`
	} `json:"log"`
	Realtime struct {
		RPCEndpoint  string `json:"rpc_endpoint"`
		PushEndpoint string `json:"push_endpoint"`
		PollInterval string `json:"poll_interval"`
		Breaker      struct {
			MaxRequests         uint32 `json:"max_requests"`
			Interval            string `json:"interval"`
			Timeout             string `json:"timeout"`
			ConsecutiveFailures uint32 `json:"consecutive_failures"`
		} `json:"breaker"`
	} `json:"realtime"`
	Retry struct {
		Base           string               `json:"base"`
		Max            string               `json:"max"`
		ExecuteTimeout string               `json:"execute_timeout"`
		Default        rawLimits            `json:"default"`
		Limits         map[string]rawLimits `json:"limits"`
	} `json:"retry"`
}

// durations collects parse errors so build can report them by field.
type durations struct {
	err error
}

func (d *durations) parse(field, s string) time.Duration {
	if d.err != nil {
		return 0
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		d.err = &Error{Field: field, Message: err.Error()}
	}
	return v
}

func (r rawConfig) build() (Config, error) {
	var d durations

	cfg := Config{
		Database: r.Database,
		UserID:   r.UserID,
		Log:      Log{Format: r.Log.Format},
		Realtime: Realtime{
			RPCEndpoint:  r.Realtime.RPCEndpoint,
			PushEndpoint: r.Realtime.PushEndpoint,
			PollInterval: d.parse("realtime.poll_interval", r.Realtime.PollInterval),
			Breaker: realtime.BreakerSettings{
				MaxRequests:         r.Realtime.Breaker.MaxRequests,
				Interval:            d.parse("realtime.breaker.interval", r.Realtime.Breaker.Interval),
				Timeout:             d.parse("realtime.breaker.timeout", r.Realtime.Breaker.Timeout),
				ConsecutiveFailures: r.Realtime.Breaker.ConsecutiveFailures,
			},
		},
		Retry: txn.RetryPolicy{
			Base:           d.parse("retry.base", r.Retry.Base),
			Max:            d.parse("retry.max", r.Retry.Max),
			ExecuteTimeout: d.parse("retry.execute_timeout", r.Retry.ExecuteTimeout),
			Default: txn.Limits{
				MaxAttempts: r.Retry.Default.MaxAttempts,
				MaxAge:      d.parse("retry.default.max_age", r.Retry.Default.MaxAge),
			},
			PerKind: make(map[txn.Kind]txn.Limits, len(r.Retry.Limits)),
		},
	}
	for kind, l := range r.Retry.Limits {
		cfg.Retry.PerKind[txn.Kind(kind)] = txn.Limits{
			MaxAttempts: l.MaxAttempts,
			MaxAge:      d.parse("retry.limits."+kind+".max_age", l.MaxAge),
		}
	}
	if d.err != nil {
		return Config{}, d.err
	}

	if err := cfg.Log.Level.UnmarshalText([]byte(r.Log.Level)); err != nil {
		return Config{}, &Error{Field: "log.level", Message: err.Error()}
	}
	return cfg, nil
}

// NewLogger builds the slog logger the configuration asks for. verbose
// forces debug level.
func (c Config) NewLogger(w io.Writer, verbose bool) *slog.Logger {
	level := c.Log.Level
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	first := errs[0]
	field := "config"
	if path := first.Path(); len(path) > 0 {
		field = joinPath(path)
	}
	msg, args := first.Msg()
	e := &Error{Field: field, Message: fmt.Sprintf(msg, args...)}
	if positions := errors.Positions(first); len(positions) > 0 {
		e.Pos = positions[0]
	}
	return e
}

func joinPath(path []string) string {
	out := ""
	for i, p := range path {
		if i == 0 && p == "config" {
			continue
		}
		if out != "" {
			out += "."
		}
		out += p
	}
	if out == "" {
		return "config"
	}
	return out
}
