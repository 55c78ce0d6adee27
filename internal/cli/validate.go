package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/inflight/internal/config"
)

// Validation error codes.
const (
	ErrCodeConfigRead    = "E_CONFIG_READ"
	ErrCodeConfigInvalid = "E_CONFIG_INVALID"
)

// ValidationError is one problem found in a config file.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid    bool              `json:"valid"`
	Errors   []ValidationError `json:"errors,omitempty"`
	Settings *ConfigSummary    `json:"settings,omitempty"`
}

// ConfigSummary is the effective configuration of a valid file.
type ConfigSummary struct {
	Database     string `json:"database"`
	UserID       int64  `json:"user_id"`
	LogLevel     string `json:"log_level"`
	LogFormat    string `json:"log_format"`
	RPCEndpoint  string `json:"rpc_endpoint"`
	PushEndpoint string `json:"push_endpoint"`
	MaxAttempts  int    `json:"max_attempts"`
}

func (r ValidationResult) WriteText(w io.Writer) {
	fmt.Fprintln(w, "✓ Config valid")
	if s := r.Settings; s != nil {
		fmt.Fprintf(w, "  database:      %s\n", s.Database)
		fmt.Fprintf(w, "  user:          %d\n", s.UserID)
		fmt.Fprintf(w, "  log:           %s (%s)\n", s.LogLevel, s.LogFormat)
		fmt.Fprintf(w, "  rpc endpoint:  %s\n", s.RPCEndpoint)
		fmt.Fprintf(w, "  push endpoint: %s\n", s.PushEndpoint)
		fmt.Fprintf(w, "  max attempts:  %d\n", s.MaxAttempts)
	}
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <config.cue>",
		Short: "Check a config file against the schema",
		Long: `Unify a CUE config file with the built-in schema and report the first
problem with its position, or the effective settings when it is valid.

Exit codes:
  0 - Config valid
  1 - Config invalid
  2 - Command error (file not readable)`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	formatter.VerboseLog("Validating %s", path)

	cfg, err := config.Load(path)
	if err == nil {
		return formatter.Success(ValidationResult{Valid: true, Settings: summarize(cfg)})
	}

	var cfgErr *config.Error
	if !errors.As(err, &cfgErr) {
		_ = formatter.Error(ErrCodeConfigRead, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to read config", err)
	}

	return outputValidationErrors(formatter, []ValidationError{toValidationError(cfgErr)})
}

func summarize(cfg config.Config) *ConfigSummary {
	return &ConfigSummary{
		Database:     cfg.Database,
		UserID:       cfg.UserID,
		LogLevel:     cfg.Log.Level.String(),
		LogFormat:    cfg.Log.Format,
		RPCEndpoint:  cfg.Realtime.RPCEndpoint,
		PushEndpoint: cfg.Realtime.PushEndpoint,
		MaxAttempts:  cfg.Retry.Default.MaxAttempts,
	}
}

func toValidationError(e *config.Error) ValidationError {
	v := ValidationError{
		Field:   e.Field,
		Message: e.Message,
		Code:    ErrCodeConfigInvalid,
	}
	if e.Pos.IsValid() {
		v.File = e.Pos.Filename()
		v.Line = e.Pos.Line()
		v.Column = e.Pos.Column()
	}
	return v
}

// outputValidationErrors outputs multiple validation errors.
func outputValidationErrors(formatter *OutputFormatter, errs []ValidationError) error {
	if formatter.Format == "json" {
		response := CLIResponse{
			Status: "error",
			Data:   ValidationResult{Valid: false, Errors: errs},
			Error: &CLIError{
				Code:    errs[0].Code,
				Message: errs[0].Message,
			},
		}

		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(response); err != nil {
			return err
		}
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)

	for _, err := range errs {
		if err.Line > 0 {
			fmt.Fprintf(formatter.Writer, "%s:%d:%d\n", err.File, err.Line, err.Column)
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s: %s\n\n", err.Code, err.Field, err.Message)
	}

	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
}
