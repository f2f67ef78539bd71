package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/mailchimp/Firebase/internal/config"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid       bool                `json:"valid"`
	Features    []string            `json:"features"`
	Backfill    bool                `json:"backfill"`
	Diagnostics []config.Diagnostic `json:"diagnostics,omitempty"`
	InitError   string              `json:"init_error,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the extension configuration",
		Long: `Normalize the configuration the way serve would and report every
diagnostic: malformed JSON settings, schema violations, missing or
disabled watch paths, unparsable selectors and a malformed API key.

Exit codes:
  0 - Configuration is valid
  1 - One or more diagnostics
  2 - The config file could not be read`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, configPath, cmd)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to a YAML config file")
	return cmd
}

func runValidate(opts *RootOptions, configPath string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())

	raw, err := config.LoadRaw(configPath)
	if err != nil {
		_ = formatter.Error(ErrCodeConfig, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}

	result := validateRaw(raw, formatter)
	if formatter.Format == "json" {
		resp := CLIResponse{Status: "ok", Data: result}
		if !result.Valid {
			resp.Status = "error"
			resp.Error = &CLIError{Code: ErrCodeConfig, Message: "configuration is invalid"}
		}
		if err := formatter.JSON(resp); err != nil {
			return err
		}
	} else {
		printValidation(formatter.Writer, result)
	}

	if !result.Valid {
		return NewExitError(ExitFailure, "configuration is invalid")
	}
	return nil
}

// validateRaw normalizes raw with a discarding logger; diagnostics are
// reported by the command, not logged.
func validateRaw(raw config.Raw, formatter *OutputFormatter) ValidationResult {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg, diags := config.Normalize(raw, logger)

	result := ValidationResult{
		Features:    []string{},
		Backfill:    cfg.Backfill != nil,
		Diagnostics: diags,
	}
	for _, f := range []struct {
		name string
		on   bool
	}{
		{string(config.FeatureMemberTags), cfg.MemberTags != nil},
		{string(config.FeatureMergeFields), cfg.MergeFields != nil},
		{string(config.FeatureMemberEvents), cfg.MemberEvents != nil},
	} {
		if f.on {
			formatter.VerboseLog("feature enabled: %s", f.name)
			result.Features = append(result.Features, f.name)
		}
	}

	if _, err := config.ParseCredentials(raw.APIKey); err != nil {
		result.InitError = err.Error()
	}
	result.Valid = len(diags) == 0 && result.InitError == ""
	return result
}

func printValidation(w io.Writer, r ValidationResult) {
	if r.InitError != "" {
		fmt.Fprintf(w, "✗ %s\n", r.InitError)
	}
	for _, d := range r.Diagnostics {
		fmt.Fprintf(w, "✗ %s [%s]: %s\n", d.Key, d.Code, d.Message)
		for _, e := range d.Errors {
			fmt.Fprintf(w, "    %s\n", e)
		}
	}
	if len(r.Features) == 0 {
		fmt.Fprintln(w, "No features enabled.")
	} else {
		fmt.Fprintf(w, "Features enabled: %v\n", r.Features)
	}
	if r.Valid {
		fmt.Fprintln(w, "✓ Configuration is valid")
	}
}
