package cli

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/spf13/cobra"

	"github.com/roach88/blitter/internal/config"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Path   string            `json:"path"`
	Errors []ValidationIssue `json:"errors,omitempty"`
	Config *config.Config    `json:"config,omitempty"`
}

// ValidationIssue is a single problem found in a config file.
type ValidationIssue struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <config>",
		Short: "Validate a config file",
		Long: `Validate a blitter config file without starting the engine.

The document is checked against the embedded CUE schema (unknown fields,
types, duration syntax, bounds) and then semantically (positive timeouts,
non-overlapping memory banks).

Examples:
  blitter validate ./blitter.yaml
  blitter validate ./blitter.yaml --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}

	formatter.VerboseLog("Loading %s", path)

	cfg, err := config.Load(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			_ = formatter.Error(ErrCodeConfigNotFound, fmt.Sprintf("config file not found: %s", path), nil)
			return WrapExitError(ExitCommandError, ErrCodeConfigNotFound, err)
		}
		return outputValidationErrors(formatter, path, validationIssues(err))
	}

	formatter.VerboseLog("Engine: wait_timeout=%s max_contexts=%d max_regions=%d",
		cfg.Engine.WaitTimeout, cfg.Engine.MaxContexts, cfg.Engine.MaxRegions)
	formatter.VerboseLog("Memory: %d bank(s)", len(cfg.Memory))

	if formatter.Format == "json" {
		return formatter.Success(ValidationResult{Valid: true, Path: path, Config: cfg})
	}

	fmt.Fprintf(formatter.Writer, "✓ Config valid: %s\n", path)
	return nil
}

// validationIssues flattens a load error into one issue per problem.
func validationIssues(err error) []ValidationIssue {
	var schemaErr *config.SchemaError
	if errors.As(err, &schemaErr) {
		issues := make([]ValidationIssue, 0, len(schemaErr.Problems))
		for _, p := range schemaErr.Problems {
			issues = append(issues, ValidationIssue{Code: ErrCodeConfigInvalid, Message: p})
		}
		return issues
	}
	return []ValidationIssue{{Code: ErrCodeConfigInvalid, Message: err.Error()}}
}

// outputValidationErrors outputs every validation issue.
func outputValidationErrors(formatter *OutputFormatter, path string, issues []ValidationIssue) error {
	// Validation failures = exit code 1 (test/validation failure)
	exitErr := NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(issues)))

	if formatter.Format == "json" {
		response := CLIResponse{
			Status: "error",
			Data: ValidationResult{
				Valid:  false,
				Path:   path,
				Errors: issues,
			},
			Error: &CLIError{
				Code:    issues[0].Code,
				Message: issues[0].Message,
			},
		}
		if err := writeJSON(formatter.Writer, response); err != nil {
			return err
		}
		return exitErr
	}

	fmt.Fprintf(formatter.Writer, "✗ Validation failed: %s\n", path)
	fmt.Fprintln(formatter.Writer)
	for _, issue := range issues {
		fmt.Fprintf(formatter.Writer, "  %s: %s\n", issue.Code, issue.Message)
	}
	return exitErr
}
