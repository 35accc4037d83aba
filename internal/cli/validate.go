package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kwarch/ruse/internal/compiler"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid    bool                       `json:"valid"`
	Rules    int                        `json:"rules"`
	Errors   []compiler.ValidationError `json:"errors,omitempty"`
	Warnings []compiler.CycleWarning    `json:"warnings,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <rules-path>",
		Short: "Validate rule files without running them",
		Long: `Validate CUE rule files without building a session.

Compiles every rule, runs semantic validation (bindings, join references,
operators, production templates), and reports potential feedback loops
detected by static produces/consumes analysis. Loop reports are warnings,
not errors: opaque consequences make the analysis conservative.

Exit codes:
  0 - All rules valid (warnings allowed)
  1 - Compile or validation errors
  2 - Command error (path not found, etc.)`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, rulesPath string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}

	loadResult, loadErrors := LoadRules(rulesPath, LoadModeCollectAll)

	// Path-level errors (not found, no files) are command errors.
	if loadResult == nil && len(loadErrors) > 0 {
		var loadErr *LoadError
		if errors.As(loadErrors[0], &loadErr) {
			_ = formatter.Error(loadErr.Code, loadErr.Message, nil)
			return NewExitError(ExitCommandError, loadErr.Error())
		}
		_ = formatter.Error(ErrCodeGeneric, loadErrors[0].Error(), nil)
		return NewExitError(ExitCommandError, loadErrors[0].Error())
	}

	formatter.VerboseLog("Found %d CUE file(s) in %s", loadResult.FileCount, rulesPath)

	// Per-file compile errors become validation errors so one bad file
	// does not hide problems in the others.
	var validationErrors []compiler.ValidationError
	for _, err := range loadErrors {
		var loadErr *LoadError
		if errors.As(err, &loadErr) {
			validationErrors = append(validationErrors, compiler.ValidationError{
				Field:   "compile",
				Message: loadErr.Message,
				Code:    loadErr.Code,
			})
		} else {
			validationErrors = append(validationErrors, compiler.ValidationError{
				Field:   "compile",
				Message: err.Error(),
				Code:    ErrCodeGeneric,
			})
		}
	}

	for _, spec := range loadResult.Specs {
		formatter.VerboseLog("Validating rule: %s", spec.Name)
	}
	validationErrors = append(validationErrors, compiler.Validate(loadResult.Specs)...)

	warnings := compiler.AnalyzeCycles(loadResult.Specs)

	result := ValidationResult{
		Valid:    len(validationErrors) == 0,
		Rules:    len(loadResult.Specs),
		Errors:   validationErrors,
		Warnings: warnings,
	}

	if !result.Valid {
		return outputValidationErrors(formatter, result)
	}
	return outputValidateSuccess(formatter, result)
}

// outputValidateSuccess outputs successful validation results.
func outputValidateSuccess(formatter *OutputFormatter, result ValidationResult) error {
	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	fmt.Fprintf(formatter.Writer, "✓ %d rule(s) valid\n", result.Rules)
	for _, warning := range result.Warnings {
		fmt.Fprintf(formatter.Writer, "⚠ %s\n", warning.Message)
	}
	return nil
}

// outputValidationErrors outputs validation failures and sets the exit code.
func outputValidationErrors(formatter *OutputFormatter, result ValidationResult) error {
	if formatter.Format == "json" {
		response := CLIResponse{
			Status: "error",
			Data:   result,
			Error: &CLIError{
				Code:    result.Errors[0].Code,
				Message: result.Errors[0].Message,
			},
		}

		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(response); err != nil {
			return err
		}

		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(result.Errors)))
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)

	for _, err := range result.Errors {
		fmt.Fprintf(formatter.Writer, "  %s\n", err.Error())
	}
	for _, warning := range result.Warnings {
		fmt.Fprintf(formatter.Writer, "  ⚠ %s\n", warning.Message)
	}

	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(result.Errors)))
}
