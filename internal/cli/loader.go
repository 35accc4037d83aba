package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"cuelang.org/go/cue/token"

	"github.com/kwarch/ruse/internal/compiler"
	"github.com/kwarch/ruse/internal/ir"
)

// LoadMode controls how errors are handled during rule loading.
type LoadMode int

const (
	// LoadModeFailFast stops on the first error encountered.
	LoadModeFailFast LoadMode = iota
	// LoadModeCollectAll collects all errors before returning.
	LoadModeCollectAll
)

// LoadResult contains the rule specs loaded from a file or directory.
type LoadResult struct {
	Specs     []ir.RuleSpec
	FileCount int // Number of CUE files found
}

// LoadError represents an error that occurred during rule loading.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Error code constants - unified across all CLI commands.
const (
	ErrCodeGeneric       = "E001" // Generic/unknown error
	ErrCodeScanError     = "E002" // Directory scan error
	ErrCodeNoFiles       = "E003" // No CUE files found
	ErrCodeCompileFailed = "E004" // Rule compilation failed
	ErrCodeNotFound      = "E005" // Path not found
	ErrCodeReadFailed    = "E006" // File read error
	ErrCodeWriteFailed   = "E007" // File write error
)

// LoadRules loads rule specs from a CUE file or a directory of CUE
// files. If mode is LoadModeFailFast, returns on first error.
// If mode is LoadModeCollectAll, collects all errors.
func LoadRules(path string, mode LoadMode) (*LoadResult, []error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("rules path not found: %s", path)}}
	}
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing rules path: %v", err)}}
	}

	var files []string
	if info.IsDir() {
		files, err = FindCUEFiles(path)
		if err != nil {
			return nil, []error{&LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}}
		}
		if len(files) == 0 {
			return nil, []error{&LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", path)}}
		}
	} else {
		files = []string{path}
	}

	result := &LoadResult{FileCount: len(files)}
	var errs []error

	for _, file := range files {
		src, readErr := os.ReadFile(file)
		if readErr != nil {
			errs = append(errs, &LoadError{Code: ErrCodeReadFailed, Message: fmt.Sprintf("reading %s: %v", file, readErr)})
			if mode == LoadModeFailFast {
				return result, errs
			}
			continue
		}

		specs, compileErr := compiler.CompileRuleSet(string(src))
		if compileErr != nil {
			errs = append(errs, convertCompileError(compileErr, file))
			if mode == LoadModeFailFast {
				return result, errs
			}
			continue
		}
		result.Specs = append(result.Specs, specs...)
	}

	if len(result.Specs) == 0 && len(errs) == 0 {
		errs = append(errs, &LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("no rules found in %s", path)})
	}

	// Stable rule order across multi-file loads
	sort.SliceStable(result.Specs, func(i, j int) bool {
		return result.Specs[i].Name < result.Specs[j].Name
	})

	return result, errs
}

// FindCUEFiles walks the directory and returns all .cue file paths.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// convertCompileError converts a compiler error to a LoadError with position info.
func convertCompileError(err error, file string) *LoadError {
	var compileErr *compiler.CompileError
	if errors.As(err, &compileErr) {
		return &LoadError{
			Code:    ErrCodeCompileFailed,
			Message: fmt.Sprintf("%s: %s: %s", file, compileErr.Field, compileErr.Message),
			Pos:     compileErr.Pos,
		}
	}
	return &LoadError{
		Code:    ErrCodeCompileFailed,
		Message: fmt.Sprintf("%s: %v", file, err),
	}
}
