package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/syncmap/internal/template"
)

// TemplateInfo describes one compiled template.
type TemplateInfo struct {
	Plural   string   `json:"plural"`
	Offline  bool     `json:"offline"`
	Remote   bool     `json:"remote"`
	Defaults []string `json:"defaults,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid     bool           `json:"valid"`
	Files     int            `json:"files"`
	Templates []TemplateInfo `json:"templates,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <templates-dir>",
		Short: "Compile CUE templates and report errors",
		Long: `Compile every template declared in a CUE package.

Checks plural names, template options and default values. Defaults must be
concrete and must not contain floats.

Examples:
  syncmap validate ./templates
  syncmap validate ./templates --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
}

func runValidate(opts *RootOptions, dir string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	res, err := template.LoadDir(dir)
	if err != nil {
		var le *template.LoadError
		if !errors.As(err, &le) {
			le = &template.LoadError{Code: template.ErrCodeGeneric, Message: err.Error()}
		}
		return outputValidateError(formatter, le)
	}
	formatter.VerboseLog("Found %d CUE file(s) in %s", res.FileCount, dir)

	result := ValidationResult{Valid: true, Files: res.FileCount}
	for _, tpl := range res.Templates {
		formatter.VerboseLog("Compiled template: %s", tpl.Plural())
		result.Templates = append(result.Templates, TemplateInfo{
			Plural:   tpl.Plural(),
			Offline:  tpl.Offline(),
			Remote:   tpl.Remote(),
			Defaults: tpl.Defaults().SortedKeys(),
		})
	}

	if formatter.JSON() {
		return formatter.Success(result)
	}
	w := formatter.Writer
	fmt.Fprintf(w, "✓ %d template(s) valid\n", len(result.Templates))
	for _, info := range result.Templates {
		fmt.Fprintf(w, "  %s (offline=%t remote=%t)\n", info.Plural, info.Offline, info.Remote)
	}
	return nil
}

// outputValidateError reports a load or compile failure. Missing paths are
// command errors; broken templates are validation failures.
func outputValidateError(formatter *OutputFormatter, le *template.LoadError) error {
	code := ExitFailure
	switch le.Code {
	case template.ErrCodeNotFound, template.ErrCodeScanError, template.ErrCodeNoFiles:
		code = ExitCommandError
	}

	var line int
	if le.Pos.IsValid() {
		line = le.Pos.Line()
	}
	if formatter.JSON() {
		_ = formatter.Failure(le.Code, le.Message, ValidationResult{Valid: false})
	} else {
		fmt.Fprintln(formatter.Writer, "✗ Validation failed")
		if line > 0 {
			fmt.Fprintf(formatter.Writer, "line %d\n", line)
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s\n", le.Code, le.Message)
	}
	return NewExitError(code, fmt.Sprintf("%s: %s", le.Code, le.Message))
}
