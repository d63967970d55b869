package template

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/roach88/syncmap/internal/syncmap"
)

// Error codes shared with the CLI.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No CUE files found
	ErrCodeLoadFailed  = "E004" // CUE load failed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeBuildFailed = "E006" // CUE build failed

	ErrCodeInvalidPlural   = "E101" // Bad plural label
	ErrCodeUnknownField    = "E102" // Unknown template field
	ErrCodeInvalidType     = "E103" // Float or unsupported default value
	ErrCodeInvalidDefaults = "E104" // defaults is not a concrete struct
	ErrCodeInvalidOption   = "E105" // offline/remote/idPattern malformed
	ErrCodeNoTemplates     = "E106" // Nothing declared under template
)

// LoadResult holds the templates compiled from one file or directory.
type LoadResult struct {
	Templates []*syncmap.Template
	CUEValue  cue.Value
	FileCount int
}

// Lookup returns the template for plural.
func (r *LoadResult) Lookup(plural string) (*syncmap.Template, bool) {
	i := slices.IndexFunc(r.Templates, func(t *syncmap.Template) bool { return t.Plural() == plural })
	if i < 0 {
		return nil, false
	}
	return r.Templates[i], true
}

// LoadError is a template loading failure with an error code.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// LoadFile compiles the templates declared in a single CUE file.
func LoadFile(path string) (*LoadResult, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("template file not found: %s", path)}
	}
	if err != nil {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("reading %s: %v", path, err)}
	}

	v := cuecontext.New().CompileBytes(data, cue.Filename(path))
	if err := v.Err(); err != nil {
		return nil, &LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}
	}
	return compileResult(v, 1)
}

// LoadDir compiles the templates of the CUE package in dir.
func LoadDir(dir string) (*LoadResult, error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("templates directory not found: %s", dir)}
	}
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing templates directory: %v", err)}
	}
	if !info.IsDir() {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}
	}

	files, err := FindCUEFiles(dir)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}
	}
	if len(files) == 0 {
		return nil, &LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}
	}

	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}
	}

	v := cuecontext.New().BuildInstance(inst)
	if err := v.Err(); err != nil {
		return nil, &LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}
	}
	return compileResult(v, len(files))
}

func compileResult(v cue.Value, files int) (*LoadResult, error) {
	templates, err := CompileTemplates(v)
	if err != nil {
		return nil, convertCompileError(err)
	}
	if len(templates) == 0 {
		return nil, &LoadError{Code: ErrCodeNoTemplates, Message: "no templates declared"}
	}
	return &LoadResult{Templates: templates, CUEValue: v, FileCount: files}, nil
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

func convertCompileError(err error) *LoadError {
	var compileErr *CompileError
	if errors.As(err, &compileErr) {
		return &LoadError{
			Code:    fieldErrorCode(compileErr.Field),
			Message: compileErr.Message,
			Pos:     compileErr.Pos,
		}
	}
	return &LoadError{Code: ErrCodeGeneric, Message: err.Error()}
}

func fieldErrorCode(field string) string {
	switch field {
	case "plural":
		return ErrCodeInvalidPlural
	case "type":
		return ErrCodeInvalidType
	case "defaults":
		return ErrCodeInvalidDefaults
	case "offline", "remote", "idPattern":
		return ErrCodeInvalidOption
	case "cue":
		return ErrCodeBuildFailed
	default:
		return ErrCodeUnknownField
	}
}
