package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/ammar0144/persist4go/pkg/cache"
	"github.com/ammar0144/persist4go/pkg/config"
	"github.com/ammar0144/persist4go/pkg/query"
)

const (
	ExitCodeSuccess      = 0
	ExitCodeGeneric      = 1
	ExitCodeUsage        = 2
	ExitCodeInvalidInput = 3
	ExitCodeUnreachable  = 4
	ExitCodeIO           = 5
)

type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e == nil || e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *ExitError) ExitCode() int {
	if e == nil {
		return ExitCodeGeneric
	}
	return e.Code
}

func asExitError(code int, err error) error {
	if err == nil {
		return nil
	}
	var withExit interface{ ExitCode() int }
	if errors.As(err, &withExit) {
		return err
	}
	return &ExitError{Code: code, Err: err}
}

func mapCommandError(err error) error {
	if err == nil {
		return nil
	}
	var withExit interface{ ExitCode() int }
	if errors.As(err, &withExit) {
		return err
	}

	var pathErr *fs.PathError
	if errors.As(err, &pathErr) || errors.Is(err, os.ErrNotExist) {
		return asExitError(ExitCodeIO, err)
	}

	var (
		bindingErr *query.BindingError
		shapeErr   *query.ShapeError
		queryErr   *query.QueryError
	)
	if errors.As(err, &bindingErr) || errors.As(err, &shapeErr) || errors.As(err, &queryErr) {
		return asExitError(ExitCodeInvalidInput, err)
	}

	if errors.Is(err, config.ErrUnreachable) || cache.IsConnectionFailed(err) {
		return asExitError(ExitCodeUnreachable, err)
	}
	return asExitError(ExitCodeGeneric, err)
}

func usageErrorf(format string, args ...any) error {
	return &ExitError{
		Code: ExitCodeUsage,
		Err:  fmt.Errorf(format, args...),
	}
}
