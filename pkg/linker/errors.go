package linker

import (
	"errors"

	"github.com/retrolinker/retrolinker/pkg/utils"
)

// Fatal error classes. Anything reported through these terminates the
// pipeline; per-relocation and per-symbol problems are diagnostics only and
// never carry one of these.
var (
	ErrIO           = errors.New("i/o fault")
	ErrFormatDetect = errors.New("unable to determine file format")
	ErrFormatParse  = errors.New("malformed input")
	ErrScript       = errors.New("linker script error")
	ErrOverCapacity = errors.New("format limit exceeded")
	ErrInternal     = errors.New("internal error")
)

func ioError(detailsBody string, args ...any) error {
	return utils.MakeError(ErrIO, detailsBody, args...)
}

func parseError(detailsBody string, args ...any) error {
	return utils.MakeError(ErrFormatParse, detailsBody, args...)
}

func scriptError(detailsBody string, args ...any) error {
	return utils.MakeError(ErrScript, detailsBody, args...)
}
