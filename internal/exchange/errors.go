package exchange

import (
	"errors"
	"fmt"
)

// Archive-level failures. Each aborts the whole operation.
var (
	ErrPathTraversal     = errors.New("archive entry escapes the extraction root")
	ErrMissingManifest   = errors.New("archive has no manifest")
	ErrIntegrityMismatch = errors.New("archive integrity check failed")
	ErrEntryTooLarge     = errors.New("archive entry exceeds the size limit")
	ErrInvalidArchive    = errors.New("not a readable zip archive")
	ErrInvalidMode       = errors.New("invalid import mode")
	ErrUnknownEntity     = errors.New("unknown entity")
)

// Row-level failures recorded in the summary.
var (
	ErrMissingKey = errors.New("key column is empty")
)

// PathTraversalError names the archive entry that was rejected.
type PathTraversalError struct {
	Entry string
}

func (e *PathTraversalError) Error() string {
	return fmt.Sprintf("unsafe archive entry %q", e.Entry)
}

func (e *PathTraversalError) Unwrap() error { return ErrPathTraversal }

// IntegrityError reports a file that is missing or whose digest differs
// from the manifest. Got is empty when the file is missing.
type IntegrityError struct {
	File     string
	Expected string
	Got      string
}

func (e *IntegrityError) Error() string {
	if e.Got == "" {
		return fmt.Sprintf("%s: listed in manifest but missing from archive", e.File)
	}
	return fmt.Sprintf("%s: sha256 mismatch\nExpected: %s\nGot:      %s", e.File, e.Expected, e.Got)
}

func (e *IntegrityError) Unwrap() error { return ErrIntegrityMismatch }
