// Package errmsg turns errors into user-facing messages with codes for
// support reference, and into HTTP statuses.
//
// # Error Codes Reference
//
// # Archive Errors (ARC001-ARC099)
//
//	ARC001 - Unsafe entry: an entry would extract outside its directory
//	         Action: Re-export the archive from a trusted source
//	ARC002 - Missing manifest: the archive has no manifest.json
//	         Action: Only archives produced by an export can be imported
//	ARC003 - Integrity mismatch: a sheet is missing or was modified
//	         Action: Re-export the archive; do not edit it by hand
//	ARC004 - Entry too large: an entry exceeds the extraction size limit
//	         Action: Split the export by entity
//	ARC005 - Invalid archive: the upload is not a readable zip file
//	         Action: Upload the .zip produced by an export
//
// # Document Errors (DOC001-DOC099)
//
//	DOC001 - Version conflict: someone else changed the document first
//	DOC002 - Permission denied: the actor is unknown, or the actor or the
//	         document state forbids the change
//	DOC003 - Missing document: no document has this ID
//
// # Validation Errors (VAL001-VAL099)
//
//	VAL001 - Invalid input: a value, mode or field failed validation
//
// # Database Errors (DB001-DB099)
//
//	DB001 - Duplicate key: a record with this ID already exists
//	DB002 - Constraint: a referenced record is missing or a rule was broken
//	DB003 - Connection: the database could not be reached
//	DB004 - Timeout: the operation timed out
//
// # System Errors (SYS001-SYS099)
//
//	SYS001 - Busy: too many archive operations are running
//
// # Default Error (ERR000)
//
// Fallback when nothing matches. Check the logs for the technical error.
//
// Sentinel errors are matched first with errors.Is. Errors that carry no
// sentinel, such as driver errors, fall back to case-insensitive substring
// patterns; the first match wins.
package errmsg

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/JonMunkholm/recordkeeper/internal/actor"
	"github.com/JonMunkholm/recordkeeper/internal/cell"
	"github.com/JonMunkholm/recordkeeper/internal/document"
	"github.com/JonMunkholm/recordkeeper/internal/exchange"
	"github.com/JonMunkholm/recordkeeper/internal/storage"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string `json:"message"`
	Action  string `json:"action"`
	Code    string `json:"code"`
}

// ErrBadRequest marks malformed client input that has no domain sentinel.
var ErrBadRequest = errors.New("bad request")

type sentinelRule struct {
	target error
	status int
	msg    UserMessage
}

var sentinelRules = []sentinelRule{
	// =========================================================================
	// Archive Errors (ARC001-ARC004)
	// =========================================================================
	{exchange.ErrPathTraversal, http.StatusUnprocessableEntity, UserMessage{
		Message: "The archive contains an unsafe file path",
		Action:  "Re-export the archive from a trusted source",
		Code:    "ARC001",
	}},
	{exchange.ErrMissingManifest, http.StatusUnprocessableEntity, UserMessage{
		Message: "The archive has no manifest",
		Action:  "Only archives produced by an export can be imported",
		Code:    "ARC002",
	}},
	{exchange.ErrIntegrityMismatch, http.StatusUnprocessableEntity, UserMessage{
		Message: "The archive failed its integrity check",
		Action:  "Re-export the archive; sheets must not be edited by hand",
		Code:    "ARC003",
	}},
	{exchange.ErrEntryTooLarge, http.StatusUnprocessableEntity, UserMessage{
		Message: "An archive entry exceeds the size limit",
		Action:  "Split the export by entity",
		Code:    "ARC004",
	}},
	{exchange.ErrInvalidArchive, http.StatusUnprocessableEntity, UserMessage{
		Message: "The file is not a valid archive",
		Action:  "Upload the .zip produced by an export",
		Code:    "ARC005",
	}},

	// =========================================================================
	// Document Errors (DOC001-DOC003)
	// =========================================================================
	{document.ErrVersionConflict, http.StatusConflict, UserMessage{
		Message: "The document was changed by someone else",
		Action:  "Reload the document and apply your change again",
		Code:    "DOC001",
	}},
	{document.ErrPermissionDenied, http.StatusForbidden, UserMessage{
		Message: "This change is not allowed",
		Action:  "Signed documents cannot change; check your role",
		Code:    "DOC002",
	}},
	{actor.ErrUnknownActor, http.StatusForbidden, UserMessage{
		Message: "Unknown actor",
		Action:  "Send a registered actor ID in the X-Actor-ID header",
		Code:    "DOC002",
	}},
	{document.ErrMissingDocument, http.StatusNotFound, UserMessage{
		Message: "Document not found",
		Action:  "Verify the document ID",
		Code:    "DOC003",
	}},
	{document.ErrDocumentExists, http.StatusConflict, UserMessage{
		Message: "A document with this ID already exists",
		Action:  "Choose another ID or leave it empty",
		Code:    "DB001",
	}},

	// =========================================================================
	// Validation Errors (VAL001)
	// =========================================================================
	{document.ErrInvalidDocument, http.StatusBadRequest, validation},
	{cell.ErrCoercion, http.StatusBadRequest, validation},
	{exchange.ErrInvalidMode, http.StatusBadRequest, validation},
	{exchange.ErrUnknownEntity, http.StatusBadRequest, validation},
	{exchange.ErrMissingKey, http.StatusBadRequest, validation},
	{ErrBadRequest, http.StatusBadRequest, validation},

	// =========================================================================
	// Database Errors (DB001-DB002)
	// =========================================================================
	{storage.ErrDuplicate, http.StatusConflict, UserMessage{
		Message: "A record with this ID already exists",
		Action:  "Review the data for duplicate keys",
		Code:    "DB001",
	}},
	{storage.ErrConstraint, http.StatusConflict, UserMessage{
		Message: "A referenced record does not exist or a rule was broken",
		Action:  "Import parent records first",
		Code:    "DB002",
	}},
	{storage.ErrInvalidValue, http.StatusBadRequest, validation},
	{storage.ErrNotFound, http.StatusNotFound, UserMessage{
		Message: "Record not found",
		Action:  "Verify the record ID",
		Code:    "DB001",
	}},

	// =========================================================================
	// System Errors (SYS001)
	// =========================================================================
	{exchange.ErrBusy, http.StatusServiceUnavailable, UserMessage{
		Message: "The system is busy with other archive operations",
		Action:  "Please wait a moment and try again",
		Code:    "SYS001",
	}},
	{context.DeadlineExceeded, http.StatusGatewayTimeout, timeout},
}

var validation = UserMessage{
	Message: "The input is invalid",
	Action:  "Correct the highlighted value and try again",
	Code:    "VAL001",
}

var timeout = UserMessage{
	Message: "Operation timed out",
	Action:  "Try again later or with a smaller archive",
	Code:    "DB004",
}

type patternRule struct {
	pattern string
	status  int
	msg     UserMessage
}

// patternRules match driver errors that carry no sentinel.
var patternRules = []patternRule{
	{"duplicate key", http.StatusConflict, UserMessage{
		Message: "A record with this ID already exists",
		Action:  "Review the data for duplicate keys",
		Code:    "DB001",
	}},
	{"violates foreign key", http.StatusConflict, UserMessage{
		Message: "A referenced record does not exist",
		Action:  "Import parent records first",
		Code:    "DB002",
	}},
	{"connection refused", http.StatusServiceUnavailable, UserMessage{
		Message: "Unable to connect to the database",
		Action:  "Please try again in a few moments",
		Code:    "DB003",
	}},
	{"connection reset", http.StatusServiceUnavailable, UserMessage{
		Message: "The database connection was interrupted",
		Action:  "Please try again",
		Code:    "DB003",
	}},
	{"timeout", http.StatusGatewayTimeout, timeout},
}

// defaultMessage is returned when nothing matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// Map converts an error to a user-friendly message.
func Map(err error) UserMessage {
	msg, _ := classify(err)
	return msg
}

// Status returns the HTTP status for err.
func Status(err error) int {
	_, status := classify(err)
	return status
}

func classify(err error) (UserMessage, int) {
	if err == nil {
		return UserMessage{}, http.StatusOK
	}
	for _, r := range sentinelRules {
		if errors.Is(err, r.target) {
			return r.msg, r.status
		}
	}
	s := strings.ToLower(err.Error())
	for _, r := range patternRules {
		if strings.Contains(s, r.pattern) {
			return r.msg, r.status
		}
	}
	return defaultMessage, http.StatusInternalServerError
}

// Format renders err as "Message (Code: XXX). Action".
func Format(err error) string {
	msg := Map(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err matched a specific rule rather than the
// ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return Map(err).Code != defaultMessage.Code
}

// UserError pairs a technical error with its user message.
type UserError struct {
	Technical error
	User      UserMessage
}

func (e *UserError) Error() string { return e.User.Message }

func (e *UserError) Unwrap() error { return e.Technical }

// New maps err into a UserError. It returns nil for a nil error.
func New(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{Technical: err, User: Map(err)}
}
