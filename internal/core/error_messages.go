package core

// error_messages.go maps technical errors to short messages with a code
// users can quote.
//
// # Authentication (AUTH001-AUTH099)
//
//	AUTH001 - Google login failed. Please try again.
//	AUTH002 - Failed to fetch user info after login.
//	AUTH003 - Login could not be verified (state mismatch).
//	AUTH004 - Login required before uploading.
//
// # Validation (VAL001-VAL099)
//
//	VAL001 - No file selected.
//	VAL002 - Unsupported file type (.dwg and .dxf are accepted).
//	VAL003 - Line item not found.
//
// # Files (FILE001-FILE099)
//
//	FILE001 - File exceeds the maximum upload size.
//
// # Upload (UPL001-UPL099)
//
//	UPL001 - Processing failed. Check that the backend server is running.
//	UPL002 - An upload is already in progress for this session.
//	UPL003 - Too many uploads in progress.
//	UPL004 - The extraction service did not answer in time.
//	UPL005 - Session expired.
//
// # Export (EXP001-EXP099)
//
//	EXP001 - The spreadsheet could not be generated.
//
// # Rate limiting (RATE001-RATE099)
//
//	RATE001 - Too many requests.
//
// # Capacity (CAP001-CAP099)
//
//	CAP001 - The server is holding too many sessions or drawings.
//
// # Default (ERR000)
//
// Typed errors are matched first with errors.Is / errors.As. Anything else
// falls back to case-insensitive substring patterns; the first match wins.

import (
	"errors"
	"fmt"
	"strings"

	"github.com/JonMunkholm/cadboq/internal/auth"
	"github.com/JonMunkholm/cadboq/internal/boq"
	"github.com/JonMunkholm/cadboq/internal/extract"
)

// UserMessage is what a user is told about an error.
type UserMessage struct {
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

var (
	msgLoginFailed = UserMessage{
		Message: "Google login failed. Please try again.",
		Action:  "Sign in again",
		Code:    "AUTH001",
	}
	msgIdentityFailed = UserMessage{
		Message: "Failed to fetch user info after login.",
		Action:  "Sign in again",
		Code:    "AUTH002",
	}
	msgStateMismatch = UserMessage{
		Message: "Login could not be verified.",
		Action:  "Start the sign-in again from this page",
		Code:    "AUTH003",
	}
	msgLoginRequired = UserMessage{
		Message: "Please sign in before uploading.",
		Action:  "Sign in with Google to receive the report by email",
		Code:    "AUTH004",
	}
	msgLoginDisabled = UserMessage{
		Message: "Sign-in is not available on this server.",
		Action:  "Contact your administrator",
		Code:    "AUTH005",
	}
	msgNoFile = UserMessage{
		Message: "No file selected.",
		Action:  "Choose or drop a .dwg or .dxf drawing",
		Code:    "VAL001",
	}
	msgUnsupportedFile = UserMessage{
		Message: "Unsupported file type.",
		Action:  "Only .dwg and .dxf drawings are accepted",
		Code:    "VAL002",
	}
	msgItemNotFound = UserMessage{
		Message: "Line item not found.",
		Action:  "Reload the table and try again",
		Code:    "VAL003",
	}
	msgFileTooLarge = UserMessage{
		Message: "File exceeds the maximum upload size.",
		Action:  "Reduce the drawing size and try again",
		Code:    "FILE001",
	}
	msgProcessingFailed = UserMessage{
		Message: "Processing failed. Please check that the backend server is running.",
		Action:  "Try again in a few moments",
		Code:    "UPL001",
	}
	msgUploadInProgress = UserMessage{
		Message: "An upload is already in progress.",
		Action:  "Wait for the current upload to finish",
		Code:    "UPL002",
	}
	msgSystemBusy = UserMessage{
		Message: "Too many uploads in progress.",
		Action:  "Please wait a moment and try again",
		Code:    "UPL003",
	}
	msgTimeout = UserMessage{
		Message: "The extraction service did not answer in time.",
		Action:  "Try a smaller drawing or try again later",
		Code:    "UPL004",
	}
	msgSessionExpired = UserMessage{
		Message: "Your session has expired.",
		Action:  "Reload the page to start a new session",
		Code:    "UPL005",
	}
	msgExportFailed = UserMessage{
		Message: "The spreadsheet could not be generated.",
		Action:  "Please try again",
		Code:    "EXP001",
	}
	msgRateLimited = UserMessage{
		Message: "Too many requests.",
		Action:  "Please wait a moment before trying again",
		Code:    "RATE001",
	}
	msgAtCapacity = UserMessage{
		Message: "The server is busy with other sessions.",
		Action:  "Please try again in a few minutes",
		Code:    "CAP001",
	}
)

// defaultMessage is returned when nothing more specific matches.
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred.",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns catches errors that lost their type, e.g. crossed a process
// boundary as text. Specific patterns come before general ones.
var errorPatterns = []errorPattern{
	{"login state mismatch", msgStateMismatch},
	{"login required", msgLoginRequired},
	{"no file selected", msgNoFile},
	{"unsupported file type", msgUnsupportedFile},
	{"index out of range", msgItemNotFound},
	{"file too large", msgFileTooLarge},
	{"already in progress", msgUploadInProgress},
	{"too many concurrent uploads", msgSystemBusy},
	{"session not found", msgSessionExpired},
	{"deadline exceeded", msgTimeout},
	{"export failed", msgExportFailed},
	{"rate limit", msgRateLimited},
	{"at capacity", msgAtCapacity},
	{"upload failed", msgProcessingFailed},
}

// MapError returns the user-facing message for err.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	var authErr *auth.AuthError
	if errors.As(err, &authErr) {
		switch authErr.Op {
		case auth.OpState:
			return msgStateMismatch
		case auth.OpIdentity:
			return msgIdentityFailed
		default:
			return msgLoginFailed
		}
	}

	var uploadErr *extract.UploadError
	if errors.As(err, &uploadErr) {
		if uploadErr.Timeout() {
			return msgTimeout
		}
		return msgProcessingFailed
	}

	switch {
	case errors.Is(err, extract.ErrNoFile):
		return msgNoFile
	case errors.Is(err, extract.ErrUnsupportedFile):
		return msgUnsupportedFile
	case errors.Is(err, extract.ErrFileTooLarge):
		return msgFileTooLarge
	case errors.Is(err, boq.ErrIndexOutOfRange):
		return msgItemNotFound
	case errors.Is(err, ErrLoginRequired):
		return msgLoginRequired
	case errors.Is(err, ErrLoginDisabled):
		return msgLoginDisabled
	case errors.Is(err, ErrUploadInProgress):
		return msgUploadInProgress
	case errors.Is(err, ErrTooManyUploads):
		return msgSystemBusy
	case errors.Is(err, ErrSessionNotFound):
		return msgSessionExpired
	case errors.Is(err, ErrRateLimited):
		return msgRateLimited
	case errors.Is(err, ErrAtCapacity):
		return msgAtCapacity
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError renders "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to something more specific than ERR000.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
