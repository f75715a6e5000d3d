package core

// # Error Codes Reference
//
// User-facing messages with codes for support reference. The web layer and
// the CLI show the mapped message; the technical error goes to the log.
//
// # Query Errors (QRY001-QRY099)
//
//	QRY001 - Unknown entity: The requested table is not registered
//	         Patterns: "unknown entity"
//	QRY002 - Unknown column: A filter or select names a column that does not exist
//	         Patterns: "unknown column"
//	QRY003 - Invalid filter value: A filter value is not a plain value
//	         Patterns: "invalid filter"
//	QRY004 - Read-only entity: The table cannot be changed
//	         Patterns: "read-only"
//
// # Fetch Errors (FET001-FET099)
//
//	FET001 - Row rejected: The backend returned a row of unexpected shape
//	         Patterns: "row rejected"
//	FET002 - Fetch failed: The backend query failed
//	         Patterns: "fetch failed"
//
// # Subscription Errors (SUB001-SUB099)
//
//	SUB001 - Live updates stopped: The change channel was dropped
//	         Patterns: "subscription failed"
//
// # Database Errors (DB001-DB099)
//
//	DB004 - Connection refused, DB005 - Connection reset, DB006 - Timeout,
//	DB007 - Deadlock
//
// # GDPR Errors (GDPR001-GDPR099)
//
//	GDPR001 - Customer not found
//	GDPR002 - Erasure failed
//
// # Rate Limiting (RATE001), Default (ERR000)
//
// Patterns are matched in order, case-insensitively; specific patterns come
// before general ones.

import (
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string `json:"message"` // What happened (user-friendly)
	Action  string `json:"action"`  // What to do about it
	Code    string `json:"code"`    // Error code for support reference
}

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns maps technical error patterns (case-insensitive) to user messages.
// The first matching pattern wins, so order matters.
var errorPatterns = []errorPattern{
	// =========================================================================
	// Query Errors (QRY001-QRY004)
	// =========================================================================
	{
		pattern: "unknown entity",
		msg: UserMessage{
			Message: "The requested table does not exist",
			Action:  "Check the table name against /api/entities",
			Code:    "QRY001",
		},
	},
	{
		pattern: "unknown column",
		msg: UserMessage{
			Message: "A requested column does not exist",
			Action:  "Check the column names used in select and filter",
			Code:    "QRY002",
		},
	},
	{
		pattern: "read-only",
		msg: UserMessage{
			Message: "This table cannot be changed",
			Action:  "Records in this table are written by the system",
			Code:    "QRY004",
		},
	},
	{
		pattern: "invalid filter",
		msg: UserMessage{
			Message: "A filter value is not valid",
			Action:  "Use plain text, number or true/false values in filters",
			Code:    "QRY003",
		},
	},

	// =========================================================================
	// GDPR Errors (GDPR001-GDPR002)
	// Checked before fetch errors: GDPR failures wrap backend errors.
	// =========================================================================
	{
		pattern: "customer not found",
		msg: UserMessage{
			Message: "Customer not found",
			Action:  "Refresh the customer list and try again",
			Code:    "GDPR001",
		},
	},
	{
		pattern: "erase customer data",
		msg: UserMessage{
			Message: "Customer data could not be erased",
			Action:  "Please try again or contact the data protection officer",
			Code:    "GDPR002",
		},
	},

	// =========================================================================
	// Database Connection Errors (DB004-DB007)
	// =========================================================================
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to connect to database",
			Action:  "Please try again in a few moments",
			Code:    "DB004",
		},
	},
	{
		pattern: "connection reset",
		msg: UserMessage{
			Message: "Database connection was interrupted",
			Action:  "Please try again",
			Code:    "DB005",
		},
	},
	{
		pattern: "timeout",
		msg: UserMessage{
			Message: "Operation timed out",
			Action:  "Please try again later",
			Code:    "DB006",
		},
	},
	{
		pattern: "deadlock",
		msg: UserMessage{
			Message: "Database was busy with conflicting operations",
			Action:  "Please try again",
			Code:    "DB007",
		},
	},

	// =========================================================================
	// Fetch Errors (FET001-FET002)
	// =========================================================================
	{
		pattern: "row rejected",
		msg: UserMessage{
			Message: "The database returned unexpected data",
			Action:  "Contact support with the error code",
			Code:    "FET001",
		},
	},
	{
		pattern: "fetch failed",
		msg: UserMessage{
			Message: "Data could not be loaded",
			Action:  "Retry; previously loaded data is still shown",
			Code:    "FET002",
		},
	},

	// =========================================================================
	// Subscription Errors (SUB001)
	// =========================================================================
	{
		pattern: "subscription failed",
		msg: UserMessage{
			Message: "Live updates stopped",
			Action:  "Reload the page to resume live updates",
			Code:    "SUB001",
		},
	},

	// =========================================================================
	// Rate Limiting (RATE001)
	// =========================================================================
	{
		pattern: "rate limit",
		msg: UserMessage{
			Message: "Too many requests",
			Action:  "Please wait a moment before trying again",
			Code:    "RATE001",
		},
	},
}

// defaultMessage is returned when no pattern matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
// If no pattern matches, a generic fallback message with code ERR000 is returned.
//
//	msg := MapError(&InvalidFilterError{Entity: "orders", Field: "x", Reason: "unknown column"})
//	// msg.Code == "QRY002"
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	errStr := strings.ToLower(err.Error())

	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err matches a known pattern rather than the
// ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
