package core

import (
	"errors"
	"fmt"
	"testing"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantCode    string
		wantMessage string
	}{
		{
			name:        "nil error returns empty",
			err:         nil,
			wantCode:    "",
			wantMessage: "",
		},
		{
			name:        "unknown entity",
			err:         &InvalidFilterError{Entity: "widgets", Reason: "unknown entity"},
			wantCode:    "QRY001",
			wantMessage: "The requested table does not exist",
		},
		{
			name:        "unknown column beats generic invalid filter",
			err:         &InvalidFilterError{Entity: EntityOrders, Field: "colour", Reason: "unknown column"},
			wantCode:    "QRY002",
			wantMessage: "A requested column does not exist",
		},
		{
			name:        "non-primitive filter value",
			err:         &InvalidFilterError{Entity: EntityOrders, Field: "status", Reason: "value of type []string is not a primitive"},
			wantCode:    "QRY003",
			wantMessage: "A filter value is not valid",
		},
		{
			name:        "fetch error",
			err:         &FetchError{Entity: EntityOrders, Err: errors.New("boom")},
			wantCode:    "FET002",
			wantMessage: "Data could not be loaded",
		},
		{
			name:        "connection error inside fetch error maps to database code",
			err:         &FetchError{Entity: EntityOrders, Err: errors.New("dial tcp: connection refused")},
			wantCode:    "DB004",
			wantMessage: "Unable to connect to database",
		},
		{
			name:        "subscription error",
			err:         &SubscriptionError{Entity: EntityCustomers, Err: errors.New("channel closed")},
			wantCode:    "SUB001",
			wantMessage: "Live updates stopped",
		},
		{
			name:        "gdpr erasure",
			err:         fmt.Errorf("erase customer data: %w", errors.New("rpc error")),
			wantCode:    "GDPR002",
			wantMessage: "Customer data could not be erased",
		},
		{
			name:        "rate limit maps correctly",
			err:         errors.New("rate limit exceeded"),
			wantCode:    "RATE001",
			wantMessage: "Too many requests",
		},
		{
			name:        "unknown error returns default",
			err:         errors.New("some random internal error"),
			wantCode:    "ERR000",
			wantMessage: "An unexpected error occurred",
		},
		{
			name:        "case insensitive matching",
			err:         errors.New("CONNECTION RESET by peer"),
			wantCode:    "DB005",
			wantMessage: "Database connection was interrupted",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapError(tt.err)
			if got.Code != tt.wantCode {
				t.Errorf("MapError() code = %q, want %q", got.Code, tt.wantCode)
			}
			if got.Message != tt.wantMessage {
				t.Errorf("MapError() message = %q, want %q", got.Message, tt.wantMessage)
			}
		})
	}
}

func TestFormatUserError(t *testing.T) {
	err := errors.New("rate limit exceeded")
	result := FormatUserError(err)

	expected := "Too many requests (Code: RATE001). Please wait a moment before trying again"
	if result != expected {
		t.Errorf("FormatUserError() = %q, want %q", result, expected)
	}

	if got := FormatUserError(nil); got != "" {
		t.Errorf("FormatUserError(nil) = %q, want empty", got)
	}
}

func TestIsUserFacing(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "nil error is not user facing",
			err:  nil,
			want: false,
		},
		{
			name: "known error is user facing",
			err:  &SubscriptionError{Entity: EntityOrders, Err: errors.New("x")},
			want: true,
		},
		{
			name: "unknown error is not user facing",
			err:  errors.New("random internal error xyz"),
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsUserFacing(tt.err)
			if got != tt.want {
				t.Errorf("IsUserFacing() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestErrorSentinels(t *testing.T) {
	cause := errors.New("socket closed")

	tests := []struct {
		name   string
		err    error
		target error
		others []error
	}{
		{"invalid filter", &InvalidFilterError{Entity: EntityOrders, Reason: "x"}, ErrInvalidFilter, []error{ErrFetch, ErrSubscription}},
		{"fetch", &FetchError{Entity: EntityOrders, Err: cause}, ErrFetch, []error{ErrInvalidFilter, ErrSubscription}},
		{"subscription", &SubscriptionError{Entity: EntityOrders, Err: cause}, ErrSubscription, []error{ErrInvalidFilter, ErrFetch}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("open: %w", tt.err)
			if !errors.Is(wrapped, tt.target) {
				t.Errorf("errors.Is(%v, %v) = false", wrapped, tt.target)
			}
			for _, other := range tt.others {
				if errors.Is(wrapped, other) {
					t.Errorf("errors.Is(%v, %v) = true, want false", wrapped, other)
				}
			}
		})
	}

	if !errors.Is(&FetchError{Err: cause}, cause) {
		t.Error("FetchError should unwrap to its cause")
	}
}
