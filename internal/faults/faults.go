// Package faults defines the categorized error taxonomy shared by the
// deployment orchestrator and the streaming gateway.
package faults

import (
	"fmt"
	"net/http"
)

// Category groups failures by origin.
type Category string

const (
	CategoryConfig     Category = "config"
	CategoryBuild      Category = "build"
	CategoryAuth       Category = "auth"
	CategoryDeployment Category = "deployment"
	CategoryNetwork    Category = "network"
	CategoryStream     Category = "stream"
	CategoryUpstream   Category = "upstream"
	CategoryRuntime    Category = "runtime"
)

// Common error codes.
const (
	CodeMissingParameters = "MISSING_PARAMETERS"
	CodeBuildFailed       = "BUILD_FAILED"
	CodeBuildNotFound     = "BUILD_NOT_FOUND"
	CodeProvisionFailed   = "IDENTITY_PROVISION_FAILED"
	CodeTokenInvalid      = "TOKEN_INVALID"
	CodeDeployFailed      = "DEPLOYMENT_FAILED"
	CodeHealthCheckFailed = "HEALTH_CHECK_FAILED"
	CodeInvalidState      = "INVALID_STATE"
	CodeTimeout           = "TIMEOUT"
	CodeNetworkError      = "NETWORK_ERROR"
	CodeStreamError       = "STREAM_ERROR"
	CodeAuthError         = "AUTH_ERROR"
	CodeUpstreamError     = "UPSTREAM_ERROR"
	CodeRuntimeError      = "RUNTIME_ERROR"
)

// Error is an immutable categorized failure.
type Error struct {
	Category    Category
	Code        string
	Message     string
	Details     string
	Suggestions []string
	Err         error
}

// New builds a categorized error with the category's default suggestions.
func New(category Category, code, message string) *Error {
	return &Error{
		Category:    category,
		Code:        code,
		Message:     message,
		Suggestions: Suggestions(category),
	}
}

// Wrap builds a categorized error keeping cause for errors.Is/As chains.
func Wrap(category Category, code, message string, cause error) *Error {
	e := New(category, code, message)
	e.Err = cause
	if cause != nil {
		e.Details = cause.Error()
	}
	return e
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s/%s: %s: %v", e.Category, e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s/%s: %s", e.Category, e.Code, e.Message)
}

// Unwrap exposes the originating cause.
func (e *Error) Unwrap() error { return e.Err }

// HTTPStatus maps a category to the gateway response status.
func HTTPStatus(category Category) int {
	switch category {
	case CategoryNetwork:
		return http.StatusServiceUnavailable
	case CategoryAuth:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// Suggestions returns the fixed remediation list for a category.
func Suggestions(category Category) []string {
	switch category {
	case CategoryConfig:
		return []string{
			"verify every required parameter is set before deploying",
			"run 'gangway deploy -h' for the expected flags",
		}
	case CategoryBuild:
		return []string{
			"inspect the remote build logs for the failing phase",
			"confirm the build role can pull from and push to the registry",
			"see https://docs.gangway.dev/builds for troubleshooting",
		}
	case CategoryAuth:
		return []string{
			"refresh your token and retry the request",
			"confirm the client is registered with the identity pool",
		}
	case CategoryDeployment:
		return []string{
			"check the runtime console for the instance failure reason",
			"verify the artifact reference points at an existing image",
		}
	case CategoryNetwork:
		return []string{
			"check connectivity to the backend service",
			"retry once the network stabilizes",
		}
	case CategoryStream:
		return []string{
			"reconnect and reissue the request",
			"avoid closing the client before the stream terminates",
		}
	case CategoryUpstream:
		return []string{
			"the backend service returned an error, inspect its logs",
			"retry after the backend recovers",
		}
	default:
		return []string{"retry the operation and report the error if it persists"}
	}
}
