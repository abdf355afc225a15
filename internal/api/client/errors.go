package client

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"
)

// APIError is a non-2xx answer from the platform, carrying what the server
// said about it for display.
type APIError struct {
	Status       int
	Code         string
	Message      string
	RequestID    string
	LearnMoreURL string
}

func (e *APIError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "meridian api: %d", e.Status)
	if e.Code != "" {
		fmt.Fprintf(&b, " (%s)", e.Code)
	}
	if e.Message != "" {
		fmt.Fprintf(&b, ": %s", e.Message)
	}
	return b.String()
}

// errorEnvelope is the platform's error body contract.
type errorEnvelope struct {
	ErrorCode    string `json:"errorCode"`
	Message      string `json:"message"`
	RequestID    string `json:"requestId"`
	LearnMoreURL string `json:"learnMoreUrl"`
}

// ErrorFromResponse turns a non-2xx Response into an *APIError. Returns nil
// for 2xx. Falls back to readable HTML text and then the status text when
// the body is not the JSON envelope.
func ErrorFromResponse(resp *Response) error {
	if resp == nil || resp.IsSuccess() {
		return nil
	}

	apiErr := &APIError{
		Status:    resp.Status,
		RequestID: resp.Header("X-Request-Id"),
	}

	var env errorEnvelope
	if len(resp.Body) > 0 && sonic.Unmarshal(resp.Body, &env) == nil && (env.ErrorCode != "" || env.Message != "") {
		apiErr.Code = env.ErrorCode
		apiErr.Message = env.Message
		apiErr.LearnMoreURL = env.LearnMoreURL
		if env.RequestID != "" {
			apiErr.RequestID = env.RequestID
		}
		return apiErr
	}

	if looksLikeHTML(resp) {
		apiErr.Message = ReadableText(resp.Body)
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.Status)
	}
	return apiErr
}

// AsAPIError unwraps err to an *APIError when one is in the chain.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

func looksLikeHTML(resp *Response) bool {
	if strings.Contains(strings.ToLower(resp.Header("Content-Type")), "text/html") {
		return true
	}
	head := strings.ToLower(strings.TrimSpace(string(resp.Body)))
	return strings.HasPrefix(head, "<!doctype html") || strings.HasPrefix(head, "<html")
}
