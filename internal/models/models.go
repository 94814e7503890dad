// Package models defines the core data structures for FormPipe.
//
// It includes the inbound message shape produced by channels, the question view handed
// back to channels for rendering, and the API response envelope, which are shared across modules.
package models

import (
	"errors"
	"time"
)

// InputKind names how a question collects its answer.
type InputKind string

const (
	// InputKindText collects free text.
	InputKindText InputKind = "text"
	// InputKindNumber collects an integer.
	InputKindNumber InputKind = "number"
	// InputKindSingleChoice collects exactly one option.
	InputKindSingleChoice InputKind = "single_choice"
	// InputKindMultiSelect collects one or more options over several events.
	InputKindMultiSelect InputKind = "multi_select"
	// InputKindYesNo collects a yes or no answer.
	InputKindYesNo InputKind = "yes_no"
)

// IsChoice reports whether answers are picked from a list of options.
func (k InputKind) IsChoice() bool {
	switch k {
	case InputKindSingleChoice, InputKindMultiSelect, InputKindYesNo:
		return true
	default:
		return false
	}
}

// Error variables for better error handling and testability
var (
	ErrEmptyRecipient = errors.New("recipient cannot be empty")
	ErrEmptyBody      = errors.New("message body cannot be empty")
)

// Identity carries the channel-supplied identity of a user.
type Identity struct {
	DisplayName string `json:"display_name"`
	Handle      string `json:"handle"`
	UserID      string `json:"user_id"`
}

// Inbound is a raw message or button press received by a channel, before it is
// interpreted against the user's current question.
type Inbound struct {
	UserID   string   `json:"user_id"`
	Identity Identity `json:"identity"`
	// Command is set for channel commands such as "start" or "quiz".
	Command string `json:"command,omitempty"`
	// Text is set for typed messages.
	Text string `json:"text,omitempty"`
	// Callback is set for button presses and carries the button payload.
	Callback string `json:"callback,omitempty"`
	Time     int64  `json:"time"`
}

// IsCallback reports whether the inbound came from a button press.
func (in Inbound) IsCallback() bool {
	return in.Callback != ""
}

// QuestionView is everything a channel needs to render the current question.
type QuestionView struct {
	Position    int       `json:"position"`
	Total       int       `json:"total"`
	QuestionID  string    `json:"question_id"`
	Prompt      string    `json:"prompt"`
	Description string    `json:"description,omitempty"`
	Hint        string    `json:"hint,omitempty"`
	Kind        InputKind `json:"kind"`
	Options     []string  `json:"options,omitempty"`
	Selected    []string  `json:"selected,omitempty"`
	CanGoBack   bool      `json:"can_go_back"`
	// Refresh is set when the view re-renders a question already on screen,
	// e.g. after a multi-select toggle, so channels may edit instead of resend.
	Refresh bool `json:"refresh,omitempty"`
}

// IsSelected reports whether option is part of the pending multi-select buffer.
func (v QuestionView) IsSelected(option string) bool {
	for _, s := range v.Selected {
		if s == option {
			return true
		}
	}
	return false
}

// Now returns the current unix time; channels stamp inbound events with it.
func Now() int64 {
	return time.Now().Unix()
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// APIResponseBuilder provides a fluent interface for building API responses.
type APIResponseBuilder struct {
	response APIResponse
}

// NewAPIResponseBuilder creates a new APIResponseBuilder instance.
func NewAPIResponseBuilder() *APIResponseBuilder {
	return &APIResponseBuilder{
		response: APIResponse{},
	}
}

// WithStatus sets the status of the API response.
func (b *APIResponseBuilder) WithStatus(status APIStatus) *APIResponseBuilder {
	b.response.Status = string(status)
	return b
}

// WithMessage sets the message of the API response.
func (b *APIResponseBuilder) WithMessage(message string) *APIResponseBuilder {
	b.response.Message = message
	return b
}

// WithResult sets the result data of the API response.
func (b *APIResponseBuilder) WithResult(result interface{}) *APIResponseBuilder {
	b.response.Result = result
	return b
}

// Build constructs and returns the final APIResponse.
func (b *APIResponseBuilder) Build() APIResponse {
	return b.response
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithResult(result).
		Build()
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusError).
		WithMessage(message).
		Build()
}
