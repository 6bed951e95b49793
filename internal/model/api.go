package model

import (
	"time"
)

// APIResponse is the standard response envelope for all HTTP API responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorCode constants for standard API error codes.
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeForbidden     = "FORBIDDEN"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeInternalError = "INTERNAL_ERROR"
)

// MessageEventRequest is the request body for POST /v1/messages: one message
// event as delivered by the transport collaborator.
type MessageEventRequest struct {
	MessageID        int64     `json:"message_id"`
	ChatID           int64     `json:"chat_id"`
	SenderID         string    `json:"sender_id"`
	SenderRole       Role      `json:"sender_role"`
	Direction        Direction `json:"direction"`
	Text             string    `json:"text"`
	Timestamp        time.Time `json:"timestamp"`
	ReplyToMessageID *int64    `json:"reply_to_message_id,omitempty"`
}

// RecomputeKpiRequest is the request body for POST /v1/kpi/recompute.
type RecomputeKpiRequest struct {
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`
}

// CreateUserRequest is the request body for POST /v1/users.
type CreateUserRequest struct {
	ExternalID  string  `json:"external_id"`
	DisplayName string  `json:"display_name"`
	Role        Role    `json:"role"`
	BaseSalary  float64 `json:"base_salary"`
}
