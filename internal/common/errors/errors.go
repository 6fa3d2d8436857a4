// Package errors provides standardized error handling for the query pipeline.
package errors

import (
	"fmt"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	// Upstream provider failures
	ErrCodeCompletionTimeout  ErrorCode = "COMPLETION_TIMEOUT"
	ErrCodeCompletionFailed   ErrorCode = "COMPLETION_FAILED"
	ErrCodeProvidersExhausted ErrorCode = "PROVIDERS_EXHAUSTED"
	ErrCodeEmbeddingFailed    ErrorCode = "EMBEDDING_FAILED"
	ErrCodeRerankFailed       ErrorCode = "RERANK_FAILED"
	ErrCodeRerankRateLimited  ErrorCode = "RERANK_RATE_LIMITED"

	// Malformed structured output
	ErrCodeMalformedJudgment ErrorCode = "MALFORMED_JUDGMENT"

	// Data-layer failures
	ErrCodeSearchQueryFailed        ErrorCode = "SEARCH_QUERY_FAILED"
	ErrCodeSearchTimeout            ErrorCode = "SEARCH_TIMEOUT"
	ErrCodeVectorSearchFailed       ErrorCode = "VECTOR_SEARCH_FAILED"
	ErrCodeChunkFetchFailed         ErrorCode = "CHUNK_FETCH_FAILED"
	ErrCodeDatabaseConnectionFailed ErrorCode = "DATABASE_CONNECTION_FAILED"
	ErrCodeConversationStoreFailed  ErrorCode = "CONVERSATION_STORE_FAILED"
	ErrCodeExpertStoreFailed        ErrorCode = "EXPERT_STORE_FAILED"

	ErrCodeNotificationSendFailed ErrorCode = "NOTIFICATION_SEND_FAILED"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// ==========================
// 2. Error Constructors
// ==========================

// NewCompletionTimeoutError creates a retryable provider timeout error.
func NewCompletionTimeoutError(provider string) *StandardError {
	return &StandardError{
		Code:      ErrCodeCompletionTimeout,
		Message:   "Completion provider timeout",
		Details:   fmt.Sprintf("provider: %s", provider),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewCompletionFailedError creates a retryable completion error.
func NewCompletionFailedError(provider string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeCompletionFailed,
		Message:   "Completion provider error",
		Details:   fmt.Sprintf("provider: %s, error: %s", provider, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewProvidersExhaustedError creates a non-retryable error raised after the
// whole fallback chain has been tried.
func NewProvidersExhaustedError(attempts int, last error) *StandardError {
	details := fmt.Sprintf("attempts: %d", attempts)
	if last != nil {
		details = fmt.Sprintf("attempts: %d, last: %s", attempts, last.Error())
	}
	return &StandardError{
		Code:      ErrCodeProvidersExhausted,
		Message:   "All completion providers exhausted",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewEmbeddingFailedError creates a retryable embedding service error.
func NewEmbeddingFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeEmbeddingFailed,
		Message:   "Embedding service error",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewRerankFailedError creates a retryable rerank service error.
func NewRerankFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeRerankFailed,
		Message:   "Rerank service error",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewRerankRateLimitedError creates a non-retryable quota error. The caller
// falls back to fused order instead of retrying.
func NewRerankRateLimitedError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeRerankRateLimited,
		Message:   "Rerank service rate limited",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewMalformedJudgmentError creates a non-retryable structured-output error.
// Treated the same as a provider failure: the fallback chain moves on.
func NewMalformedJudgmentError(stage string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeMalformedJudgment,
		Message:   "Malformed structured LLM output",
		Details:   fmt.Sprintf("stage: %s, error: %s", stage, err.Error()),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewSearchQueryFailedError creates a retryable lexical search error.
func NewSearchQueryFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeSearchQueryFailed,
		Message:   "Lexical search query error",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewSearchTimeoutError creates a retryable search timeout error.
func NewSearchTimeoutError(path string) *StandardError {
	return &StandardError{
		Code:      ErrCodeSearchTimeout,
		Message:   "Search query timeout",
		Details:   fmt.Sprintf("path: %s", path),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewVectorSearchFailedError creates a retryable vector search error.
func NewVectorSearchFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeVectorSearchFailed,
		Message:   "Vector similarity search error",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewChunkFetchFailedError creates a retryable neighbor-chunk fetch error.
func NewChunkFetchFailedError(groupID string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeChunkFetchFailed,
		Message:   "Neighbor chunk fetch error",
		Details:   fmt.Sprintf("groupId: %s, error: %s", groupID, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewDatabaseConnectionFailedError creates a retryable connection error.
func NewDatabaseConnectionFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeDatabaseConnectionFailed,
		Message:   "Database connection error",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewConversationStoreFailedError creates a retryable conversation store error.
func NewConversationStoreFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeConversationStoreFailed,
		Message:   "Conversation store error",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewExpertStoreFailedError creates a retryable expert store error.
func NewExpertStoreFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeExpertStoreFailed,
		Message:   "Expert profile store error",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewNotificationSendFailedError creates a retryable notification error.
func NewNotificationSendFailedError(channel string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeNotificationSendFailed,
		Message:   "Notification delivery failed",
		Details:   fmt.Sprintf("channel: %s, error: %s", channel, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// ==========================
// 3. Utility Functions
// ==========================

// GetRetryCount returns the recommended retry count per error code.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeCompletionFailed,
		ErrCodeEmbeddingFailed,
		ErrCodeRerankFailed,
		ErrCodeSearchQueryFailed,
		ErrCodeVectorSearchFailed,
		ErrCodeDatabaseConnectionFailed,
		ErrCodeConversationStoreFailed,
		ErrCodeExpertStoreFailed,
		ErrCodeNotificationSendFailed:
		return 3

	case ErrCodeCompletionTimeout,
		ErrCodeSearchTimeout,
		ErrCodeChunkFetchFailed:
		return 2

	default:
		return 0
	}
}

// IsRetryableErrorCode checks if an error code is retryable.
func IsRetryableErrorCode(code ErrorCode) bool {
	return GetRetryCount(code) > 0
}

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.Contains(codeStr, "COMPLETION") || strings.Contains(codeStr, "PROVIDERS") || strings.Contains(codeStr, "JUDGMENT"):
		return "LLM"
	case strings.Contains(codeStr, "EMBEDDING") || strings.Contains(codeStr, "RERANK"):
		return "RANKING"
	case strings.Contains(codeStr, "SEARCH") || strings.Contains(codeStr, "CHUNK"):
		return "RETRIEVAL"
	case strings.Contains(codeStr, "DATABASE") || strings.Contains(codeStr, "STORE"):
		return "DATABASE"
	case strings.Contains(codeStr, "NOTIFICATION"):
		return "NOTIFICATION"
	default:
		return "OTHER"
	}
}
