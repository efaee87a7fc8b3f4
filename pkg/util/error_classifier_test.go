package util

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"testing"

	"github.com/jackc/pgx/v5"

	"mailassist/pkg/circuitbreaker"
)

func TestIsRetryableError(t *testing.T) {
	var syntaxErr *json.SyntaxError
	jsonErr := json.Unmarshal([]byte("{"), &struct{}{})
	if !errors.As(jsonErr, &syntaxErr) {
		t.Fatalf("expected a json syntax error, got %T", jsonErr)
	}

	tests := []struct {
		name      string
		err       error
		retryable bool
		errType   string
	}{
		{"nil", nil, false, ""},
		{"embedding fatal", fmt.Errorf("openai: %w", ErrEmbeddingFatal), false, "embedding_fatal"},
		{"analysis fatal", fmt.Errorf("anthropic: %w", ErrAnalysisFatal), false, "analysis_fatal"},
		{"malformed", fmt.Errorf("email 7: %w", ErrMalformedMessage), false, "malformed_message"},
		{"not found", ErrNotFound, false, "email_not_found"},
		{"no rows", pgx.ErrNoRows, false, "email_not_found"},
		{"store unavailable", fmt.Errorf("get messages: %w", ErrStoreUnavailable), true, "store_unavailable"},
		{"embedding", fmt.Errorf("rate limited: %w", ErrEmbedding), true, "embedding_error"},
		{"analysis wraps json", fmt.Errorf("%w: %w", ErrAnalysis, jsonErr), true, "analysis_error"},
		{"breaker open", circuitbreaker.ErrCircuitBreakerOpen, true, "circuit_open"},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), true, "timeout"},
		{"canceled", context.Canceled, false, "context_canceled"},
		{"json", jsonErr, false, "json_decode_error"},
		{"url", &url.Error{Op: "Post", URL: "http://agent", Err: errors.New("refused")}, true, "network_error"},
		{"duplicate", errors.New("ERROR: duplicate key value violates unique constraint"), false, "duplicate_key"},
		{"unknown", errors.New("something odd"), false, "unknown_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			retryable, errType := IsRetryableError(tt.err)
			if retryable != tt.retryable || errType != tt.errType {
				t.Fatalf("IsRetryableError(%v) = (%v, %q), want (%v, %q)",
					tt.err, retryable, errType, tt.retryable, tt.errType)
			}
		})
	}
}

func TestIsFatal(t *testing.T) {
	if !IsFatal(fmt.Errorf("x: %w", ErrEmbeddingFatal)) {
		t.Fatal("wrapped ErrEmbeddingFatal should be fatal")
	}
	if !IsFatal(ErrAnalysisFatal) {
		t.Fatal("ErrAnalysisFatal should be fatal")
	}
	if IsFatal(ErrAnalysis) {
		t.Fatal("ErrAnalysis should not be fatal")
	}
}
