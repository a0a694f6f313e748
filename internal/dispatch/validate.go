package dispatch

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// ValidationKind classifies why a raw send request was rejected.
type ValidationKind string

const (
	MissingField   ValidationKind = "missing_field"
	InvalidType    ValidationKind = "invalid_type"
	MessageTooLong ValidationKind = "message_too_long"
	EmptyMessage   ValidationKind = "empty_message"
)

// ValidationError carries a client-facing message; it never wraps internal state.
type ValidationError struct {
	Kind    ValidationKind
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// Validate checks a raw decoded JSON body and produces a Request.
//
// Rules, in order:
//   - group_name, message, api_key must all be present and non-empty
//   - each field must be a string (message in particular)
//   - message must not exceed maxLen characters (exactly maxLen is accepted)
//   - message must not be whitespace-only
//
// Pure function of its input; no side effects.
func Validate(raw map[string]any, maxLen int) (Request, *ValidationError) {
	gv := raw["group_name"]
	mv := raw["message"]
	kv := raw["api_key"]

	if isAbsent(gv) || isAbsent(mv) || isAbsent(kv) {
		return Request{}, &ValidationError{Kind: MissingField, Message: "missing required field"}
	}

	message, ok := mv.(string)
	if !ok {
		return Request{}, &ValidationError{Kind: InvalidType, Message: "field message must be a string"}
	}
	groupName, gok := gv.(string)
	apiKey, kok := kv.(string)
	if !gok || !kok {
		return Request{}, &ValidationError{Kind: InvalidType, Message: "fields group_name and api_key must be strings"}
	}

	// The limit counts characters, not bytes; non-ASCII messages must not be
	// penalized for their encoding.
	if utf8.RuneCountInString(message) > maxLen {
		return Request{}, &ValidationError{
			Kind:    MessageTooLong,
			Message: fmt.Sprintf("message too long (max %d characters)", maxLen),
		}
	}
	if strings.TrimSpace(message) == "" {
		return Request{}, &ValidationError{Kind: EmptyMessage, Message: "field message must not be empty"}
	}

	return Request{GroupName: groupName, Message: message, APIKey: apiKey}, nil
}

// isAbsent treats a missing key, explicit null and "" all as missing,
// matching the permissive clients this API grew up with.
func isAbsent(v any) bool {
	return v == nil || v == ""
}
