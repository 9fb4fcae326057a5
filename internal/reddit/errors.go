// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package reddit

import "fmt"

// AuthError reports an authentication failure (401) on a listing request.
// It is retryable: the client invalidates the token and tries again.
type AuthError struct {
	Status  int
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed: HTTP %d %s", e.Status, e.Message)
}

// RateLimitError reports a 429. It is absorbed by the governor backoff
// and retried; it never surfaces past the client.
type RateLimitError struct {
	Message string
}

func (e *RateLimitError) Error() string {
	return "rate limit exceeded: " + e.Message
}

// FetchError is the terminal error after retries are exhausted, carrying
// the last HTTP status and message.
type FetchError struct {
	Status   int
	Message  string
	Attempts int
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch failed after %d attempt(s): HTTP %d %s", e.Attempts, e.Status, e.Message)
	}
	return fmt.Sprintf("fetch failed after %d attempt(s): %s", e.Attempts, e.Message)
}

// ValidationError reports a structurally invalid item in a listing.
// Invalid items are dropped and counted, never fatal to the batch.
type ValidationError struct {
	PostID string
	Fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid post %q: %v", e.PostID, e.Fields)
}
