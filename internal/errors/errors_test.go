package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
)

func TestServiceError(t *testing.T) {
	err := New(UserBot, "User `RoboFixer` is a bot and therefore out of scope.")
	if err.Code != UserBot {
		t.Errorf("Expected code %s, got %s", UserBot, err.Code)
	}
	if got := err.Error(); got != "[USER_BOT] User `RoboFixer` is a bot and therefore out of scope." {
		t.Errorf("Unexpected error string: %q", got)
	}
}

func TestWrapAndUnwrap(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := Wrap(UpstreamUnavailable, "failed to get additional edits", cause)

	if !stderrors.Is(err, cause) {
		t.Error("Expected wrapped cause to be found with errors.Is")
	}

	wrapped := fmt.Errorf("request failed: %w", err)
	if CodeOf(wrapped) != UpstreamUnavailable {
		t.Errorf("Expected code to survive wrapping, got %s", CodeOf(wrapped))
	}
}

func TestCodeOfPlainError(t *testing.T) {
	if got := CodeOf(stderrors.New("boom")); got != InternalError {
		t.Errorf("Expected InternalError for plain errors, got %s", got)
	}
}

func TestFromError(t *testing.T) {
	se := New(DatabaseRefresh, "Database refresh in progress")
	if got := FromError(fmt.Errorf("wrapped: %w", se)); got != se {
		t.Errorf("Expected the original ServiceError, got %v", got)
	}

	plain := FromError(stderrors.New("boom"))
	if plain.Code != InternalError {
		t.Errorf("Expected InternalError wrapper, got %s", plain.Code)
	}
}

func TestTags(t *testing.T) {
	cases := map[ErrorCode]string{
		UserNoAccount:       "user-no-account",
		UserBot:             "user-bot",
		UserNoEdits:         "user-no-edits",
		DatabaseRefresh:     "database-refresh",
		InvalidArgument:     "",
		UpstreamUnavailable: "",
		InternalError:       "",
	}
	for code, want := range cases {
		if got := code.Tag(); got != want {
			t.Errorf("Tag(%s) = %q, want %q", code, got, want)
		}
	}
}
