package errs

import (
	"errors"
	"testing"
)

func TestIsRetriable(t *testing.T) {
	if !IsRetriable(New("transcribe", ExternalUnavailable, errors.New("timeout"))) {
		t.Error("external_unavailable should be retriable")
	}
	if IsRetriable(New("transcribe", ExternalRejected, errors.New("bad request"))) {
		t.Error("external_rejected should not be retriable")
	}
	if IsRetriable(errors.New("plain error")) {
		t.Error("untagged errors should not be retriable")
	}
}

func TestErrorsIsSentinel(t *testing.T) {
	err := New("enqueue_item", StateConflict, errors.New("job already in progress"))
	if !errors.Is(err, ErrStateConflict) {
		t.Error("expected errors.Is to match ErrStateConflict")
	}
	if errors.Is(err, ErrInputInvalid) {
		t.Error("did not expect errors.Is to match ErrInputInvalid")
	}
}

func TestKindOf(t *testing.T) {
	if KindOf(errors.New("plain")) != Internal {
		t.Error("untagged error should report Internal kind")
	}
	if KindOf(New("x", InputInvalid, nil)) != InputInvalid {
		t.Error("expected InputInvalid kind")
	}
}
