package api

import (
	"net/http"
	"testing"

	"audiostreamd/internal/errs"
	"audiostreamd/internal/jobs"
)

func TestValidateIdentifierAcceptsElevenCharID(t *testing.T) {
	if err := ValidateIdentifier("dQw4w9WgXcQ"); err != nil {
		t.Fatalf("expected valid identifier to pass, got %v", err)
	}
}

func TestValidateIdentifierRejectsWrongLength(t *testing.T) {
	for _, id := range []string{"", "short", "waytoolongidentifier123"} {
		err := ValidateIdentifier(id)
		if err == nil {
			t.Fatalf("expected %q to be rejected", id)
		}
		if errs.KindOf(err) != errs.InputInvalid {
			t.Errorf("%q: expected InputInvalid, got %v", id, errs.KindOf(err))
		}
	}
}

func TestValidateIdentifierRejectsDisallowedCharacters(t *testing.T) {
	if err := ValidateIdentifier("dQw4w9Wg$cQ"); err == nil {
		t.Fatal("expected identifier with disallowed character to be rejected")
	}
}

func TestErrorStatusMapsEveryKind(t *testing.T) {
	cases := []struct {
		kind errs.Kind
		want int
	}{
		{errs.InputInvalid, http.StatusBadRequest},
		{errs.StateConflict, http.StatusConflict},
		{errs.ExternalUnavailable, http.StatusBadGateway},
		{errs.ExternalRejected, http.StatusBadGateway},
		{errs.Internal, http.StatusInternalServerError},
		{errs.ResourceExhausted, http.StatusInternalServerError},
	}
	for _, c := range cases {
		err := errs.New("test_op", c.kind, nil)
		if got := errorStatus(err); got != c.want {
			t.Errorf("kind %v: expected status %d, got %d", c.kind, c.want, got)
		}
	}
}

func TestJobViewIncludesEveryField(t *testing.T) {
	job := jobs.Job{
		Identifier:   "dQw4w9WgXcQ",
		Kind:         "post_process",
		State:        "summarizing",
		AttemptCount: 2,
		LastError:    "transient failure",
		ExternalURL:  "https://notes.example/n/1",
	}
	view := jobView(job)

	if view["identifier"] != job.Identifier {
		t.Errorf("identifier: got %v", view["identifier"])
	}
	if view["state"] != job.State {
		t.Errorf("state: got %v", view["state"])
	}
	if view["attempt_count"] != job.AttemptCount {
		t.Errorf("attempt_count: got %v", view["attempt_count"])
	}
	if view["external_url"] != job.ExternalURL {
		t.Errorf("external_url: got %v", view["external_url"])
	}
}
