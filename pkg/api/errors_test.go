package api

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestIsParked(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		parked bool
	}{
		{"awaiting signal", &AwaitingSignalError{Name: "approve"}, true},
		{"sleeping", &SleepingError{Identifier: "nap", Remaining: time.Second}, true},
		{"condition", &ConditionUnsatisfiedError{Identifier: "ready"}, true},
		{"wrapped sleeping", fmt.Errorf("wrap: %w", &SleepingError{Identifier: "nap"}), true},
		{"abort", &AbortError{Reason: "lost race"}, false},
		{"plain", errors.New("boom"), false},
		{"nil", nil, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			reason, ok := IsParked(tc.err)
			if ok != tc.parked {
				t.Fatalf("IsParked(%v) = %v, want %v", tc.err, ok, tc.parked)
			}
			if ok && reason == "" {
				t.Fatalf("parked error must carry a reason")
			}
		})
	}
}

func TestIsAbort(t *testing.T) {
	if !IsAbort(&AbortError{Reason: "r"}) {
		t.Fatalf("expected abort")
	}
	if !IsAbort(fmt.Errorf("wrap: %w", &AbortError{Reason: "r"})) {
		t.Fatalf("expected wrapped abort to be detected")
	}
	if IsAbort(errors.New("boom")) {
		t.Fatalf("plain error must not be an abort")
	}
}
