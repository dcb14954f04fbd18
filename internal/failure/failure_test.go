package failure

import (
	"errors"
	"testing"
	"time"
)

func TestClassifyPriorityOrder(t *testing.T) {
	recent := time.Now().Add(-time.Second)
	old := time.Now().Add(-time.Minute)

	cases := []struct {
		name      string
		err       error
		workDir   string
		startedAt time.Time
		want      Reason
	}{
		{"port in use", errors.New("listen tcp :3000: bind: address already in use"), "", recent, ReasonPortInUse},
		{"port in use node style", errors.New("Error: listen EADDRINUSE: address already in use :::3000"), "", recent, ReasonPortInUse},
		{"command not found", errors.New("bash: vitee: command not found"), "", recent, ReasonCommandNotFound},
		{"exec not found", errors.New(`exec: "npm": executable file not found in $PATH`), "", recent, ReasonCommandNotFound},
		{"permission denied", errors.New("sh: ./run.sh: Permission denied"), "", recent, ReasonPermissionDenied},
		{"missing dir", errors.New("exit status 1"), "/nonexistent/project/dir", old, ReasonDirectoryMissing},
		{"immediate crash", errors.New("exit status 1"), "", recent, ReasonImmediateCrash},
		{"unknown", errors.New("exit status 1"), "", old, ReasonUnknown},
		{"nil error late exit", nil, "", old, ReasonUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Classify(tc.err, tc.workDir, tc.startedAt)
			if got.Reason != tc.want {
				t.Fatalf("reason = %s, want %s", got.Reason, tc.want)
			}
			if got.Suggestion == "" {
				t.Fatalf("expected non-empty suggestion for %s", got.Reason)
			}
		})
	}
}

func TestClassifyPortBeatsTiming(t *testing.T) {
	// A port conflict seconds after start must not degrade to ImmediateCrash.
	c := Classify(errors.New("address already in use"), "", time.Now())
	if c.Reason != ReasonPortInUse {
		t.Fatalf("reason = %s, want %s", c.Reason, ReasonPortInUse)
	}
}

func TestClassifyExistingDirNotMissing(t *testing.T) {
	dir := t.TempDir()
	c := Classify(errors.New("exit status 2"), dir, time.Now().Add(-time.Minute))
	if c.Reason != ReasonUnknown {
		t.Fatalf("reason = %s, want %s", c.Reason, ReasonUnknown)
	}
}

func TestSuggestionFallback(t *testing.T) {
	if Suggestion(Reason("bogus")) != suggestions[ReasonUnknown] {
		t.Fatalf("unexpected fallback suggestion")
	}
}
