package app

import (
	"errors"
	"testing"
)

func TestRunGuarded_PropagatesReturnedError(t *testing.T) {
	results := make(chan error, 1)
	want := errors.New("boom")
	runGuarded("test", func() error { return want }, results)

	got := <-results
	if got != want {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestRunGuarded_RecoversPanicAsError(t *testing.T) {
	results := make(chan error, 1)
	go runGuarded("test", func() error { panic("queue overflow") }, results)

	err := <-results
	if err == nil {
		t.Fatalf("expected a panic to surface as an error")
	}
}

func TestRunGuarded_NilErrorOnCleanReturn(t *testing.T) {
	results := make(chan error, 1)
	runGuarded("test", func() error { return nil }, results)

	if err := <-results; err != nil {
		t.Fatalf("expected nil error on clean return, got %v", err)
	}
}
