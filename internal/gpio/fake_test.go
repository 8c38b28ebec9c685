package gpio

import (
	"errors"
	"testing"
)

func TestFakeLineSet(t *testing.T) {
	f := NewFakeLine(false)

	if f.Value() {
		t.Error("expected initial value false")
	}

	if err := f.Set(true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !f.Value() {
		t.Error("expected value true after Set(true)")
	}

	if err := f.Set(false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Value() {
		t.Error("expected value false after Set(false)")
	}

	if len(f.History) != 2 || f.History[0] != true || f.History[1] != false {
		t.Errorf("History: got %v, want [true false]", f.History)
	}
}

func TestFakeLineError(t *testing.T) {
	f := NewFakeLine(true)
	f.SetError = errors.New("simulated error")

	err := f.Set(false)
	if err == nil {
		t.Fatal("expected error to be returned")
	}
	if err.Error() != "simulated error" {
		t.Errorf("unexpected error: %v", err)
	}
	if !f.Value() {
		t.Error("value should not change on error")
	}
}

func TestFakeLineClose(t *testing.T) {
	f := NewFakeLine(false)

	if f.Closed {
		t.Error("should not be closed initially")
	}

	if err := f.Close(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	if !f.Closed {
		t.Error("should be closed after Close()")
	}
}

func TestFakeLineReset(t *testing.T) {
	f := NewFakeLine(false)
	f.Set(true)
	f.Close()

	f.Reset()

	if f.History != nil {
		t.Errorf("History: got %v, want nil", f.History)
	}
	if f.Closed {
		t.Error("Closed should be cleared by Reset")
	}
}
