package proc

import (
	"context"
	"errors"
	"testing"
	"time"
)

// countingStub is a Counter returning a fixed value and recording how many
// real scans it performed.
type countingStub struct {
	value int
	err   error
	scans int
}

func (s *countingStub) CountWorkers(context.Context) (int, error) {
	s.scans++
	return s.value, s.err
}

func TestCachedCounter_ServesFromCache(t *testing.T) {
	stub := &countingStub{value: 7}
	c := NewCachedCounter(stub, time.Hour)

	for i := 0; i < 5; i++ {
		got, err := c.CountWorkers(context.Background())
		if err != nil {
			t.Fatalf("CountWorkers: %v", err)
		}
		if got != 7 {
			t.Fatalf("CountWorkers = %d, want 7", got)
		}
	}

	if stub.scans != 1 {
		t.Errorf("inner scans = %d, want 1 (remaining calls served from cache)", stub.scans)
	}
}

func TestCachedCounter_ZeroTTLAlwaysScans(t *testing.T) {
	stub := &countingStub{value: 3}
	c := NewCachedCounter(stub, 0)

	for i := 0; i < 3; i++ {
		if _, err := c.CountWorkers(context.Background()); err != nil {
			t.Fatalf("CountWorkers: %v", err)
		}
	}
	if stub.scans != 3 {
		t.Errorf("inner scans = %d, want 3", stub.scans)
	}
}

func TestCachedCounter_RefreshBypassesCache(t *testing.T) {
	stub := &countingStub{value: 2}
	c := NewCachedCounter(stub, time.Hour)

	if _, err := c.CountWorkers(context.Background()); err != nil {
		t.Fatalf("CountWorkers: %v", err)
	}

	stub.value = 9
	got, err := c.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if got != 9 {
		t.Errorf("Refresh = %d, want 9", got)
	}
	if stub.scans != 2 {
		t.Errorf("inner scans = %d, want 2", stub.scans)
	}

	// The refreshed value now serves subsequent cached reads.
	got, _ = c.CountWorkers(context.Background())
	if got != 9 {
		t.Errorf("post-refresh CountWorkers = %d, want 9", got)
	}
}

func TestCachedCounter_ErrorPropagates(t *testing.T) {
	scanErr := errors.New("proc table unavailable")
	stub := &countingStub{err: scanErr}
	c := NewCachedCounter(stub, time.Hour)

	if _, err := c.CountWorkers(context.Background()); !errors.Is(err, scanErr) {
		t.Errorf("CountWorkers error = %v, want %v", err, scanErr)
	}
}
