package system

import (
	"context"
	"errors"
	"testing"
)

type recordingService struct {
	name    string
	log     *[]string
	failOn  string // "start" or "stop"
}

func (s *recordingService) Name() string { return s.name }

func (s *recordingService) Start(context.Context) error {
	*s.log = append(*s.log, "start:"+s.name)
	if s.failOn == "start" {
		return errors.New("boom")
	}
	return nil
}

func (s *recordingService) Stop(context.Context) error {
	*s.log = append(*s.log, "stop:"+s.name)
	if s.failOn == "stop" {
		return errors.New("boom")
	}
	return nil
}

func TestStartStopOrder(t *testing.T) {
	var log []string
	m := NewManager(nil)
	m.Register(&recordingService{name: "a", log: &log})
	m.Register(&recordingService{name: "b", log: &log})

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}

	want := []string{"start:a", "start:b", "stop:b", "stop:a"}
	if len(log) != len(want) {
		t.Fatalf("expected %v, got %v", want, log)
	}
	for i := range want {
		if log[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, log)
		}
	}
}

func TestStartFailureRollsBack(t *testing.T) {
	var log []string
	m := NewManager(nil)
	m.Register(&recordingService{name: "a", log: &log})
	m.Register(&recordingService{name: "b", log: &log, failOn: "start"})
	m.Register(&recordingService{name: "c", log: &log})

	if err := m.Start(context.Background()); err == nil {
		t.Fatalf("expected start error")
	}

	want := []string{"start:a", "start:b", "stop:a"}
	if len(log) != len(want) {
		t.Fatalf("expected %v, got %v", want, log)
	}
	for i := range want {
		if log[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, log)
		}
	}
}

func TestStopReturnsFirstErrorButStopsAll(t *testing.T) {
	var log []string
	m := NewManager(nil)
	m.Register(&recordingService{name: "a", log: &log})
	m.Register(&recordingService{name: "b", log: &log, failOn: "stop"})

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.Stop(context.Background()); err == nil {
		t.Fatalf("expected stop error")
	}

	// Both services were asked to stop despite b failing.
	stops := 0
	for _, entry := range log {
		if entry == "stop:a" || entry == "stop:b" {
			stops++
		}
	}
	if stops != 2 {
		t.Fatalf("expected both stops, log %v", log)
	}
}
