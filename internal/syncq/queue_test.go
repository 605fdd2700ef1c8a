package syncq

import "testing"

func TestLoadEmptyQueue(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	events, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("fresh queue should be empty, got %v", events)
	}
}

func TestPushAndDrain(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	if err := Push(Event{UserID: "a", ReferralCode: "UPABCDEF"}); err != nil {
		t.Fatalf("push: %v", err)
	}
	if err := Push(Event{UserID: "b"}); err != nil {
		t.Fatalf("push: %v", err)
	}

	events, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(events) != 2 || events[0].UserID != "a" || events[1].UserID != "b" {
		t.Fatalf("queue contents %v", events)
	}
	if events[0].ReferralCode != "UPABCDEF" {
		t.Fatalf("code dropped: %v", events[0])
	}

	if err := Save([]Event{}); err != nil {
		t.Fatalf("save: %v", err)
	}
	events, err = Load()
	if err != nil || len(events) != 0 {
		t.Fatalf("drained queue: %v %v", events, err)
	}
}
