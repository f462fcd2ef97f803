package network

import (
	"testing"
	"time"
)

// validMessage returns a message that passes validation at time now.
func validMessage(now time.Time) *Message {
	return &Message{
		ID:        NewMessageID(),
		Type:      TypeResourceRequest,
		Sender:    "peer-aaaa",
		Recipient: "peer-bbbb",
		Timestamp: now.UnixMilli(),
	}
}

func TestValidateAcceptsWellFormedMessage(t *testing.T) {
	now := time.Now()

	if err := validMessage(now).Validate(now); err != nil {
		t.Errorf("valid message rejected: %v", err)
	}
}

func TestValidateRejectsMissingFields(t *testing.T) {
	now := time.Now()

	cases := []struct {
		name   string
		mutate func(*Message)
	}{
		{"missing id", func(m *Message) { m.ID = "" }},
		{"missing type", func(m *Message) { m.Type = "" }},
		{"missing sender", func(m *Message) { m.Sender = "" }},
		{"missing recipient", func(m *Message) { m.Recipient = "" }},
		{"missing timestamp", func(m *Message) { m.Timestamp = 0 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := validMessage(now)
			tc.mutate(m)

			if err := m.Validate(now); err == nil {
				t.Error("expected validation failure")
			}
		})
	}
}

func TestValidateRejectsFutureTimestamp(t *testing.T) {
	now := time.Now()

	m := validMessage(now)
	m.Timestamp = now.Add(1 * time.Second).UnixMilli()

	if err := m.Validate(now); err == nil {
		t.Error("message timestamped 1s in the future passed validation")
	}
}

func TestValidateAllowsPastTimestamp(t *testing.T) {
	now := time.Now()

	m := validMessage(now)
	m.Timestamp = now.Add(-1 * time.Hour).UnixMilli()

	if err := m.Validate(now); err != nil {
		t.Errorf("past timestamp rejected: %v", err)
	}
}

func TestMessageIDsAreUnique(t *testing.T) {
	seen := make(map[string]bool)

	for i := 0; i < 1000; i++ {
		id := NewMessageID()
		if seen[id] {
			t.Fatalf("duplicate message id %s", id)
		}
		seen[id] = true
	}
}

func TestPeerIDsAreUnique(t *testing.T) {
	seen := make(map[string]bool)

	for i := 0; i < 1000; i++ {
		id := newPeerID()
		if seen[id] {
			t.Fatalf("duplicate peer id %s", id)
		}
		seen[id] = true
	}
}
