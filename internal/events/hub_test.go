package events

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestHubFanOut(t *testing.T) {
	hub := NewHub()

	var first, second []Type
	unsubscribe := hub.Subscribe(ObserverFunc(func(m Message) { first = append(first, m.Type) }))
	hub.Subscribe(ObserverFunc(func(m Message) { second = append(second, m.Type) }))

	hub.Publish(ChunkSkipped{ChunkID: 1})
	hub.Publish(AudioLevel{Level: 0.2})

	unsubscribe()
	unsubscribe()
	hub.Publish(SessionState{State: "stopped"})

	if len(first) != 2 || first[0] != TypeChunkSkipped || first[1] != TypeAudioLevel {
		t.Errorf("first observer saw %v", first)
	}
	if len(second) != 3 || second[2] != TypeSessionState {
		t.Errorf("second observer saw %v", second)
	}
	if hub.Subscribers() != 1 {
		t.Errorf("Subscribers() = %d, want 1", hub.Subscribers())
	}
	if hub.Published() != 3 {
		t.Errorf("Published() = %d, want 3", hub.Published())
	}
}

func TestChannelObserverDropsWhenFull(t *testing.T) {
	obs := NewChannelObserver(2)
	hub := NewHub()
	hub.Subscribe(obs)

	for i := 0; i < 5; i++ {
		hub.Publish(ChunkDropped{ChunkID: uint64(i)})
	}

	if len(obs.C) != 2 {
		t.Errorf("buffered = %d, want 2", len(obs.C))
	}
	if obs.Dropped() != 3 {
		t.Errorf("Dropped() = %d, want 3", obs.Dropped())
	}
	msg := <-obs.C
	if got := msg.Data.(ChunkDropped).ChunkID; got != 0 {
		t.Errorf("first buffered chunk = %d, want 0", got)
	}
}

func TestMessageJSON(t *testing.T) {
	hub := NewHub()
	var msg Message
	hub.Subscribe(ObserverFunc(func(m Message) { msg = m }))
	hub.Publish(ParameterUpdated{Name: "silenceThreshold", OldValue: -40, NewValue: -30})

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	s := string(data)
	for _, want := range []string{`"type":"parameter-updated"`, `"name":"silenceThreshold"`, `"new_value":-30`} {
		if !strings.Contains(s, want) {
			t.Errorf("JSON %s missing %s", s, want)
		}
	}
}
