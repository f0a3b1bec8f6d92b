package testkit

import (
	"encoding/json"
	"sync"

	"github.com/connectly/internal/model"
)

// Emitted is one recorded broadcast. Payload holds the JSON the hub would send.
type Emitted struct {
	Room    string
	Except  string
	All     bool
	Event   model.EventType
	Payload json.RawMessage
}

// Recorder is a Broadcaster that remembers every call.
type Recorder struct {
	mu     sync.Mutex
	events []Emitted
}

func (r *Recorder) add(e Emitted, payload any) {
	e.Payload, _ = json.Marshal(payload)
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *Recorder) Emit(room string, event model.EventType, payload any) {
	r.add(Emitted{Room: room, Event: event}, payload)
}

func (r *Recorder) EmitExcept(room, excludeConnID string, event model.EventType, payload any) {
	r.add(Emitted{Room: room, Except: excludeConnID, Event: event}, payload)
}

func (r *Recorder) EmitAll(event model.EventType, payload any) {
	r.add(Emitted{All: true, Event: event}, payload)
}

func (r *Recorder) Events() []Emitted {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Emitted(nil), r.events...)
}

// Of returns the recorded events of one type.
func (r *Recorder) Of(event model.EventType) []Emitted {
	var out []Emitted
	for _, e := range r.Events() {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}
