package triage

import (
	"encoding/json"
	"time"
)

// EventType tags the variants of a run's event stream.
type EventType string

const (
	EventConnected EventType = "connected"
	EventStart     EventType = "start"
	EventStep      EventType = "step"
	EventRetry     EventType = "retry"
	EventFallback  EventType = "fallback"
	EventComplete  EventType = "complete"
	EventError     EventType = "error"
)

// Event is the tagged variant carried on a run's event channel. Exactly
// one payload field is set, matching Type; subscribers switch on Type.
type Event struct {
	Type      EventType
	Timestamp time.Time

	Connected *ConnectedData
	Start     *StartData
	Step      *StepData
	Retry     *RetryData
	Fallback  *FallbackData
	Complete  *CompleteData
	Error     *ErrorData
}

// ConnectedData is the synthetic first event on every subscription.
type ConnectedData struct {
	RunID string `json:"runId"`
}

// StartData announces a run beginning.
type StartData struct {
	RunID   string `json:"runId"`
	AlertID string `json:"alertId"`
}

// StepData reports one step attempt, including fallback substitutes.
type StepData struct {
	Name       string     `json:"name"`
	OK         bool       `json:"ok"`
	DurationMS int64      `json:"duration_ms"`
	Result     StepResult `json:"result,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// RetryData precedes a retried step attempt.
type RetryData struct {
	Step    string `json:"step"`
	Attempt int    `json:"attempt"`
}

// FallbackData announces that retries are exhausted and a substitute
// result follows.
type FallbackData struct {
	Step      string `json:"step"`
	LastError string `json:"lastError"`
}

// CompleteData carries the terminal result.
type CompleteData struct {
	Result *Result `json:"result"`
}

// ErrorData is the terminal failure payload.
type ErrorData struct {
	Message string `json:"message"`
}

// MarshalJSON renders the wire form {"type":...,"data":...,"timestamp":...}.
func (e Event) MarshalJSON() ([]byte, error) {
	var data any
	switch e.Type {
	case EventConnected:
		data = e.Connected
	case EventStart:
		data = e.Start
	case EventStep:
		data = e.Step
	case EventRetry:
		data = e.Retry
	case EventFallback:
		data = e.Fallback
	case EventComplete:
		data = e.Complete
	case EventError:
		data = e.Error
	}
	return json.Marshal(struct {
		Type      EventType `json:"type"`
		Data      any       `json:"data"`
		Timestamp time.Time `json:"timestamp"`
	}{e.Type, data, e.Timestamp})
}

// Terminal reports whether this event ends the stream.
func (e Event) Terminal() bool {
	return e.Type == EventComplete || e.Type == EventError
}

func newEvent(t EventType) Event {
	return Event{Type: t, Timestamp: time.Now().UTC()}
}

func stepEvent(s AgentStep) Event {
	ev := newEvent(EventStep)
	ev.Step = &StepData{Name: s.Name, OK: s.OK, DurationMS: s.DurationMS, Result: s.Result, Error: s.Error}
	return ev
}
