// Package audit writes the qscep audit trail: one JSON event per line,
// each chained to its predecessor by a SHA-256 hash so that edits and
// deletions are detectable.
//
// Audit logs are separate from technical logs. A failed audit write fails
// the operation being audited, and secrets (keys, passphrases, PINs) are
// never recorded.
package audit

import (
	"encoding/json"
	"errors"
	"os"
	"time"
)

// EventType is the category of an audit event.
type EventType string

const (
	EventRequestBuilt   EventType = "SCEP_REQUEST_BUILT"
	EventRequestFailed  EventType = "SCEP_REQUEST_FAILED"
	EventInspect        EventType = "SCEP_INSPECT"
	EventReceiptVerify  EventType = "RECEIPT_VERIFY"
	EventKeyAccessed    EventType = "KEY_ACCESSED"
	EventServiceStarted EventType = "SERVICE_STARTED"
)

// Result is the outcome of an audited operation.
type Result string

const (
	ResultSuccess Result = "success"
	ResultFailure Result = "failure"
)

// Actor is who performed the action.
type Actor struct {
	Type string `json:"type"` // "user" or "service"
	ID   string `json:"id"`
	Host string `json:"host,omitempty"`
}

// Object is what was acted upon.
type Object struct {
	Type          string `json:"type"` // "scep_request", "receipt", "key", "service"
	TransactionID string `json:"transaction_id,omitempty"`
	Subject       string `json:"subject,omitempty"`
	Serial        string `json:"serial,omitempty"`
	Path          string `json:"path,omitempty"`
}

// Details carries operation-specific fields.
type Details struct {
	Digest    string `json:"digest,omitempty"`
	Cipher    string `json:"cipher,omitempty"`
	Recipient string `json:"recipient,omitempty"`
	Key       string `json:"key,omitempty"` // location, never material
	Address   string `json:"address,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Verified  bool   `json:"verified,omitempty"`
}

// Event is a single audit log entry.
type Event struct {
	EventType EventType `json:"event_type"`
	Timestamp string    `json:"timestamp"` // RFC 3339, UTC
	Actor     Actor     `json:"actor"`
	Object    Object    `json:"object"`
	Details   Details   `json:"details"`
	Result    Result    `json:"result"`
	HashPrev  string    `json:"hash_prev"`
	Hash      string    `json:"hash"`
}

// NewEvent stamps an event with the current time and the local user.
func NewEvent(eventType EventType, result Result) *Event {
	hostname, _ := os.Hostname()
	user := os.Getenv("USER")
	if user == "" {
		user = os.Getenv("USERNAME")
	}
	if user == "" {
		user = "unknown"
	}
	return &Event{
		EventType: eventType,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Actor:     Actor{Type: "user", ID: user, Host: hostname},
		Result:    result,
	}
}

// ResultOf maps an error to a Result.
func ResultOf(err error) Result {
	if err != nil {
		return ResultFailure
	}
	return ResultSuccess
}

// WithObject sets the object.
func (e *Event) WithObject(obj Object) *Event {
	e.Object = obj
	return e
}

// WithDetails sets the details.
func (e *Event) WithDetails(d Details) *Event {
	e.Details = d
	return e
}

// WithActor overrides the default actor.
func (e *Event) WithActor(actor Actor) *Event {
	e.Actor = actor
	return e
}

// Validate checks that required fields are present.
func (e *Event) Validate() error {
	switch {
	case e.EventType == "":
		return errors.New("event_type is required")
	case e.Timestamp == "":
		return errors.New("timestamp is required")
	case e.Actor.Type == "" || e.Actor.ID == "":
		return errors.New("actor type and id are required")
	case e.Result == "":
		return errors.New("result is required")
	}
	return nil
}

// canonicalJSON is the hashed form: every field but Hash.
func (e *Event) canonicalJSON() ([]byte, error) {
	type hashed struct {
		EventType EventType `json:"event_type"`
		Timestamp string    `json:"timestamp"`
		Actor     Actor     `json:"actor"`
		Object    Object    `json:"object"`
		Details   Details   `json:"details"`
		Result    Result    `json:"result"`
		HashPrev  string    `json:"hash_prev"`
	}
	return json.Marshal(hashed{
		EventType: e.EventType,
		Timestamp: e.Timestamp,
		Actor:     e.Actor,
		Object:    e.Object,
		Details:   e.Details,
		Result:    e.Result,
		HashPrev:  e.HashPrev,
	})
}
