package model

import (
	"encoding/json"
	"time"
)

// ResultStatus is the closed set of outcomes a dispatched job can resolve to.
type ResultStatus string

const (
	// StatusSuccess means the job completed and its effects are applied.
	StatusSuccess ResultStatus = "success"
	// StatusDefiniteFailure means the job is known not to have applied any
	// effect; compensation is safe.
	StatusDefiniteFailure ResultStatus = "definite_failure"
	// StatusUnknown means no ack arrived before the deadline. The job may
	// have completed downstream; callers must not compensate.
	StatusUnknown ResultStatus = "unknown"
)

// Result is the three-way outcome of a dispatch-and-wait cycle.
type Result struct {
	Status ResultStatus    `json:"status"`
	Data   json.RawMessage `json:"data,omitempty"`
	Err    string          `json:"error,omitempty"`
}

// Success wraps data in a success result.
func Success(data json.RawMessage) Result {
	return Result{Status: StatusSuccess, Data: data}
}

// DefiniteFailure wraps an error message in a failure result.
func DefiniteFailure(msg string) Result {
	return Result{Status: StatusDefiniteFailure, Err: msg}
}

// Unknown is the timeout outcome.
func Unknown() Result {
	return Result{Status: StatusUnknown}
}

// AckPayload is the transient record published through the result channels
// to resolve a waiting dispatcher. Never persisted beyond channel retention.
type AckPayload struct {
	EventID  string          `json:"eventId"`
	Type     JobKind         `json:"type"`
	Identity Identity        `json:"identity"`
	OK       bool            `json:"ok"`
	Data     json.RawMessage `json:"data,omitempty"`
	Error    string          `json:"error,omitempty"`
	// Complete marks payloads that fully describe the applied effect and are
	// therefore safe to accept on a fallback (non-exact) match.
	Complete  bool      `json:"complete,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// ToResult converts an accepted payload into the dispatcher's result.
func (p *AckPayload) ToResult() Result {
	if p.OK {
		return Success(p.Data)
	}
	return DefiniteFailure(p.Error)
}
