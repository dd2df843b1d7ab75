// Package types holds the JSON payloads of the read-only status API.
package types

import "time"

// LabelStatus summarizes one stream label stored in a workspace.
type LabelStatus struct {
	// Label name; the raw data label is "unprocessed".
	// example: 20240101120000
	Label string `json:"label"`
	// Creation time in RFC 3339.
	CreatedAt string `json:"created_at"`
	// Traces stored under the label.
	// example: 36
	Traces int `json:"traces"`
	// Streams stored under the label.
	// example: 12
	Streams int `json:"streams"`
	// Traces that passed every check.
	// example: 30
	Passed int `json:"passed"`
}

// EventSummary describes one event workspace.
type EventSummary struct {
	// Event identifier.
	// example: ci38457511
	ID        string    `json:"id"`
	Time      time.Time `json:"time"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	// Depth in km.
	Depth     float64 `json:"depth"`
	Magnitude float64 `json:"magnitude"`
	// Active is the single processed label, empty for raw-only workspaces.
	Active string `json:"active_label,omitempty"`
	// Error is set when the workspace cannot be summarized, e.g. it holds
	// several processed labels.
	Error  string        `json:"error,omitempty"`
	Labels []LabelStatus `json:"labels"`
}

// EventsResponse is returned by GET /events.
type EventsResponse struct {
	Events []EventSummary `json:"events"`
}

// ProvenanceEntry is one processing step attribute of one trace.
type ProvenanceEntry struct {
	StreamID  string `json:"stream_id"`
	TraceID   string `json:"trace_id"`
	Channel   string `json:"channel"`
	Index     int    `json:"index"`
	Step      string `json:"step"`
	Attribute string `json:"attribute"`
	Value     string `json:"value"`
}

// ProvenanceResponse is returned by GET /events/{id}/provenance.
type ProvenanceResponse struct {
	EventID string            `json:"event_id"`
	Label   string            `json:"label"`
	Entries []ProvenanceEntry `json:"entries"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: event ci1 not found
	Error string `json:"error"`
	// HTTP status code.
	// example: 404
	Code int `json:"code"`
}
