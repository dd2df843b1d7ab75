package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"gmbatch/internal/workspace"
	"gmbatch/pkg/types"
)

type mockService struct {
	events  []types.EventSummary
	prov    types.ProvenanceResponse
	listErr error
	provErr error
}

func (m *mockService) ListEvents(ctx context.Context) ([]types.EventSummary, error) {
	return append([]types.EventSummary(nil), m.events...), m.listErr
}

func (m *mockService) Event(ctx context.Context, id string) (types.EventSummary, error) {
	for _, ev := range m.events {
		if ev.ID == id {
			return ev, nil
		}
	}
	return types.EventSummary{}, fmt.Errorf("event %s: %w", id, workspace.ErrNotFound)
}

func (m *mockService) Provenance(ctx context.Context, id string) (types.ProvenanceResponse, error) {
	return m.prov, m.provErr
}

type mockHTTPError struct {
	msg  string
	code int
}

func (e mockHTTPError) Error() string   { return e.msg }
func (e mockHTTPError) StatusCode() int { return e.code }

func serve(t *testing.T, svc Service, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	NewMux(svc).ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestEventsHandler(t *testing.T) {
	svc := &mockService{events: []types.EventSummary{{ID: "ev1", Active: "tag"}, {ID: "ev2"}}}
	w := serve(t, svc, "/events")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.Contains(ct, "application/json") {
		t.Fatalf("content-type=%s", ct)
	}
	var body types.EventsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("json: %v", err)
	}
	if len(body.Events) != 2 || body.Events[0].Active != "tag" {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestEventsHandler_EmptyListIsArray(t *testing.T) {
	w := serve(t, &mockService{}, "/events")
	if !strings.Contains(w.Body.String(), `"events":[]`) {
		t.Fatalf("expected empty array, got %s", w.Body.String())
	}
}

func TestEventHandler_NotFound(t *testing.T) {
	w := serve(t, &mockService{}, "/events/nope")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status=%d", w.Code)
	}
	var body types.ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("json: %v", err)
	}
	if body.Code != http.StatusNotFound || !strings.Contains(body.Error, "nope") {
		t.Fatalf("unexpected error body: %+v", body)
	}
}

func TestProvenanceHandler(t *testing.T) {
	svc := &mockService{prov: types.ProvenanceResponse{
		EventID: "ev1",
		Label:   "tag",
		Entries: []types.ProvenanceEntry{{TraceID: "CI.AAA.--.HN1", Step: "Detrend", Attribute: "detrending_method", Value: "demean"}},
	}}
	w := serve(t, svc, "/events/ev1/provenance")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	var body types.ProvenanceResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("json: %v", err)
	}
	if body.Label != "tag" || len(body.Entries) != 1 {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"ambiguous", &workspace.AmbiguousLabelsError{Path: "x", Labels: []string{"a", "b"}}, http.StatusConflict},
		{"http error", mockHTTPError{msg: "busy", code: http.StatusTooManyRequests}, http.StatusTooManyRequests},
		{"canceled", context.Canceled, http.StatusServiceUnavailable},
		{"generic", errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := serve(t, &mockService{provErr: tc.err}, "/events/ev1/provenance")
			if w.Code != tc.want {
				t.Fatalf("status=%d, want %d", w.Code, tc.want)
			}
		})
	}
}

func TestHealthz(t *testing.T) {
	w := serve(t, &mockService{}, "/healthz")
	if w.Code != http.StatusOK || w.Body.String() != "ok" {
		t.Fatalf("status=%d body=%q", w.Code, w.Body.String())
	}
}

func TestCORS_PreflightAllowed(t *testing.T) {
	SetCORSOptions(true, []string{"https://dash.example.org"}, nil, nil)
	defer SetCORSOptions(false, nil, nil, nil)
	req := httptest.NewRequest(http.MethodOptions, "/events", nil)
	req.Header.Set("Origin", "https://dash.example.org")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	w := httptest.NewRecorder()
	NewMux(&mockService{}).ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://dash.example.org" {
		t.Fatalf("allow-origin=%q", got)
	}
}
