// Package status answers read-only questions about the workspaces under an
// output directory for the HTTP status API.
package status

import (
	"context"
	"fmt"
	"path/filepath"

	"gmbatch/internal/common/fsutil"
	"gmbatch/internal/workspace"
	"gmbatch/pkg/types"
)

// Service reads workspaces below OutDir. Every call opens and closes the
// workspaces it needs, so a run may write them concurrently.
type Service struct {
	OutDir string
}

// New returns a Service over outdir.
func New(outdir string) *Service { return &Service{OutDir: outdir} }

// ListEvents summarizes every workspace. A workspace that cannot be read is
// listed with its error rather than failing the whole listing.
func (s *Service) ListEvents(ctx context.Context) ([]types.EventSummary, error) {
	paths, err := fsutil.FindFiles(s.OutDir, workspace.FileName, 1)
	if err != nil {
		return nil, err
	}
	out := make([]types.EventSummary, 0, len(paths))
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sum, err := summarize(p)
		if err != nil {
			sum = types.EventSummary{ID: filepath.Base(filepath.Dir(p)), Error: err.Error()}
		}
		out = append(out, sum)
	}
	return out, nil
}

// Event summarizes the workspace of one event.
func (s *Service) Event(ctx context.Context, id string) (types.EventSummary, error) {
	if err := ctx.Err(); err != nil {
		return types.EventSummary{}, err
	}
	return summarize(workspace.PathFor(s.OutDir, id))
}

// Provenance returns the processing history stored under the event's active
// label.
func (s *Service) Provenance(ctx context.Context, id string) (types.ProvenanceResponse, error) {
	if err := ctx.Err(); err != nil {
		return types.ProvenanceResponse{}, err
	}
	ws, err := workspace.Open(workspace.PathFor(s.OutDir, id))
	if err != nil {
		return types.ProvenanceResponse{}, err
	}
	defer ws.Close()
	label, err := ws.ActiveLabel()
	if err != nil {
		return types.ProvenanceResponse{}, err
	}
	if label == "" {
		return types.ProvenanceResponse{}, fmt.Errorf("%w: event %s has no processed streams", workspace.ErrNotFound, id)
	}
	recs, err := ws.Provenance(id, label)
	if err != nil {
		return types.ProvenanceResponse{}, err
	}
	resp := types.ProvenanceResponse{EventID: id, Label: label, Entries: make([]types.ProvenanceEntry, 0, len(recs))}
	for _, r := range recs {
		resp.Entries = append(resp.Entries, types.ProvenanceEntry{
			StreamID:  r.StreamID,
			TraceID:   r.TraceID,
			Channel:   r.Channel,
			Index:     r.Index,
			Step:      r.Step,
			Attribute: r.Attribute,
			Value:     r.Value,
		})
	}
	return resp, nil
}

func summarize(path string) (types.EventSummary, error) {
	ws, err := workspace.Open(path)
	if err != nil {
		return types.EventSummary{}, err
	}
	defer ws.Close()
	ev, err := ws.Event()
	if err != nil {
		return types.EventSummary{}, err
	}
	sum := types.EventSummary{
		ID:        ev.ID,
		Time:      ev.Time,
		Latitude:  ev.Latitude,
		Longitude: ev.Longitude,
		Depth:     ev.Depth,
		Magnitude: ev.Magnitude,
		Labels:    []types.LabelStatus{},
	}
	infos, err := ws.LabelInfos()
	if err != nil {
		return sum, err
	}
	for _, li := range infos {
		sum.Labels = append(sum.Labels, types.LabelStatus{
			Label:     li.Label,
			CreatedAt: li.CreatedAt,
			Traces:    li.Traces,
			Streams:   li.Streams,
			Passed:    li.Passed,
		})
	}
	if sum.Active, err = ws.ActiveLabel(); err != nil {
		sum.Error = err.Error()
	}
	return sum, nil
}
