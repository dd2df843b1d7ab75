package pipeline

import (
	"gmbatch/internal/common/fsutil"
	"gmbatch/internal/event"
	"gmbatch/internal/workspace"
)

// Preflight checks every event's workspace before any event runs when the
// run reads processed data without assembling or processing it. A missing
// workspace returns ErrMissingWorkspace; a workspace with more than one
// processed label returns a *workspace.AmbiguousLabelsError.
func Preflight(outdir string, stages Stages, events []event.Event) error {
	if stages.Assemble || stages.Process || !stages.Downstream() {
		return nil
	}
	for _, ev := range events {
		path := workspace.PathFor(outdir, ev.ID)
		if !fsutil.PathExists(path) {
			return missingWorkspace(ev.ID, path)
		}
		ws, err := workspace.Open(path)
		if err != nil {
			return err
		}
		_, err = ws.ActiveLabel()
		cerr := ws.Close()
		if err != nil {
			return err
		}
		if cerr != nil {
			return cerr
		}
	}
	return nil
}
