package workspace

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"gmbatch/internal/event"
	"gmbatch/internal/gm"
	"gmbatch/internal/table"
)

// MetricsSpec selects the intensity-measure components and types computed
// for each station.
type MetricsSpec struct {
	IMCs []string
	IMTs []string
}

func (s MetricsSpec) withDefaults() MetricsSpec {
	if len(s.IMCs) == 0 {
		s.IMCs = gm.DefaultIMCs
	}
	if len(s.IMTs) == 0 {
		s.IMTs = gm.DefaultIMTs
	}
	return s
}

// minMetricTraces is the fewest traces a stream needs to enter the metric
// tables.
const minMetricTraces = 3

// Metadata columns of the per-component tables, in output order.
const (
	ColEventID       = "EarthquakeId"
	ColEventTime     = "EarthquakeTime"
	ColEventLat      = "EarthquakeLatitude"
	ColEventLon      = "EarthquakeLongitude"
	ColEventDepth    = "EarthquakeDepth"
	ColEventMag      = "EarthquakeMagnitude"
	ColNetwork       = "Network"
	ColStation       = "StationCode"
	ColStationName   = "StationDescription"
	ColStationLat    = "StationLatitude"
	ColStationLon    = "StationLongitude"
	ColStationElev   = "StationElevation"
	ColEpicentralKm  = "EpicentralDistance"
	ColHypocentralKm = "HypocentralDistance"
)

// MetadataColumns lists the non-measure columns of a component table.
var MetadataColumns = []string{
	ColEventID, ColEventTime, ColEventLat, ColEventLon, ColEventDepth, ColEventMag,
	ColNetwork, ColStation, ColStationName, ColStationLat, ColStationLon, ColStationElev,
	ColEpicentralKm, ColHypocentralKm,
}

// IsMetadataColumn reports whether name is one of MetadataColumns.
func IsMetadataColumn(name string) bool {
	for _, c := range MetadataColumns {
		if c == name {
			return true
		}
	}
	return false
}

// EventColumns are the columns of the one-row event summary table.
var EventColumns = []string{"id", "time", "latitude", "longitude", "depth", "magnitude"}

// HasMetrics reports whether metrics have been stored for label.
func (w *Workspace) HasMetrics(label string) (bool, error) {
	db, err := w.conn()
	if err != nil {
		return false, err
	}
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM stations WHERE label = ?", label).Scan(&n); err != nil {
		return false, fmt.Errorf("count stations: %w", err)
	}
	return n > 0, nil
}

// CalcMetrics computes and stores per-station metrics for the streams under
// label. Existing metrics are kept unless force is set. Failed streams and
// streams with fewer than three traces are skipped.
func (w *Workspace) CalcMetrics(eventID, label string, spec MetricsSpec, force bool) error {
	if !force {
		has, err := w.HasMetrics(label)
		if err != nil {
			return err
		}
		if has {
			return nil
		}
	}
	ev, err := w.Event()
	if err != nil {
		return err
	}
	coll, err := w.Streams(eventID, label)
	if err != nil {
		return err
	}
	spec = spec.withDefaults()

	var sums []gm.StationSummary
	for i := range coll.Streams {
		st := &coll.Streams[i]
		if !st.Passed() || len(st.Traces) < minMetricTraces {
			continue
		}
		sum, err := gm.Summarize(st, ev, spec.IMCs, spec.IMTs)
		if err != nil {
			return fmt.Errorf("metrics for %s: %w", st.ID(), err)
		}
		sums = append(sums, sum)
	}
	return w.storeSummaries(label, sums)
}

func (w *Workspace) storeSummaries(label string, sums []gm.StationSummary) error {
	db, err := w.conn()
	if err != nil {
		return err
	}
	ctx := context.Background()
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()
	for _, q := range []string{"DELETE FROM stations WHERE label = ?", "DELETE FROM metrics WHERE label = ?"} {
		if _, err := tx.ExecContext(ctx, q, label); err != nil {
			return fmt.Errorf("clear metrics: %w", err)
		}
	}
	for _, s := range sums {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO stations(label, stream_id, network, station, name, latitude, longitude, elevation, epi_km, hypo_km)
			 VALUES(?,?,?,?,?,?,?,?,?,?)`,
			label, s.StreamID, s.Network, s.Station, s.Name, s.Latitude, s.Longitude, s.Elevation,
			s.EpicentralKm, s.HypocentralKm); err != nil {
			return fmt.Errorf("insert station %s: %w", s.StreamID, err)
		}
		for comp, vals := range s.Values {
			for imt, v := range vals {
				if _, err := tx.ExecContext(ctx,
					"INSERT INTO metrics(label, stream_id, component, imt, value) VALUES(?,?,?,?,?)",
					label, s.StreamID, comp, imt, v); err != nil {
					return fmt.Errorf("insert metric %s %s %s: %w", s.StreamID, comp, imt, err)
				}
			}
		}
	}
	return tx.Commit()
}

// Summaries returns the stored station summaries for label in insertion order.
func (w *Workspace) Summaries(label string) ([]gm.StationSummary, error) {
	db, err := w.conn()
	if err != nil {
		return nil, err
	}
	rows, err := db.Query(
		`SELECT stream_id, network, station, COALESCE(name, ''), latitude, longitude, elevation, epi_km, hypo_km
		 FROM stations WHERE label = ? ORDER BY rowid`, label)
	if err != nil {
		return nil, fmt.Errorf("load stations: %w", err)
	}
	var (
		sums  []gm.StationSummary
		index = map[string]int{}
	)
	for rows.Next() {
		var s gm.StationSummary
		if err := rows.Scan(&s.StreamID, &s.Network, &s.Station, &s.Name, &s.Latitude, &s.Longitude,
			&s.Elevation, &s.EpicentralKm, &s.HypocentralKm); err != nil {
			rows.Close()
			return nil, err
		}
		s.Values = map[string]map[string]float64{}
		index[s.StreamID] = len(sums)
		sums = append(sums, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	mrows, err := db.Query("SELECT stream_id, component, imt, value FROM metrics WHERE label = ?", label)
	if err != nil {
		return nil, fmt.Errorf("load metrics: %w", err)
	}
	defer mrows.Close()
	for mrows.Next() {
		var (
			id, comp, imt string
			v             float64
		)
		if err := mrows.Scan(&id, &comp, &imt, &v); err != nil {
			return nil, err
		}
		i, ok := index[id]
		if !ok {
			continue
		}
		if sums[i].Values[comp] == nil {
			sums[i].Values[comp] = map[string]float64{}
		}
		sums[i].Values[comp][imt] = v
	}
	return sums, mrows.Err()
}

// Tables returns the one-row event table and one table per intensity-measure
// component for label. Metrics are computed first when missing, or always
// when recompute is set.
func (w *Workspace) Tables(label string, spec MetricsSpec, recompute bool) (*table.Table, map[string]*table.Table, error) {
	ev, err := w.Event()
	if err != nil {
		return nil, nil, err
	}
	if err := w.CalcMetrics(ev.ID, label, spec, recompute); err != nil {
		return nil, nil, err
	}
	sums, err := w.Summaries(label)
	if err != nil {
		return nil, nil, err
	}

	events := table.New(EventColumns...)
	events.AddRow(ev.ID, ev.Time.UTC(), ev.Latitude, ev.Longitude, ev.Depth, ev.Magnitude)

	imts := orderedIMTs(spec.withDefaults().IMTs, sums)
	comps := map[string]*table.Table{}
	for _, s := range sums {
		for _, comp := range s.Components() {
			t, ok := comps[comp]
			if !ok {
				t = table.New(append(append([]string(nil), MetadataColumns...), imts...)...)
				comps[comp] = t
			}
			rec := stationRecord(ev, s)
			for imt, v := range s.Values[comp] {
				rec[imt] = v
			}
			t.AddRecord(rec)
		}
	}
	return events, comps, nil
}

func stationRecord(ev event.Event, s gm.StationSummary) map[string]any {
	return map[string]any{
		ColEventID:       ev.ID,
		ColEventTime:     ev.Time.UTC(),
		ColEventLat:      ev.Latitude,
		ColEventLon:      ev.Longitude,
		ColEventDepth:    ev.Depth,
		ColEventMag:      ev.Magnitude,
		ColNetwork:       s.Network,
		ColStation:       s.Station,
		ColStationName:   s.Name,
		ColStationLat:    s.Latitude,
		ColStationLon:    s.Longitude,
		ColStationElev:   s.Elevation,
		ColEpicentralKm:  s.EpicentralKm,
		ColHypocentralKm: s.HypocentralKm,
	}
}

// orderedIMTs keeps the requested order and appends any stored extras sorted.
func orderedIMTs(requested []string, sums []gm.StationSummary) []string {
	seen := map[string]bool{}
	var out []string
	for _, imt := range requested {
		u := strings.ToUpper(imt)
		if gm.Supported(u) && !seen[u] {
			seen[u] = true
			out = append(out, u)
		}
	}
	var extra []string
	for _, s := range sums {
		for _, vals := range s.Values {
			for imt := range vals {
				if !seen[imt] {
					seen[imt] = true
					extra = append(extra, imt)
				}
			}
		}
	}
	sort.Strings(extra)
	return append(out, extra...)
}

// ProvenanceTable flattens Provenance into a table.
func (w *Workspace) ProvenanceTable(eventID, label string) (*table.Table, error) {
	recs, err := w.Provenance(eventID, label)
	if err != nil {
		return nil, err
	}
	t := table.New("StreamID", "TraceID", "Channel", "Index", "Process Step", "Attribute", "Value")
	for _, r := range recs {
		t.AddRow(r.StreamID, r.TraceID, r.Channel, r.Index, r.Step, r.Attribute, r.Value)
	}
	return t, nil
}

// ShakemapTable is the per-station peak-motion table for label: one row per
// station with every component/measure pair as a column.
func (w *Workspace) ShakemapTable(label string, spec MetricsSpec) (*table.Table, error) {
	ev, err := w.Event()
	if err != nil {
		return nil, err
	}
	if err := w.CalcMetrics(ev.ID, label, spec, false); err != nil {
		return nil, err
	}
	sums, err := w.Summaries(label)
	if err != nil {
		return nil, err
	}
	t := table.New(ColNetwork, ColStation, ColStationName, ColStationLat, ColStationLon,
		ColEpicentralKm, ColHypocentralKm)
	for _, s := range sums {
		rec := map[string]any{
			ColNetwork:       s.Network,
			ColStation:       s.Station,
			ColStationName:   s.Name,
			ColStationLat:    s.Latitude,
			ColStationLon:    s.Longitude,
			ColEpicentralKm:  s.EpicentralKm,
			ColHypocentralKm: s.HypocentralKm,
		}
		var order []string
		for _, comp := range s.Components() {
			for imt, v := range s.Values[comp] {
				rec[comp+"_"+imt] = v
				order = append(order, comp+"_"+imt)
			}
		}
		sort.Strings(order)
		t.AddRecord(rec, order...)
	}
	return t, nil
}
