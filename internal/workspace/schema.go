package workspace

// schemaVersion is the target schema version for this build.
const schemaVersion = 1

var schemaV1 = `
CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL);

CREATE TABLE IF NOT EXISTS event (
	id        TEXT PRIMARY KEY,
	time      TEXT NOT NULL,
	latitude  REAL NOT NULL,
	longitude REAL NOT NULL,
	depth     REAL NOT NULL,
	magnitude REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS labels (
	label      TEXT PRIMARY KEY,
	created_at TEXT NOT NULL
);

-- one row per trace; payload is the JSON-encoded stream.Trace including
-- its provenance and failure state
CREATE TABLE IF NOT EXISTS traces (
	label     TEXT NOT NULL,
	seq       INTEGER NOT NULL,
	stream_id TEXT NOT NULL,
	trace_id  TEXT NOT NULL,
	passed    INTEGER NOT NULL,
	payload   BLOB NOT NULL,
	PRIMARY KEY (label, seq)
);

CREATE TABLE IF NOT EXISTS stations (
	label     TEXT NOT NULL,
	stream_id TEXT NOT NULL,
	network   TEXT NOT NULL,
	station   TEXT NOT NULL,
	name      TEXT,
	latitude  REAL NOT NULL,
	longitude REAL NOT NULL,
	elevation REAL NOT NULL,
	epi_km    REAL NOT NULL,
	hypo_km   REAL NOT NULL,
	PRIMARY KEY (label, stream_id)
);

CREATE TABLE IF NOT EXISTS metrics (
	label     TEXT NOT NULL,
	stream_id TEXT NOT NULL,
	component TEXT NOT NULL,
	imt       TEXT NOT NULL,
	value     REAL NOT NULL,
	PRIMARY KEY (label, stream_id, component, imt)
);
`
