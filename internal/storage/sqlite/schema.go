package sqlite

const schema = `
-- Content fingerprints of record files, for incremental runs
CREATE TABLE IF NOT EXISTS file_sync_state (
    file_path TEXT PRIMARY KEY,
    content_hash TEXT NOT NULL,
    file_size INTEGER NOT NULL DEFAULT 0,
    last_modified TEXT,
    last_synced TEXT NOT NULL
);

-- Small key/value sync bookkeeping (conflict flags, last sync times)
CREATE TABLE IF NOT EXISTS sync_metadata (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

-- One row per finalized sync run
CREATE TABLE IF NOT EXISTS sync_metrics (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    operation_id TEXT NOT NULL UNIQUE,
    backend_type TEXT NOT NULL,
    duration_seconds REAL NOT NULL DEFAULT 0,
    metrics_blob TEXT NOT NULL,
    created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sync_metrics_created ON sync_metrics(created_at);

-- Local issue to remote issue mapping, per backend
CREATE TABLE IF NOT EXISTS issue_remote_links (
    issue_id TEXT NOT NULL,
    backend_name TEXT NOT NULL,
    remote_id TEXT NOT NULL,
    created_at TEXT NOT NULL,
    UNIQUE(issue_id, backend_name)
);

CREATE INDEX IF NOT EXISTS idx_issue_remote_links_remote ON issue_remote_links(backend_name, remote_id);
`
