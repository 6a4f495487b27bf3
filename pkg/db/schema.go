package db

const schema = `
PRAGMA journal_mode = WAL;
PRAGMA synchronous = NORMAL;
PRAGMA foreign_keys = ON;

-- Runs: one row per "regscrape scrape" invocation
CREATE TABLE IF NOT EXISTS runs (
    run_id INTEGER PRIMARY KEY AUTOINCREMENT,
    started_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    finished_at TIMESTAMP,
    until_stage TEXT,
    status TEXT NOT NULL DEFAULT 'running' -- running, success, failed
);

CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at DESC);

-- Stage events: whether a stage was served from cache and what it produced
CREATE TABLE IF NOT EXISTS stage_events (
    event_id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id INTEGER NOT NULL,
    stage TEXT NOT NULL,
    cache_hit BOOLEAN NOT NULL,
    item_count INTEGER NOT NULL DEFAULT 0,
    error_count INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (run_id) REFERENCES runs(run_id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_stage_events_run ON stage_events(run_id);

-- Fetch errors: non-200 responses, never retried
CREATE TABLE IF NOT EXISTS fetch_errors (
    error_id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id INTEGER NOT NULL,
    stage TEXT NOT NULL,
    identifier TEXT NOT NULL,
    status_code INTEGER NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (run_id) REFERENCES runs(run_id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_fetch_errors_run ON fetch_errors(run_id);

-- Raw replies: model output that did not decode, kept for manual review
CREATE TABLE IF NOT EXISTS raw_replies (
    reply_id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id INTEGER NOT NULL,
    course_name TEXT NOT NULL,
    reply TEXT NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (run_id) REFERENCES runs(run_id) ON DELETE CASCADE
);

-- Regulation pages: what was fetched, with title and detected language
CREATE TABLE IF NOT EXISTS regulation_pages (
    page_id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id INTEGER NOT NULL,
    course_id INTEGER NOT NULL,
    course_name TEXT NOT NULL,
    url TEXT NOT NULL,
    title TEXT,
    language TEXT,
    language_confidence REAL,
    size_bytes INTEGER,
    content_hash TEXT NOT NULL,
    FOREIGN KEY (run_id) REFERENCES runs(run_id) ON DELETE CASCADE,
    UNIQUE(run_id, course_id)
);

CREATE INDEX IF NOT EXISTS idx_regulation_pages_run ON regulation_pages(run_id);

-- Stage cache: stage outputs when cache.backend is "sqlite"
CREATE TABLE IF NOT EXISTS stage_cache (
    cache_key TEXT PRIMARY KEY,
    value BLOB NOT NULL,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
`
