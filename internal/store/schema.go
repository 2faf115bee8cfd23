package store

// migrations is the ordered, dense 1..N sequence of schema migrations. Only
// the "complete" schema variant is implemented, per the decision recorded in
// SPEC_FULL.md resolving the spec's open question about the two competing
// v001 migrations in the original sources.
var migrations = []Migration{
	{
		Version: 1,
		Name:    "complete_schema",
		Up: `
CREATE TABLE project (
	project_id   TEXT PRIMARY KEY,
	root_path    TEXT NOT NULL UNIQUE,
	name         TEXT NOT NULL,
	created_at   TEXT NOT NULL
);

CREATE TABLE workspace (
	workspace_id   TEXT PRIMARY KEY,
	project_id     TEXT NOT NULL REFERENCES project(project_id),
	name           TEXT NOT NULL,
	path           TEXT NOT NULL,
	current_branch TEXT,
	head_commit    TEXT,
	created_at     TEXT NOT NULL
);

CREATE TABLE file (
	file_id       TEXT PRIMARY KEY,
	project_id    TEXT NOT NULL REFERENCES project(project_id),
	relative_path TEXT NOT NULL,
	absolute_path TEXT NOT NULL,
	language      TEXT,
	size_bytes    INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE analysis_run (
	run_id          TEXT PRIMARY KEY,
	workspace_id    TEXT NOT NULL REFERENCES workspace(workspace_id),
	analyzer_type   TEXT NOT NULL,
	status          TEXT NOT NULL,
	started_at      TEXT NOT NULL,
	completed_at    TEXT,
	files_processed INTEGER NOT NULL DEFAULT 0,
	symbols_found   INTEGER NOT NULL DEFAULT 0,
	errors          INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE file_analysis (
	analysis_id     TEXT PRIMARY KEY,
	run_id          TEXT NOT NULL REFERENCES analysis_run(run_id),
	file_id         TEXT NOT NULL REFERENCES file(file_id),
	status          TEXT NOT NULL,
	symbols_found   INTEGER NOT NULL DEFAULT 0,
	references_found INTEGER NOT NULL DEFAULT 0,
	errors          INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE symbol_state (
	symbol_uid      TEXT PRIMARY KEY,
	file_path       TEXT NOT NULL,
	language        TEXT NOT NULL,
	name            TEXT NOT NULL,
	fqn             TEXT,
	kind            TEXT NOT NULL,
	signature       TEXT,
	visibility      TEXT,
	def_start_line  INTEGER NOT NULL,
	def_start_char  INTEGER NOT NULL,
	def_end_line    INTEGER NOT NULL,
	def_end_char    INTEGER NOT NULL,
	is_definition   INTEGER NOT NULL DEFAULT 0,
	documentation   TEXT,
	metadata        TEXT
);

CREATE TABLE edge (
	relation           TEXT NOT NULL,
	source_symbol_uid  TEXT NOT NULL,
	target_symbol_uid  TEXT NOT NULL,
	start_line         INTEGER,
	start_char         INTEGER,
	confidence         REAL NOT NULL DEFAULT 1.0,
	language           TEXT,
	metadata           TEXT
);

CREATE TABLE file_dependency (
	dependency_id     TEXT PRIMARY KEY,
	project_id        TEXT NOT NULL,
	source_file_id    TEXT NOT NULL,
	target_file_id    TEXT NOT NULL,
	dependency_type   TEXT NOT NULL,
	import_statement  TEXT,
	git_commit_hash   TEXT
);

CREATE TABLE indexer_queue (
	queue_id      TEXT PRIMARY KEY,
	workspace_id  TEXT NOT NULL,
	file_id       TEXT NOT NULL,
	priority      INTEGER NOT NULL,
	operation_type TEXT NOT NULL,
	status        TEXT NOT NULL,
	retry_count   INTEGER NOT NULL DEFAULT 0,
	error_message TEXT,
	created_at    TEXT NOT NULL
);

CREATE TABLE indexer_checkpoint (
	checkpoint_id      TEXT PRIMARY KEY,
	workspace_id       TEXT NOT NULL,
	operation_type     TEXT NOT NULL,
	last_processed_file TEXT,
	files_processed    INTEGER NOT NULL DEFAULT 0,
	total_files        INTEGER NOT NULL DEFAULT 0,
	checkpoint_data    TEXT
);

CREATE VIEW file_dependencies_named AS
	SELECT fd.dependency_id, fd.dependency_type, fd.import_statement,
	       sf.relative_path AS source_name, tf.relative_path AS target_name
	FROM file_dependency fd
	JOIN file sf ON sf.file_id = fd.source_file_id
	JOIN file tf ON tf.file_id = fd.target_file_id;

CREATE INDEX idx_project_root_path ON project(root_path);
CREATE INDEX idx_workspace_project_id ON workspace(project_id);
CREATE INDEX idx_workspace_path ON workspace(path);
CREATE INDEX idx_workspace_branch ON workspace(current_branch);
CREATE INDEX idx_file_project_id ON file(project_id);
CREATE INDEX idx_file_language ON file(language);
CREATE INDEX idx_file_project_relpath ON file(project_id, relative_path);
CREATE INDEX idx_symbol_state_uid ON symbol_state(symbol_uid);
CREATE INDEX idx_symbol_state_language ON symbol_state(language);
CREATE INDEX idx_symbol_state_file_path ON symbol_state(file_path);
CREATE INDEX idx_edge_source ON edge(source_symbol_uid);
CREATE INDEX idx_edge_target ON edge(target_symbol_uid);
CREATE INDEX idx_edge_source_relation ON edge(source_symbol_uid, relation);
CREATE INDEX idx_edge_target_relation ON edge(target_symbol_uid, relation);
CREATE INDEX idx_queue_workspace_status_priority ON indexer_queue(workspace_id, status, priority DESC);
CREATE INDEX idx_checkpoint_status_created ON indexer_checkpoint(workspace_id, operation_type);
`,
		Down: `
DROP VIEW IF EXISTS file_dependencies_named;
DROP TABLE IF EXISTS indexer_checkpoint;
DROP TABLE IF EXISTS indexer_queue;
DROP TABLE IF EXISTS file_dependency;
DROP TABLE IF EXISTS edge;
DROP TABLE IF EXISTS symbol_state;
DROP TABLE IF EXISTS file_analysis;
DROP TABLE IF EXISTS analysis_run;
DROP TABLE IF EXISTS file;
DROP TABLE IF EXISTS workspace;
DROP TABLE IF EXISTS project;
`,
	},
}
