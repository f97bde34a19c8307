package store

import (
	"database/sql"
	"fmt"
	"os"
	"sync"

	"stepguard/internal/logging"
)

// CodeGraphName is the on-disk filename of the optional code graph.
const CodeGraphName = "codegraph.db"

// Graph entity kinds and edge types used by the audit augmentation.
const (
	EntityExecution = "execution"
	EntityFile      = "file"
	EdgeExecutedOn  = "EXECUTED_ON"
)

// GraphEntity is a persisted node of the code graph.
type GraphEntity struct {
	ID       int64  `json:"id"`
	Kind     string `json:"kind"`
	Name     string `json:"name"`
	FilePath string `json:"file_path,omitempty"`
	Data     string `json:"data,omitempty"`
}

// GraphEdge is a persisted relation between two graph entities.
type GraphEdge struct {
	ID       int64  `json:"id"`
	FromID   int64  `json:"from_id"`
	ToID     int64  `json:"to_id"`
	EdgeType string `json:"edge_type"`
	Data     string `json:"data,omitempty"`
}

// GraphStore augments the execution log with entities and edges linking
// executions to the files they touched. It is optional: everything else
// must work when no codegraph.db exists.
type GraphStore struct {
	db     *sql.DB
	mu     sync.Mutex
	dbPath string
}

// OpenGraphStore opens (or creates) the code graph at the given path.
func OpenGraphStore(path string) (*GraphStore, error) {
	logging.Store("Opening code graph at %s", path)

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	g := &GraphStore{db: db, dbPath: path}
	if err := g.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return g, nil
}

// OpenGraphStoreIfExists opens the code graph only when the file is
// already present. Returns (nil, nil) when it is absent, which callers
// treat as "no graph augmentation".
func OpenGraphStoreIfExists(path string) (*GraphStore, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		logging.StoreDebug("No code graph at %s, continuing without it", path)
		return nil, nil
	}
	return OpenGraphStore(path)
}

// initialize creates the required tables.
func (g *GraphStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS graph_entities (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		kind TEXT NOT NULL,
		name TEXT NOT NULL,
		file_path TEXT,
		data TEXT,
		UNIQUE(kind, name)
	);
	CREATE INDEX IF NOT EXISTS idx_entities_kind ON graph_entities(kind);
	CREATE INDEX IF NOT EXISTS idx_entities_file_path ON graph_entities(file_path);

	CREATE TABLE IF NOT EXISTS graph_edges (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		from_id INTEGER NOT NULL,
		to_id INTEGER NOT NULL,
		edge_type TEXT NOT NULL,
		data TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_edges_from ON graph_edges(from_id);
	CREATE INDEX IF NOT EXISTS idx_edges_to ON graph_edges(to_id);
	CREATE INDEX IF NOT EXISTS idx_edges_type ON graph_edges(edge_type);
	`
	_, err := g.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (g *GraphStore) Close() error {
	return g.db.Close()
}

// Path returns the database file path.
func (g *GraphStore) Path() string {
	return g.dbPath
}

// ensureEntity returns the id of the (kind, name) entity, creating it
// if needed. Caller holds g.mu.
func (g *GraphStore) ensureEntity(kind, name, filePath string) (int64, error) {
	var id int64
	err := g.db.QueryRow(
		"SELECT id FROM graph_entities WHERE kind = ? AND name = ?", kind, name,
	).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	res, err := g.db.Exec(
		"INSERT INTO graph_entities (kind, name, file_path) VALUES (?, ?, ?)",
		kind, name, nullable(filePath),
	)
	if err != nil {
		return 0, fmt.Errorf("%w: insert entity %s/%s: %v", ErrStorage, kind, name, err)
	}
	return res.LastInsertId()
}

// LinkExecutionToFile records that an execution touched a file: both
// entities are created on demand and joined by an EXECUTED_ON edge.
func (g *GraphStore) LinkExecutionToFile(executionID, filePath string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	execEntity, err := g.ensureEntity(EntityExecution, executionID, "")
	if err != nil {
		return err
	}
	fileEntity, err := g.ensureEntity(EntityFile, filePath, filePath)
	if err != nil {
		return err
	}

	_, err = g.db.Exec(
		"INSERT INTO graph_edges (from_id, to_id, edge_type) VALUES (?, ?, ?)",
		execEntity, fileEntity, EdgeExecutedOn,
	)
	if err != nil {
		return fmt.Errorf("%w: insert edge: %v", ErrStorage, err)
	}

	logging.StoreDebug("Linked execution %s EXECUTED_ON %s", executionID, filePath)
	return nil
}

// GetStats returns row counts per table.
func (g *GraphStore) GetStats() (map[string]int64, error) {
	stats := make(map[string]int64)
	for _, table := range []string{"graph_entities", "graph_edges"} {
		var count int64
		if err := g.db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&count); err != nil {
			logging.StoreDebug("Table %s count failed: %v", table, err)
			continue
		}
		stats[table] = count
	}
	return stats, nil
}
