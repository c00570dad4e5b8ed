package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"

	"funcmatch/internal/graph"

	_ "github.com/mattn/go-sqlite3"
)

// ErrSameBinary is returned when a similarity graph is requested for a
// binary against itself.
var ErrSameBinary = errors.New("query and target binary must differ")

// DefaultExcludedSections are never part of a loaded call graph.
var DefaultExcludedSections = []string{"extern", ".plt", ".plt.sec", ".plt.got"}

// maxParams keeps IN lists below SQLite's bound-parameter limit.
const maxParams = 500

type SQLiteStore struct {
	db       *sql.DB
	excluded map[string]bool
}

// NewSQLiteStore creates or opens a SQLite database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	// One writer at a time; the pipeline reads concurrently through Go.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	s := &SQLiteStore{db: db}
	s.SetExcludedSections(DefaultExcludedSections)
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}

	return s, nil
}

// SetExcludedSections replaces the sections CallGraph leaves out.
func (s *SQLiteStore) SetExcludedSections(sections []string) {
	s.excluded = make(map[string]bool, len(sections))
	for _, sec := range sections {
		s.excluded[sec] = true
	}
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS binaries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			path TEXT NOT NULL UNIQUE,
			arch TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS functions (
			id INTEGER PRIMARY KEY,
			binary_id INTEGER NOT NULL REFERENCES binaries(id) ON DELETE CASCADE,
			name TEXT,
			section TEXT,
			address INTEGER,
			size INTEGER
		);`,
		`CREATE TABLE IF NOT EXISTS call_graph_edges (
			binary_id INTEGER NOT NULL REFERENCES binaries(id) ON DELETE CASCADE,
			caller_id INTEGER NOT NULL,
			callee_id INTEGER NOT NULL,
			PRIMARY KEY (binary_id, caller_id, callee_id)
		);`,
		`CREATE TABLE IF NOT EXISTS similarities (
			query_function_id INTEGER NOT NULL,
			target_function_id INTEGER NOT NULL,
			similarity REAL NOT NULL,
			PRIMARY KEY (query_function_id, target_function_id)
		);`,
		`CREATE TABLE IF NOT EXISTS pairs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			query_binary_id INTEGER NOT NULL,
			query_function_id INTEGER NOT NULL,
			target_binary_id INTEGER NOT NULL,
			target_function_id INTEGER NOT NULL,
			label INTEGER NOT NULL DEFAULT 0,
			UNIQUE (query_function_id, target_function_id)
		);`,
		`CREATE TABLE IF NOT EXISTS results (
			pair_id INTEGER PRIMARY KEY REFERENCES pairs(id) ON DELETE CASCADE,
			firmup_status TEXT,
			firmup_reason TEXT,
			firmup_target INTEGER,
			firmup_steps INTEGER,
			neighbsim_score REAL,
			error TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_functions_binary ON functions(binary_id);`,
		`CREATE INDEX IF NOT EXISTS idx_similarities_target ON similarities(target_function_id);`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return err
		}
	}
	return nil
}

// --- BinaryStore Implementation ---

func (s *SQLiteStore) AddBinary(ctx context.Context, name, path, arch string) (int64, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO binaries (name, path, arch) VALUES (?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET name=excluded.name, arch=excluded.arch
	`, name, path, arch)
	if err != nil {
		return 0, err
	}

	var id int64
	if err := s.db.QueryRowContext(ctx, "SELECT id FROM binaries WHERE path = ?", path).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func (s *SQLiteStore) GetBinary(ctx context.Context, id int64) (*Binary, error) {
	var b Binary
	var arch sql.NullString
	row := s.db.QueryRowContext(ctx, "SELECT id, name, path, arch FROM binaries WHERE id = ?", id)
	if err := row.Scan(&b.ID, &b.Name, &b.Path, &arch); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("binary %d not found", id)
		}
		return nil, err
	}
	b.Arch = arch.String
	return &b, nil
}

func (s *SQLiteStore) ListBinaries(ctx context.Context) ([]Binary, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, name, path, arch FROM binaries ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Binary
	for rows.Next() {
		var b Binary
		var arch sql.NullString
		if err := rows.Scan(&b.ID, &b.Name, &b.Path, &arch); err != nil {
			return nil, err
		}
		b.Arch = arch.String
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SaveCallGraph(ctx context.Context, binaryID int64, functions []Function, edges []graph.Edge) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Snapshot semantics: previous functions and edges of the binary go away.
	if _, err := tx.ExecContext(ctx, "DELETE FROM call_graph_edges WHERE binary_id = ?", binaryID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM functions WHERE binary_id = ?", binaryID); err != nil {
		return err
	}

	fnStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO functions (id, binary_id, name, section, address, size)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer fnStmt.Close()

	for _, fn := range functions {
		if _, err := fnStmt.ExecContext(ctx, int64(fn.ID), binaryID, fn.Name, fn.Section, int64(fn.Address), int64(fn.Size)); err != nil {
			return fmt.Errorf("insert function %d: %w", fn.ID, err)
		}
	}

	edgeStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO call_graph_edges (binary_id, caller_id, callee_id) VALUES (?, ?, ?)
		ON CONFLICT(binary_id, caller_id, callee_id) DO NOTHING
	`)
	if err != nil {
		return err
	}
	defer edgeStmt.Close()

	for _, e := range edges {
		if _, err := edgeStmt.ExecContext(ctx, binaryID, int64(e.From), int64(e.To)); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) Functions(ctx context.Context, binaryID int64) ([]Function, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, binary_id, name, section, address, size
		FROM functions WHERE binary_id = ? ORDER BY id
	`, binaryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Function
	for rows.Next() {
		var fn Function
		var name, section sql.NullString
		var addr, size int64
		if err := rows.Scan(&fn.ID, &fn.BinaryID, &name, &section, &addr, &size); err != nil {
			return nil, err
		}
		fn.Name, fn.Section = name.String, section.String
		fn.Address, fn.Size = uint64(addr), uint64(size)
		out = append(out, fn)
	}
	return out, rows.Err()
}

// CallGraph loads a binary's call graph without functions in excluded
// sections; edges touching them are dropped.
func (s *SQLiteStore) CallGraph(ctx context.Context, binaryID int64) (*graph.CallGraph, error) {
	functions, err := s.Functions(ctx, binaryID)
	if err != nil {
		return nil, fmt.Errorf("failed to query functions: %w", err)
	}

	cg := graph.NewCallGraph(binaryID)
	for _, fn := range functions {
		if s.excluded[fn.Section] {
			continue
		}
		cg.AddFunction(graph.Function{ID: fn.ID, Name: fn.Name, Size: fn.Size, Address: fn.Address})
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT caller_id, callee_id FROM call_graph_edges
		WHERE binary_id = ? ORDER BY caller_id, callee_id
	`, binaryID)
	if err != nil {
		return nil, fmt.Errorf("failed to query edges: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var from, to graph.FunctionID
		if err := rows.Scan(&from, &to); err != nil {
			return nil, fmt.Errorf("failed to scan edge: %w", err)
		}
		cg.AddCall(from, to)
	}
	return cg, rows.Err()
}

// --- SimilarityStore Implementation ---

func (s *SQLiteStore) SaveSimilarities(ctx context.Context, rows []Similarity) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO similarities (query_function_id, target_function_id, similarity) VALUES (?, ?, ?)
		ON CONFLICT(query_function_id, target_function_id) DO UPDATE SET similarity=excluded.similarity
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, int64(r.Query), int64(r.Target), r.Similarity); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) SimilarityGraph(ctx context.Context, queryBinary, targetBinary int64) (*graph.SimilarityGraph, error) {
	if queryBinary == targetBinary {
		return nil, ErrSameBinary
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.query_function_id, s.target_function_id, s.similarity
		FROM similarities s
		JOIN functions qf ON qf.id = s.query_function_id
		JOIN functions tf ON tf.id = s.target_function_id
		WHERE qf.binary_id = ? AND tf.binary_id = ?
		ORDER BY s.query_function_id, s.target_function_id
	`, queryBinary, targetBinary)
	if err != nil {
		return nil, fmt.Errorf("failed to query similarities: %w", err)
	}
	defer rows.Close()

	g := graph.NewSimilarityGraph()
	if err := scanSimilarities(rows, g, nil); err != nil {
		return nil, err
	}
	return g, nil
}

func (s *SQLiteStore) NeighborhoodSimilarityGraph(ctx context.Context, queryBinary, targetBinary int64, queryIDs, targetIDs []graph.FunctionID) (*graph.SimilarityGraph, error) {
	if queryBinary == targetBinary {
		return nil, ErrSameBinary
	}
	targets := graph.NewIDSet(targetIDs...)
	g := graph.NewSimilarityGraph()

	qids := slices.Clone(queryIDs)
	slices.Sort(qids)
	qids = slices.Compact(qids)

	for chunk := range slices.Chunk(qids, maxParams) {
		args := make([]any, 0, len(chunk)+2)
		args = append(args, queryBinary, targetBinary)
		for _, id := range chunk {
			args = append(args, int64(id))
		}
		query := `
			SELECT s.query_function_id, s.target_function_id, s.similarity
			FROM similarities s
			JOIN functions qf ON qf.id = s.query_function_id
			JOIN functions tf ON tf.id = s.target_function_id
			WHERE qf.binary_id = ? AND tf.binary_id = ?
			AND s.query_function_id IN (` + placeholders(len(chunk)) + `)
			ORDER BY s.query_function_id, s.target_function_id`

		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("failed to query similarities: %w", err)
		}
		err = scanSimilarities(rows, g, targets)
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return g, nil
}

func scanSimilarities(rows *sql.Rows, g *graph.SimilarityGraph, targets *graph.IDSet) error {
	for rows.Next() {
		var q, t graph.FunctionID
		var w float64
		if err := rows.Scan(&q, &t, &w); err != nil {
			return fmt.Errorf("failed to scan similarity: %w", err)
		}
		if targets != nil && !targets.Contains(t) {
			continue
		}
		if err := g.AddEdge(q, t, w); err != nil {
			return err
		}
	}
	return rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// --- EvaluationStore Implementation ---

func (s *SQLiteStore) AddPair(ctx context.Context, p Pair) (int64, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pairs (query_binary_id, query_function_id, target_binary_id, target_function_id, label)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(query_function_id, target_function_id) DO UPDATE SET label=excluded.label
	`, p.QueryBinary, int64(p.QueryFunction), p.TargetBinary, int64(p.TargetFunction), p.Label)
	if err != nil {
		return 0, err
	}

	var id int64
	err = s.db.QueryRowContext(ctx,
		"SELECT id FROM pairs WHERE query_function_id = ? AND target_function_id = ?",
		int64(p.QueryFunction), int64(p.TargetFunction)).Scan(&id)
	return id, err
}

func (s *SQLiteStore) Pairs(ctx context.Context) ([]Pair, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, query_binary_id, query_function_id, target_binary_id, target_function_id, label
		FROM pairs ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Pair
	for rows.Next() {
		var p Pair
		if err := rows.Scan(&p.ID, &p.QueryBinary, &p.QueryFunction, &p.TargetBinary, &p.TargetFunction, &p.Label); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SaveResult(ctx context.Context, r Result) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO results (pair_id, firmup_status, firmup_reason, firmup_target, firmup_steps, neighbsim_score, error)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(pair_id) DO UPDATE SET
			firmup_status=excluded.firmup_status,
			firmup_reason=excluded.firmup_reason,
			firmup_target=excluded.firmup_target,
			firmup_steps=excluded.firmup_steps,
			neighbsim_score=excluded.neighbsim_score,
			error=excluded.error
	`, r.PairID, r.FirmUPStatus, r.FirmUPReason, int64(r.FirmUPTarget), r.FirmUPSteps, r.NeighBSimScore, r.Error)
	return err
}

func (s *SQLiteStore) Results(ctx context.Context) ([]Result, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT pair_id, firmup_status, firmup_reason, firmup_target, firmup_steps, neighbsim_score, error
		FROM results ORDER BY pair_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Result
	for rows.Next() {
		var r Result
		var status, reason, errText sql.NullString
		if err := rows.Scan(&r.PairID, &status, &reason, &r.FirmUPTarget, &r.FirmUPSteps, &r.NeighBSimScore, &errText); err != nil {
			return nil, err
		}
		r.FirmUPStatus, r.FirmUPReason, r.Error = status.String, reason.String, errText.String
		out = append(out, r)
	}
	return out, rows.Err()
}
