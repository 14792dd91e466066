package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// columnInfo is one row of PRAGMA table_info.
type columnInfo struct {
	Name    string
	Type    string
	NotNull bool
}

// SchemaReport is the result of VerifySchema.
type SchemaReport struct {
	MissingTables  []string            `json:"missing_tables,omitempty"`
	MissingColumns map[string][]string `json:"missing_columns,omitempty"`
	TypeMismatches map[string][]string `json:"type_mismatches,omitempty"`
	ExtraTables    []string            `json:"extra_tables,omitempty"`
	ExtraColumns   map[string][]string `json:"extra_columns,omitempty"`
	Version        int                 `json:"version"`
}

// Compatible reports whether writes can proceed: nothing is missing and
// no column has an unexpected type. Extra tables and columns are tolerated.
func (r SchemaReport) Compatible() bool {
	return len(r.MissingTables) == 0 && len(r.MissingColumns) == 0 && len(r.TypeMismatches) == 0
}

// Matches reports whether the schema is exactly as expected.
func (r SchemaReport) Matches() bool {
	return r.Compatible() && len(r.ExtraTables) == 0 && len(r.ExtraColumns) == 0
}

// Summary returns a one-line description of the differences.
func (r SchemaReport) Summary() string {
	if r.Matches() {
		return "schema matches"
	}
	var parts []string
	if len(r.MissingTables) > 0 {
		parts = append(parts, "missing tables: "+strings.Join(r.MissingTables, ", "))
	}
	for _, t := range sortedMapKeys(r.MissingColumns) {
		parts = append(parts, fmt.Sprintf("%s missing columns: %s", t, strings.Join(r.MissingColumns[t], ", ")))
	}
	for _, t := range sortedMapKeys(r.TypeMismatches) {
		parts = append(parts, fmt.Sprintf("%s type mismatches: %s", t, strings.Join(r.TypeMismatches[t], ", ")))
	}
	if len(r.ExtraTables) > 0 {
		parts = append(parts, "extra tables: "+strings.Join(r.ExtraTables, ", "))
	}
	for _, t := range sortedMapKeys(r.ExtraColumns) {
		parts = append(parts, fmt.Sprintf("%s extra columns: %s", t, strings.Join(r.ExtraColumns[t], ", ")))
	}
	return strings.Join(parts, "; ")
}

// UpdateReport is the result of UpdateSchema.
type UpdateReport struct {
	TablesAdded    []string            `json:"tables_added,omitempty"`
	ColumnsAdded   map[string][]string `json:"columns_added,omitempty"`
	IndexesAdded   []string            `json:"indexes_added,omitempty"`
	Unresolved     map[string][]string `json:"unresolved,omitempty"`
	ExtraPreserved []string            `json:"extra_preserved,omitempty"`
}

// Changed reports whether the update modified the schema.
func (r UpdateReport) Changed() bool {
	return len(r.TablesAdded) > 0 || len(r.ColumnsAdded) > 0 || len(r.IndexesAdded) > 0
}

// ResetReport is the result of ResetDatabase.
type ResetReport struct {
	BackedUp      bool     `json:"backed_up"`
	BackupPath    string   `json:"backup_path,omitempty"`
	TablesDropped []string `json:"tables_dropped"`
}

// VerifySchema compares the live schema with the expected one. It never
// modifies the database. On an initialized store a compatible schema moves
// the store to ready.
func (s *Store) VerifySchema(ctx context.Context) (SchemaReport, error) {
	present, err := s.columns(ctx)
	if err != nil {
		return SchemaReport{}, err
	}
	all, err := s.tableNames(ctx)
	if err != nil {
		return SchemaReport{}, err
	}

	report := SchemaReport{
		MissingColumns: map[string][]string{},
		TypeMismatches: map[string][]string{},
		ExtraColumns:   map[string][]string{},
	}

	expected := make(map[string]bool, len(tables))
	for _, t := range tables {
		expected[t.Name] = true
		cols, ok := present[t.Name]
		if !ok {
			report.MissingTables = append(report.MissingTables, t.Name)
			continue
		}

		want := make(map[string]bool, len(t.Columns))
		for _, c := range t.Columns {
			want[c.Name] = true
			got, ok := cols[c.Name]
			if !ok {
				report.MissingColumns[t.Name] = append(report.MissingColumns[t.Name], c.Name)
				continue
			}
			if !strings.EqualFold(got.Type, c.Type) {
				report.TypeMismatches[t.Name] = append(report.TypeMismatches[t.Name],
					fmt.Sprintf("%s (want %s, got %s)", c.Name, c.Type, got.Type))
			}
		}
		for name := range cols {
			if !want[name] {
				report.ExtraColumns[t.Name] = append(report.ExtraColumns[t.Name], name)
			}
		}
		sort.Strings(report.ExtraColumns[t.Name])
	}

	for _, name := range all {
		if expected[name] || isInternalTable(name) {
			continue
		}
		report.ExtraTables = append(report.ExtraTables, name)
	}

	for _, m := range []map[string][]string{report.MissingColumns, report.TypeMismatches, report.ExtraColumns} {
		for k, v := range m {
			if len(v) == 0 {
				delete(m, k)
			}
		}
	}

	if present["schema_version"] != nil {
		_ = s.db.QueryRowContext(ctx, getSchemaVersion).Scan(&report.Version)
	}

	if s.State() >= StateInitialized {
		if report.Compatible() {
			s.setState(StateReady)
		} else {
			s.setState(StateVerified)
		}
	}

	if report.Matches() {
		s.logger.Info("schema verified")
	} else {
		s.logger.Warn("schema differs from expected", "summary", report.Summary())
	}
	return report, nil
}

// UpdateSchema creates missing tables and indexes and adds missing
// columns. It never drops or alters existing columns, so a second run is a
// no-op. Type mismatches are reported in Unresolved.
func (s *Store) UpdateSchema(ctx context.Context) (UpdateReport, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	report := UpdateReport{
		ColumnsAdded: map[string][]string{},
		Unresolved:   map[string][]string{},
	}

	present, err := s.columns(ctx)
	if err != nil {
		return report, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return report, newError("update_schema", err)
	}
	defer tx.Rollback()

	for _, t := range tables {
		cols, ok := present[t.Name]
		if !ok {
			if _, err := tx.ExecContext(ctx, t.createSQL()); err != nil {
				return UpdateReport{}, newError("update_schema", fmt.Errorf("create %s: %w", t.Name, err))
			}
			report.TablesAdded = append(report.TablesAdded, t.Name)
			continue
		}
		for _, c := range t.Columns {
			got, ok := cols[c.Name]
			if !ok {
				if _, err := tx.ExecContext(ctx, t.addColumnSQL(c)); err != nil {
					return UpdateReport{}, newError("update_schema", fmt.Errorf("add %s.%s: %w", t.Name, c.Name, err))
				}
				report.ColumnsAdded[t.Name] = append(report.ColumnsAdded[t.Name], c.Name)
				continue
			}
			if !strings.EqualFold(got.Type, c.Type) {
				report.Unresolved[t.Name] = append(report.Unresolved[t.Name],
					fmt.Sprintf("%s (want %s, got %s)", c.Name, c.Type, got.Type))
			}
		}
	}

	if _, err := tx.ExecContext(ctx, insertSchemaVersion, SchemaVersion, FormatTime(s.now())); err != nil {
		return UpdateReport{}, newError("update_schema", err)
	}
	if err := tx.Commit(); err != nil {
		return UpdateReport{}, newError("update_schema", err)
	}

	present, err = s.columns(ctx)
	if err != nil {
		return report, err
	}
	report.IndexesAdded, err = s.ensureIndexes(ctx, present)
	if err != nil {
		return report, err
	}
	s.ensureFTS(ctx)

	all, err := s.tableNames(ctx)
	if err != nil {
		return report, err
	}
	for _, name := range all {
		if _, ok := tableByName(name); !ok && !isInternalTable(name) {
			report.ExtraPreserved = append(report.ExtraPreserved, name)
		}
	}

	if len(report.ColumnsAdded) == 0 {
		report.ColumnsAdded = nil
	}
	if len(report.Unresolved) == 0 {
		report.Unresolved = nil
	}

	s.setState(StateMigrated)
	if report.Changed() {
		s.logger.Info("schema updated",
			"tables_added", report.TablesAdded,
			"columns_added", report.ColumnsAdded,
			"indexes_added", report.IndexesAdded,
		)
	} else {
		s.logger.Info("schema already up to date")
	}
	for t, cols := range report.Unresolved {
		s.logger.Warn("column type differs and was not changed", "table", t, "columns", cols)
	}
	return report, nil
}

// ResetDatabase backs the database up next to its file, drops every table
// and recreates the schema. It refuses to run unless force is set. The
// store returns to the initialized state.
func (s *Store) ResetDatabase(ctx context.Context, force bool) (ResetReport, error) {
	if !force {
		return ResetReport{}, &StorageError{Op: "reset", Kind: KindOther, Cause: ErrResetNotConfirmed}
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	report := ResetReport{}

	if s.cfg.Path != ":memory:" {
		if _, err := os.Stat(s.cfg.Path); err == nil {
			backup := backupPath(s.cfg.Path, s.now())
			if _, err := s.db.ExecContext(ctx, "VACUUM INTO ?", backup); err != nil {
				return report, newError("backup", err)
			}
			report.BackedUp = true
			report.BackupPath = backup
			s.logger.Info("database backed up", "backup_path", backup)
		}
	}

	if err := s.dropAll(ctx, &report); err != nil {
		return report, err
	}

	s.setState(StateUninitialized)
	if err := s.initializeLocked(ctx); err != nil {
		return report, err
	}

	s.logger.Warn("database reset", "tables_dropped", len(report.TablesDropped), "backup_path", report.BackupPath)
	return report, nil
}

// dropAll drops every table on one pinned connection with foreign keys
// off. The connection is released before it returns, so a pool of one
// connection is free again for the recreate.
func (s *Store) dropAll(ctx context.Context, report *ResetReport) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return newError("reset", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "PRAGMA foreign_keys = OFF"); err != nil {
		return newError("reset", err)
	}
	defer conn.ExecContext(context.Background(), "PRAGMA foreign_keys = ON")

	drop := func(name string) error {
		if _, err := conn.ExecContext(ctx, "DROP TABLE IF EXISTS "+quoteIdent(name)); err != nil {
			return newError("reset", fmt.Errorf("drop %s: %w", name, err))
		}
		report.TablesDropped = append(report.TablesDropped, name)
		return nil
	}

	// The virtual table owns its shadow tables; drop it first.
	if err := drop(ftsTable); err != nil {
		return err
	}
	for i := len(tables) - 1; i >= 0; i-- {
		if err := drop(tables[i].Name); err != nil {
			return err
		}
	}

	rows, err := conn.QueryContext(ctx, `SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%'`)
	if err != nil {
		return newError("reset", err)
	}
	var rest []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return newError("reset", err)
		}
		rest = append(rest, name)
	}
	rows.Close()
	for _, name := range rest {
		if err := drop(name); err != nil {
			return err
		}
	}
	return nil
}

// backupPath returns <dir>/<stem>_backup_<YYYYmmdd_HHMMSS>.db.
func backupPath(dbPath string, now time.Time) string {
	dir := filepath.Dir(dbPath)
	base := filepath.Base(dbPath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	name := fmt.Sprintf("%s_backup_%s.db", stem, now.Format("20060102_150405"))
	candidate := filepath.Join(dir, name)
	for i := 1; ; i++ {
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
		candidate = filepath.Join(dir, fmt.Sprintf("%s_backup_%s_%d.db", stem, now.Format("20060102_150405"), i))
	}
}

// columns introspects every user table.
func (s *Store) columns(ctx context.Context) (map[string]map[string]columnInfo, error) {
	names, err := s.tableNames(ctx)
	if err != nil {
		return nil, err
	}

	out := make(map[string]map[string]columnInfo, len(names))
	for _, name := range names {
		if isInternalTable(name) {
			continue
		}
		rows, err := s.db.QueryContext(ctx, "PRAGMA table_info("+quoteIdent(name)+")")
		if err != nil {
			return nil, newError("table_info", err)
		}
		cols := map[string]columnInfo{}
		for rows.Next() {
			var (
				cid     int
				info    columnInfo
				notNull int
				dflt    any
				pk      int
			)
			if err := rows.Scan(&cid, &info.Name, &info.Type, &notNull, &dflt, &pk); err != nil {
				rows.Close()
				return nil, newError("table_info", err)
			}
			info.NotNull = notNull != 0
			cols[info.Name] = info
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, newError("table_info", err)
		}
		rows.Close()
		out[name] = cols
	}
	return out, nil
}

func (s *Store) tableNames(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM sqlite_master WHERE type = 'table' ORDER BY name`)
	if err != nil {
		return nil, newError("list_tables", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, newError("list_tables", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, newError("list_tables", err)
	}
	return names, nil
}

func (s *Store) indexNames(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM sqlite_master WHERE type = 'index'`)
	if err != nil {
		return nil, newError("list_indexes", err)
	}
	defer rows.Close()

	out := map[string]bool{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, newError("list_indexes", err)
		}
		out[name] = true
	}
	return out, rows.Err()
}

// isInternalTable reports SQLite bookkeeping tables and the full text
// index with its shadow tables.
func isInternalTable(name string) bool {
	return strings.HasPrefix(name, "sqlite_") || name == ftsTable || strings.HasPrefix(name, ftsTable+"_")
}

func sortedMapKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
