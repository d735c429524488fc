package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/tillsync/tillsync/internal/events"
	"github.com/tillsync/tillsync/internal/models"
)

// entityIndexes declares the secondary-index columns persisted per
// collection. Index names are validated against this map before being
// spliced into SQL.
var entityIndexes = map[models.EntityType][]string{
	models.EntityOrders:    {"status", "customer_id"},
	models.EntityProducts:  {"name", "category"},
	models.EntityCustomers: {"name"},
}

// SQLiteStore implements Store on an embedded SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	logger *events.Logger
}

// NewSQLiteStore opens (or creates) the local database.
func NewSQLiteStore(dbPath string, logger *events.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger.WithField("component", "sqlite_store"),
	}

	if err := s.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize database: %w", err)
	}

	return s, nil
}

// initialize creates tables and indexes.
func (s *SQLiteStore) initialize() error {
	for entity, indexes := range entityIndexes {
		ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
            id TEXT PRIMARY KEY,`, entity)
		for _, idx := range indexes {
			ddl += fmt.Sprintf("\n            %s TEXT,", idx)
		}
		ddl += `
            body TEXT NOT NULL,
            sync_status TEXT NOT NULL,
            is_local_only INTEGER NOT NULL DEFAULT 0,
            last_modified TIMESTAMP NOT NULL
        );`
		if _, err := s.db.Exec(ddl); err != nil {
			return fmt.Errorf("create table %s: %w", entity, err)
		}
		for _, idx := range indexes {
			stmt := fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_%s ON %s(%s)", entity, idx, entity, idx)
			if _, err := s.db.Exec(stmt); err != nil {
				return fmt.Errorf("create index %s.%s: %w", entity, idx, err)
			}
		}
	}

	schema := `
    CREATE TABLE IF NOT EXISTS outbox (
        seq INTEGER PRIMARY KEY AUTOINCREMENT,
        id TEXT NOT NULL UNIQUE,
        entity_type TEXT NOT NULL,
        action TEXT NOT NULL,
        entity_id TEXT NOT NULL,
        data TEXT,
        ts TIMESTAMP NOT NULL,
        retry_count INTEGER NOT NULL DEFAULT 0,
        last_error TEXT,
        last_attempt TIMESTAMP
    );

    CREATE INDEX IF NOT EXISTS idx_outbox_ts ON outbox(ts);
    CREATE INDEX IF NOT EXISTS idx_outbox_entity ON outbox(entity_type);

    CREATE TABLE IF NOT EXISTS settings (
        key TEXT PRIMARY KEY,
        value TEXT NOT NULL
    );

    CREATE TABLE IF NOT EXISTS schema_info (
        version INTEGER PRIMARY KEY
    );

    INSERT OR IGNORE INTO schema_info (version) VALUES (?);
    `

	if _, err := s.db.Exec(schema, CurrentSchemaVersion); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	return nil
}

func validEntity(entity models.EntityType) error {
	if _, ok := entityIndexes[entity]; !ok {
		return fmt.Errorf("%w: %q", models.ErrUnknownEntity, entity)
	}
	return nil
}

// Put upserts one record row.
func (s *SQLiteStore) Put(ctx context.Context, entity models.EntityType, row *Row) error {
	if err := validEntity(entity); err != nil {
		return err
	}

	indexes := entityIndexes[entity]
	cols := "id"
	placeholders := "?"
	updates := ""
	args := []interface{}{row.ID.String()}

	for _, idx := range indexes {
		cols += ", " + idx
		placeholders += ", ?"
		updates += fmt.Sprintf("%s = excluded.%s, ", idx, idx)
		args = append(args, row.Index[idx])
	}

	cols += ", body, sync_status, is_local_only, last_modified"
	placeholders += ", ?, ?, ?, ?"
	updates += "body = excluded.body, sync_status = excluded.sync_status, " +
		"is_local_only = excluded.is_local_only, last_modified = excluded.last_modified"
	args = append(args, string(row.Body), string(row.SyncStatus), row.IsLocalOnly, row.LastModified)

	stmt := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)
        ON CONFLICT(id) DO UPDATE SET %s`, entity, cols, placeholders, updates)

	if _, err := s.db.ExecContext(ctx, stmt, args...); err != nil {
		return fmt.Errorf("put %s %s: %w", entity, row.ID, err)
	}
	return nil
}

// Get retrieves one record row by id.
func (s *SQLiteStore) Get(ctx context.Context, entity models.EntityType, id models.ID) (*Row, error) {
	if err := validEntity(entity); err != nil {
		return nil, err
	}

	stmt := fmt.Sprintf(`SELECT id, body, sync_status, is_local_only, last_modified
        FROM %s WHERE id = ?`, entity)

	row, err := s.scanRow(s.db.QueryRowContext(ctx, stmt, id.String()))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s %s: %w", entity, id, err)
	}
	return row, nil
}

// GetAll retrieves every row of a collection, most recently modified first.
func (s *SQLiteStore) GetAll(ctx context.Context, entity models.EntityType) ([]*Row, error) {
	if err := validEntity(entity); err != nil {
		return nil, err
	}

	stmt := fmt.Sprintf(`SELECT id, body, sync_status, is_local_only, last_modified
        FROM %s ORDER BY last_modified DESC, id`, entity)
	return s.queryRows(ctx, stmt)
}

// GetAllByIndex retrieves rows matching a secondary-index value.
func (s *SQLiteStore) GetAllByIndex(ctx context.Context, entity models.EntityType, index, value string) ([]*Row, error) {
	if err := validEntity(entity); err != nil {
		return nil, err
	}
	if !isIndexOf(entity, index) {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownIndex, entity, index)
	}

	stmt := fmt.Sprintf(`SELECT id, body, sync_status, is_local_only, last_modified
        FROM %s WHERE %s = ? ORDER BY last_modified DESC, id`, entity, index)
	return s.queryRows(ctx, stmt, value)
}

// Delete removes one record row. Deleting a missing id is a no-op.
func (s *SQLiteStore) Delete(ctx context.Context, entity models.EntityType, id models.ID) error {
	if err := validEntity(entity); err != nil {
		return err
	}

	stmt := fmt.Sprintf("DELETE FROM %s WHERE id = ?", entity)
	if _, err := s.db.ExecContext(ctx, stmt, id.String()); err != nil {
		return fmt.Errorf("delete %s %s: %w", entity, id, err)
	}
	return nil
}

// ReplaceAll swaps the collection contents in one transaction.
func (s *SQLiteStore) ReplaceAll(ctx context.Context, entity models.EntityType, rows []*Row) error {
	if err := validEntity(entity); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", entity)); err != nil {
		return fmt.Errorf("clear %s: %w", entity, err)
	}

	for _, row := range rows {
		if err := putInTx(ctx, tx, entity, row); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// RemapID sweeps the old identifier out of every table. Record bodies are
// rewritten as JSON; index columns are recomputed from the rewritten body.
func (s *SQLiteStore) RemapID(ctx context.Context, old, new models.ID) (int, error) {
	oldStr, newStr := old.String(), new.String()
	if oldStr == "" || newStr == "" {
		return 0, fmt.Errorf("%w: empty id in remap", models.ErrInvalidID)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	refs := 0
	for entity := range entityIndexes {
		n, err := s.remapEntityTable(ctx, tx, entity, old, new)
		if err != nil {
			return 0, err
		}
		refs += n
	}

	n, err := s.remapOutbox(ctx, tx, oldStr, newStr)
	if err != nil {
		return 0, err
	}
	refs += n

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit remap: %w", err)
	}

	s.logger.WithFields(map[string]interface{}{
		"old":  oldStr,
		"new":  newStr,
		"refs": refs,
	}).Debug("Remapped identifier")

	return refs, nil
}

func (s *SQLiteStore) remapEntityTable(ctx context.Context, tx *sql.Tx, entity models.EntityType, old, new models.ID) (int, error) {
	stmt := fmt.Sprintf("SELECT id, body FROM %s WHERE body LIKE ?", entity)
	rows, err := tx.QueryContext(ctx, stmt, "%"+old.String()+"%")
	if err != nil {
		return 0, fmt.Errorf("scan %s for remap: %w", entity, err)
	}

	type hit struct {
		id   string
		body string
	}
	var hits []hit
	for rows.Next() {
		var h hit
		if err := rows.Scan(&h.id, &h.body); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan %s row: %w", entity, err)
		}
		hits = append(hits, h)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate %s rows: %w", entity, err)
	}

	refs := 0
	for _, h := range hits {
		rewritten, changed, err := rewriteIDs([]byte(h.body), old.String(), new.String())
		if err != nil {
			return 0, fmt.Errorf("rewrite %s %s: %w", entity, h.id, err)
		}
		if !changed {
			continue
		}

		rec, err := models.DecodeRecord(entity, rewritten)
		if err != nil {
			return 0, fmt.Errorf("decode rewritten %s %s: %w", entity, h.id, err)
		}

		newRowID := h.id
		if h.id == old.String() {
			newRowID = new.String()
		} else {
			refs++
		}

		set := "id = ?, body = ?"
		args := []interface{}{newRowID, string(rewritten)}
		for idx, val := range rec.IndexValues() {
			set += fmt.Sprintf(", %s = ?", idx)
			args = append(args, val)
		}
		args = append(args, h.id)

		update := fmt.Sprintf("UPDATE %s SET %s WHERE id = ?", entity, set)
		if _, err := tx.ExecContext(ctx, update, args...); err != nil {
			return 0, fmt.Errorf("update %s %s: %w", entity, h.id, err)
		}
	}

	return refs, nil
}

func (s *SQLiteStore) remapOutbox(ctx context.Context, tx *sql.Tx, oldStr, newStr string) (int, error) {
	rows, err := tx.QueryContext(ctx,
		"SELECT id, entity_id, COALESCE(data, '') FROM outbox WHERE entity_id = ? OR data LIKE ?",
		oldStr, "%"+oldStr+"%")
	if err != nil {
		return 0, fmt.Errorf("scan outbox for remap: %w", err)
	}

	type hit struct {
		id       string
		entityID string
		data     string
	}
	var hits []hit
	for rows.Next() {
		var h hit
		if err := rows.Scan(&h.id, &h.entityID, &h.data); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan outbox row: %w", err)
		}
		hits = append(hits, h)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate outbox rows: %w", err)
	}

	refs := 0
	for _, h := range hits {
		entityID := h.entityID
		if entityID == oldStr {
			entityID = newStr
		}

		data := h.data
		if data != "" {
			rewritten, changed, err := rewriteIDs([]byte(data), oldStr, newStr)
			if err != nil {
				return 0, fmt.Errorf("rewrite outbox %s: %w", h.id, err)
			}
			if changed {
				data = string(rewritten)
			}
		}

		if entityID == h.entityID && data == h.data {
			continue
		}
		refs++

		if _, err := tx.ExecContext(ctx,
			"UPDATE outbox SET entity_id = ?, data = ? WHERE id = ?",
			entityID, data, h.id); err != nil {
			return 0, fmt.Errorf("update outbox %s: %w", h.id, err)
		}
	}

	return refs, nil
}

// AppendOutbox appends one pending mutation.
func (s *SQLiteStore) AppendOutbox(ctx context.Context, item *models.OutboxItem) error {
	var lastAttempt interface{}
	if !item.LastAttempt.IsZero() {
		lastAttempt = item.LastAttempt
	}

	_, err := s.db.ExecContext(ctx, `
        INSERT INTO outbox (id, entity_type, action, entity_id, data, ts, retry_count, last_error, last_attempt)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, string(item.EntityType), string(item.Action), item.EntityID.String(),
		string(item.Data), item.Timestamp, item.RetryCount, item.LastError, lastAttempt)
	if err != nil {
		return fmt.Errorf("append outbox item %s: %w", item.ID, err)
	}
	return nil
}

// ListOutbox returns all pending items ordered by timestamp, then insertion
// sequence, so causal order of edits to the same entity is preserved.
func (s *SQLiteStore) ListOutbox(ctx context.Context) ([]*models.OutboxItem, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT seq, id, entity_type, action, entity_id, COALESCE(data, ''),
               ts, retry_count, COALESCE(last_error, ''), last_attempt
        FROM outbox ORDER BY ts ASC, seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}
	defer rows.Close()

	var items []*models.OutboxItem
	for rows.Next() {
		item := &models.OutboxItem{}
		var entityType, action, entityID, data string
		var lastAttempt sql.NullTime

		if err := rows.Scan(&item.Seq, &item.ID, &entityType, &action, &entityID,
			&data, &item.Timestamp, &item.RetryCount, &item.LastError, &lastAttempt); err != nil {
			return nil, fmt.Errorf("scan outbox row: %w", err)
		}

		item.EntityType = models.EntityType(entityType)
		item.Action = models.Action(action)
		id, err := models.ParseID(entityID)
		if err != nil {
			return nil, fmt.Errorf("outbox item %s: %w", item.ID, err)
		}
		item.EntityID = id
		if data != "" {
			item.Data = json.RawMessage(data)
		}
		if lastAttempt.Valid {
			item.LastAttempt = lastAttempt.Time
		}

		items = append(items, item)
	}

	return items, rows.Err()
}

// RemoveOutbox deletes a delivered item.
func (s *SQLiteStore) RemoveOutbox(ctx context.Context, itemID string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM outbox WHERE id = ?", itemID); err != nil {
		return fmt.Errorf("remove outbox item %s: %w", itemID, err)
	}
	return nil
}

// RecordOutboxError keeps a failed item queued with its error and attempt
// time recorded.
func (s *SQLiteStore) RecordOutboxError(ctx context.Context, itemID, message string, attemptAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
        UPDATE outbox SET retry_count = retry_count + 1, last_error = ?, last_attempt = ?
        WHERE id = ?`, message, attemptAt, itemID)
	if err != nil {
		return fmt.Errorf("record outbox error %s: %w", itemID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("record outbox error %s: %w", itemID, ErrNotFound)
	}
	return nil
}

// OutboxCount returns the number of pending items.
func (s *SQLiteStore) OutboxCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM outbox").Scan(&n); err != nil {
		return 0, fmt.Errorf("count outbox: %w", err)
	}
	return n, nil
}

// GetSetting reads one settings value.
func (s *SQLiteStore) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get setting %s: %w", key, err)
	}
	return value, nil
}

// PutSetting upserts one settings value.
func (s *SQLiteStore) PutSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO settings (key, value) VALUES (?, ?)
        ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("put setting %s: %w", key, err)
	}
	return nil
}

// Reset wipes all local state.
func (s *SQLiteStore) Reset(ctx context.Context) error {
	s.logger.Info("Resetting local store")

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for entity := range entityIndexes {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", entity)); err != nil {
			return fmt.Errorf("clear %s: %w", entity, err)
		}
	}
	for _, table := range []string{"outbox", "settings"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	return tx.Commit()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Helpers.

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (s *SQLiteStore) scanRow(sc rowScanner) (*Row, error) {
	var idStr, body, syncStatus string
	var isLocalOnly bool
	var lastModified time.Time

	if err := sc.Scan(&idStr, &body, &syncStatus, &isLocalOnly, &lastModified); err != nil {
		return nil, err
	}

	id, err := models.ParseID(idStr)
	if err != nil {
		return nil, err
	}

	return &Row{
		ID:           id,
		Body:         json.RawMessage(body),
		SyncStatus:   models.SyncStatus(syncStatus),
		IsLocalOnly:  isLocalOnly,
		LastModified: lastModified,
	}, nil
}

func (s *SQLiteStore) queryRows(ctx context.Context, stmt string, args ...interface{}) ([]*Row, error) {
	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query rows: %w", err)
	}
	defer rows.Close()

	var result []*Row
	for rows.Next() {
		row, err := s.scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		result = append(result, row)
	}

	return result, rows.Err()
}

func putInTx(ctx context.Context, tx *sql.Tx, entity models.EntityType, row *Row) error {
	indexes := entityIndexes[entity]
	cols := "id"
	placeholders := "?"
	args := []interface{}{row.ID.String()}

	for _, idx := range indexes {
		cols += ", " + idx
		placeholders += ", ?"
		args = append(args, row.Index[idx])
	}

	cols += ", body, sync_status, is_local_only, last_modified"
	placeholders += ", ?, ?, ?, ?"
	args = append(args, string(row.Body), string(row.SyncStatus), row.IsLocalOnly, row.LastModified)

	stmt := fmt.Sprintf("INSERT OR REPLACE INTO %s (%s) VALUES (%s)", entity, cols, placeholders)
	if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
		return fmt.Errorf("put %s %s: %w", entity, row.ID, err)
	}
	return nil
}

func isIndexOf(entity models.EntityType, index string) bool {
	for _, idx := range entityIndexes[entity] {
		if idx == index {
			return true
		}
	}
	return false
}

// rewriteIDs replaces every JSON string value equal to old with new. The
// temporary-id form ("tmp:<uuid>") is globally unique, so value equality is a
// safe match criterion.
func rewriteIDs(body []byte, old, new string) (json.RawMessage, bool, error) {
	var doc interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, false, fmt.Errorf("parse body: %w", err)
	}

	doc, changed := rewriteValue(doc, old, new)
	if !changed {
		return body, false, nil
	}

	rewritten, err := json.Marshal(doc)
	if err != nil {
		return nil, false, fmt.Errorf("marshal body: %w", err)
	}
	return rewritten, true, nil
}

func rewriteValue(v interface{}, old, new string) (interface{}, bool) {
	switch val := v.(type) {
	case string:
		if val == old {
			return new, true
		}
		return val, false
	case map[string]interface{}:
		changed := false
		for k, inner := range val {
			rewritten, c := rewriteValue(inner, old, new)
			if c {
				val[k] = rewritten
				changed = true
			}
		}
		return val, changed
	case []interface{}:
		changed := false
		for i, inner := range val {
			rewritten, c := rewriteValue(inner, old, new)
			if c {
				val[i] = rewritten
				changed = true
			}
		}
		return val, changed
	default:
		return v, false
	}
}
