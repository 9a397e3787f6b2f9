package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JonMunkholm/recordkeeper/internal/cell"
	"github.com/JonMunkholm/recordkeeper/internal/entity"
	"github.com/JonMunkholm/recordkeeper/internal/storage"
)

// seqColumn orders tables without a single key. It is not part of the
// entity's columns and never exported.
const seqColumn = "seq"

func ident(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

func columnList(def *entity.Definition) string {
	cols := make([]string, len(def.Columns))
	for i, c := range def.Columns {
		cols[i] = ident(c.Name)
	}
	return strings.Join(cols, ", ")
}

func orderBy(def *entity.Definition) string {
	if _, single := def.SingleKey(); !single {
		return ident(seqColumn)
	}
	keys := make([]string, len(def.Key))
	for i, k := range def.Key {
		keys[i] = ident(k)
	}
	return strings.Join(keys, ", ")
}

func selectSQL(def *entity.Definition, where string) string {
	q := "SELECT " + columnList(def) + " FROM " + ident(def.Table)
	if where != "" {
		q += " WHERE " + where
	}
	return q + " ORDER BY " + orderBy(def)
}

// insertSQL builds an INSERT of the declared columns present in rec.
func insertSQL(def *entity.Definition, rec entity.Record) (string, []any) {
	var (
		cols         []string
		placeholders []string
		args         []any
	)
	for _, c := range def.Columns {
		v, ok := rec[c.Name]
		if !ok {
			continue
		}
		args = append(args, toDB(v))
		cols = append(cols, ident(c.Name))
		placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
	}
	if len(cols) == 0 {
		return "INSERT INTO " + ident(def.Table) + " DEFAULT VALUES", nil
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		ident(def.Table), strings.Join(cols, ", "), strings.Join(placeholders, ", ")), args
}

// updateSQL builds an UPDATE of the declared non-key columns present in rec.
// ok is false when there is nothing to set.
func updateSQL(def *entity.Definition, keyCol, key string, rec entity.Record) (string, []any, bool) {
	var (
		sets []string
		args []any
	)
	for _, c := range def.Columns {
		v, present := rec[c.Name]
		if !present || c.Name == keyCol {
			continue
		}
		args = append(args, toDB(v))
		sets = append(sets, fmt.Sprintf("%s = $%d", ident(c.Name), len(args)))
	}
	if len(sets) == 0 {
		return "", nil, false
	}
	args = append(args, key)
	return fmt.Sprintf("UPDATE %s SET %s WHERE %s = $%d",
		ident(def.Table), strings.Join(sets, ", "), ident(keyCol), len(args)), args, true
}

// Get implements storage.RecordStore.
func (s *Store) Get(ctx context.Context, def *entity.Definition, key string) (entity.Record, error) {
	keyCol, ok := def.SingleKey()
	if !ok {
		return nil, storage.ErrNoKey
	}
	recs, err := s.query(ctx, def, selectSQL(def, ident(keyCol)+" = $1"), key)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("%s %s: %w", def.Name, key, storage.ErrNotFound)
	}
	return recs[0], nil
}

// Insert implements storage.RecordStore.
func (s *Store) Insert(ctx context.Context, def *entity.Definition, rec entity.Record) error {
	q, args := insertSQL(def, rec)
	if _, err := s.db(ctx).Exec(ctx, q, args...); err != nil {
		return fmt.Errorf("insert %s: %w", def.Name, translate(err))
	}
	return nil
}

// Update implements storage.RecordStore.
func (s *Store) Update(ctx context.Context, def *entity.Definition, key string, rec entity.Record) error {
	keyCol, ok := def.SingleKey()
	if !ok {
		return storage.ErrNoKey
	}
	q, args, ok := updateSQL(def, keyCol, key, rec)
	if !ok {
		// Nothing to set; still report a missing row.
		_, err := s.Get(ctx, def, key)
		return err
	}
	tag, err := s.db(ctx).Exec(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("update %s %s: %w", def.Name, key, translate(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s %s: %w", def.Name, key, storage.ErrNotFound)
	}
	return nil
}

// List implements storage.RecordStore.
func (s *Store) List(ctx context.Context, def *entity.Definition) ([]entity.Record, error) {
	return s.query(ctx, def, selectSQL(def, ""))
}

// Count implements storage.RecordStore.
func (s *Store) Count(ctx context.Context, def *entity.Definition) (int, error) {
	var n int64
	if err := s.db(ctx).QueryRow(ctx, "SELECT COUNT(*) FROM "+ident(def.Table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", def.Name, translate(err))
	}
	return int(n), nil
}

// query runs a SELECT of the definition's columns and converts each row.
func (s *Store) query(ctx context.Context, def *entity.Definition, q string, args ...any) ([]entity.Record, error) {
	rows, err := s.db(ctx).Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", def.Name, translate(err))
	}
	defer rows.Close()

	var out []entity.Record
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", def.Name, err)
		}
		rec := make(entity.Record, len(def.Columns))
		for i, c := range def.Columns {
			rec[c.Name] = fromDB(c.Type, values[i])
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", def.Name, translate(err))
	}
	return out, nil
}

// toDB converts a cell value into a driver argument.
func toDB(v cell.Value) any {
	return v.Any()
}

// fromDB converts a decoded column value into a cell value of type t.
func fromDB(t cell.Type, v any) cell.Value {
	if v == nil {
		return cell.Null()
	}
	switch x := v.(type) {
	case string:
		return cell.String(x)
	case int64:
		return cell.Int(x)
	case int32:
		return cell.Int(int64(x))
	case int16:
		return cell.Int(int64(x))
	case float64:
		return cell.Number(x)
	case float32:
		return cell.Number(float64(x))
	case bool:
		return cell.Bool(x)
	case time.Time:
		if t == cell.TypeDate {
			return cell.Date(x)
		}
		return cell.DateTime(x)
	case map[string]any, []any:
		return cell.JSON(x)
	default:
		return cell.String(fmt.Sprint(x))
	}
}
