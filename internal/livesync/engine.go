package livesync

import (
	"context"
	"database/sql"
	"fmt"
	"iter"
	"slices"
	"strings"
	"time"

	"idm-connector/internal/entity"
	"idm-connector/internal/models"
	"idm-connector/internal/store"
	"idm-connector/internal/token"
)

// Engine runs change queries against the identity store.
type Engine struct{}

// QueryChanges lazily yields every entity of kind modified strictly after
// since, ordered by modification time then identity. The result set is
// released as soon as iteration stops, whether it ran out, failed, or the
// consumer broke early.
func (e *Engine) QueryChanges(ctx context.Context, q store.Querier, kind entity.Kind, since token.Marker) iter.Seq2[models.ChangeRecord, error] {
	return func(yield func(models.ChangeRecord, error) bool) {
		d, err := entity.Lookup(kind)
		if err != nil {
			yield(models.ChangeRecord{}, err)
			return
		}

		query, args := changeQuery(d, since)
		rows, err := q.QueryContext(ctx, query, args...)
		if err != nil {
			yield(models.ChangeRecord{}, &SyncFailedError{Kind: kind, Op: "query changes", Err: err})
			return
		}
		defer rows.Close()

		for rows.Next() {
			if err := ctx.Err(); err != nil {
				yield(models.ChangeRecord{}, &SyncFailedError{Kind: kind, Op: "read changes", Err: err})
				return
			}
			rec, err := scanRecord(rows, d)
			if err != nil {
				yield(models.ChangeRecord{}, &SyncFailedError{Kind: kind, Op: "scan change", Err: err})
				return
			}
			if !yield(rec, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(models.ChangeRecord{}, &SyncFailedError{Kind: kind, Op: "read changes", Err: err})
		}
	}
}

// scanRecord converts one change row into a snapshot keyed by attribute name.
// NULL columns map to nil; the aggregated membership column maps to a sorted,
// de-duplicated slice that is never nil.
func scanRecord(rows *sql.Rows, d *entity.Descriptor) (models.ChangeRecord, error) {
	types := make(map[string]string, len(d.Attributes))
	for _, a := range d.Attributes {
		types[a.Name] = a.Type
	}

	dest := make([]any, len(d.Columns)+1)
	for i, c := range d.Columns {
		switch types[c] {
		case "bool":
			dest[i] = new(sql.NullBool)
		case "timestamp":
			dest[i] = new(store.NullTime)
		default:
			dest[i] = new(sql.NullString)
		}
	}
	related := new(sql.NullString)
	dest[len(d.Columns)] = related

	if err := rows.Scan(dest...); err != nil {
		return models.ChangeRecord{}, err
	}

	rec := models.ChangeRecord{Snapshot: make(map[string]interface{}, len(dest))}
	for i, c := range d.Columns {
		var v interface{}
		switch x := dest[i].(type) {
		case *sql.NullBool:
			if x.Valid {
				v = x.Bool
			}
		case *store.NullTime:
			if x.Valid {
				v = store.Normalize(x.Time)
			}
		case *sql.NullString:
			if x.Valid {
				v = x.String
			}
		}
		rec.Snapshot[c] = v
	}
	rec.Snapshot[d.MultiValued] = splitAggregate(*related)

	id, ok := rec.Snapshot[d.IDColumn].(string)
	if !ok || id == "" {
		return models.ChangeRecord{}, fmt.Errorf("%s row without %s", d.Kind, d.IDColumn)
	}
	rec.Identity = id

	modified, ok := rec.Snapshot[d.ModifiedColumn].(time.Time)
	if !ok {
		return models.ChangeRecord{}, fmt.Errorf("%s %s has no %s", d.Kind, id, d.ModifiedColumn)
	}
	rec.ModifiedAt = modified
	return rec, nil
}

func splitAggregate(s sql.NullString) []string {
	if !s.Valid || s.String == "" {
		return []string{}
	}
	parts := strings.Split(s.String, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
