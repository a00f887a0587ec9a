// Package couch stores every table in one CouchDB database. Documents are
// keyed "<table>:<id>" and carry a "table" field for Mango selectors.
package couch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"eyeworks-storefront/internal/store"

	"github.com/go-kivik/kivik/v4"
	_ "github.com/go-kivik/kivik/v4/couchdb"
	"github.com/rs/zerolog/log"
)

// Mango returns 25 documents unless told otherwise.
const findLimit = 10000

type Config struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	// Retry is the pause between change feed reconnects.
	Retry time.Duration
}

func (c Config) URL() string {
	return fmt.Sprintf("http://%s:%s@%s:%s", c.User, c.Password, c.Host, c.Port)
}

type Backend struct {
	client *kivik.Client
	db     *kivik.DB
	retry  time.Duration
	now    func() time.Time
}

// Open connects and creates the database when it does not exist yet.
func Open(ctx context.Context, cfg Config) (*Backend, error) {
	client, err := kivik.New("couch", cfg.URL())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to CouchDB: %w", err)
	}

	exists, err := client.DBExists(ctx, cfg.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to check database existence: %w", err)
	}
	if !exists {
		if err := client.CreateDB(ctx, cfg.Name); err != nil {
			return nil, fmt.Errorf("failed to create database: %w", err)
		}
		log.Info().Str("db", cfg.Name).Msg("created database")
	}

	retry := cfg.Retry
	if retry <= 0 {
		retry = 2 * time.Second
	}
	return &Backend{
		client: client,
		db:     client.DB(cfg.Name),
		retry:  retry,
		now:    time.Now,
	}, nil
}

func docID(table, id string) string {
	return table + ":" + id
}

func splitDocID(docID string) (table, id string, ok bool) {
	return strings.Cut(docID, ":")
}

// toRow strips CouchDB bookkeeping from a document.
func toRow(doc map[string]any) map[string]any {
	row := make(map[string]any, len(doc))
	for k, v := range doc {
		if strings.HasPrefix(k, "_") || k == "table" {
			continue
		}
		row[k] = v
	}
	return row
}

func (b *Backend) Insert(ctx context.Context, table string, row any) (store.Row, error) {
	def, err := store.Lookup(table)
	if err != nil {
		return nil, err
	}
	rec, err := store.Prepare(def, row, b.now())
	if err != nil {
		return nil, err
	}
	return b.put(ctx, table, rec)
}

func (b *Backend) put(ctx context.Context, table string, rec map[string]any) (store.Row, error) {
	doc := make(map[string]any, len(rec)+1)
	for k, v := range rec {
		doc[k] = v
	}
	doc["table"] = table

	id := rec["id"].(string)
	if _, err := b.db.Put(ctx, docID(table, id), doc); err != nil {
		if kivik.HTTPStatus(err) == 409 {
			return nil, fmt.Errorf("insert %s: %w", table, store.ErrConflict)
		}
		return nil, fmt.Errorf("failed to insert %s: %w", table, err)
	}
	return json.Marshal(rec)
}

// Upsert keys the document by the conflict value so that two racing
// writers collide on the same document id.
func (b *Backend) Upsert(ctx context.Context, table, conflictField string, row any) (store.Row, error) {
	def, err := store.Lookup(table)
	if err != nil {
		return nil, err
	}
	if !def.HasColumn(conflictField) {
		return nil, fmt.Errorf("%w: %s.%s", store.ErrBadField, table, conflictField)
	}
	rec, err := store.Prepare(def, row, b.now())
	if err != nil {
		return nil, err
	}
	key, _ := rec[conflictField].(string)
	if key == "" {
		return nil, fmt.Errorf("upsert %s: empty %s", table, conflictField)
	}

	existing, err := b.find(ctx, table, []store.Filter{store.Eq(conflictField, key)}, 1)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return json.Marshal(toRow(existing[0]))
	}

	rec["id"] = key
	out, err := b.put(ctx, table, rec)
	if errors.Is(err, store.ErrConflict) {
		var doc map[string]any
		if err := b.db.Get(ctx, docID(table, key)).ScanDoc(&doc); err != nil {
			return nil, fmt.Errorf("failed to refetch %s: %w", table, err)
		}
		return json.Marshal(toRow(doc))
	}
	return out, err
}

func (b *Backend) Select(ctx context.Context, table string, q store.Query) ([]store.Row, error) {
	def, err := store.Lookup(table)
	if err != nil {
		return nil, err
	}
	if err := store.CheckQuery(def, q.Filters, q.Order); err != nil {
		return nil, err
	}

	docs, err := b.find(ctx, table, q.Filters, findLimit)
	if err != nil {
		return nil, err
	}
	rows := make([]map[string]any, 0, len(docs))
	for _, d := range docs {
		rows = append(rows, toRow(d))
	}
	store.SortRows(rows, q.Order)
	return store.Encode(rows, q.Limit)
}

// find pushes equality filters down to Mango and evaluates the rest in
// process, since stored timestamps do not compare lexically.
func (b *Backend) find(ctx context.Context, table string, filters []store.Filter, limit int) ([]map[string]any, error) {
	selector := map[string]interface{}{"table": table}
	for _, f := range filters {
		if f.Op == store.OpEq {
			selector[f.Field] = f.Value
		}
	}
	query := map[string]interface{}{
		"selector": selector,
		"limit":    findLimit,
	}

	rows := b.db.Find(ctx, query)
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", table, err)
	}
	defer rows.Close()

	var docs []map[string]any
	for rows.Next() {
		var doc map[string]any
		if err := rows.ScanDoc(&doc); err != nil {
			continue
		}
		if !store.Match(doc, filters) {
			continue
		}
		docs = append(docs, doc)
		if len(docs) == limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", table, err)
	}
	return docs, nil
}

func (b *Backend) Update(ctx context.Context, table string, filters []store.Filter, patch map[string]any) ([]store.Row, error) {
	def, err := store.Lookup(table)
	if err != nil {
		return nil, err
	}
	if err := store.CheckQuery(def, filters, store.Order{}); err != nil {
		return nil, err
	}
	clean, err := store.PreparePatch(def, patch, b.now())
	if err != nil {
		return nil, err
	}

	docs, err := b.find(ctx, table, filters, findLimit)
	if err != nil {
		return nil, err
	}
	out := make([]store.Row, 0, len(docs))
	for _, doc := range docs {
		for k, v := range clean {
			doc[k] = v
		}
		id, _ := doc["_id"].(string)
		if _, err := b.db.Put(ctx, id, doc); err != nil {
			return nil, fmt.Errorf("failed to update %s: %w", id, err)
		}
		data, err := json.Marshal(toRow(doc))
		if err != nil {
			return nil, err
		}
		out = append(out, data)
	}
	return out, nil
}

func (b *Backend) Delete(ctx context.Context, table, id string) error {
	if _, err := store.Lookup(table); err != nil {
		return err
	}
	rev, err := b.db.GetRev(ctx, docID(table, id))
	if err != nil {
		if kivik.HTTPStatus(err) == 404 {
			return store.ErrNotFound
		}
		return fmt.Errorf("failed to get revision: %w", err)
	}
	if _, err := b.db.Delete(ctx, docID(table, id), rev); err != nil {
		return fmt.Errorf("failed to delete %s: %w", table, err)
	}
	return nil
}

// Watch follows the continuous _changes feed from "now", reconnecting
// after b.retry whenever the feed drops.
func (b *Backend) Watch(ctx context.Context, table string, onChange func(store.Change), onStatus func(bool)) (store.Subscription, error) {
	if _, err := store.Lookup(table); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	sub := &subscription{cancel: cancel}

	go func() {
		for {
			b.follow(ctx, table, onChange, onStatus)
			if onStatus != nil {
				onStatus(false)
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(b.retry):
			}
		}
	}()
	return sub, nil
}

func (b *Backend) follow(ctx context.Context, table string, onChange func(store.Change), onStatus func(bool)) {
	changes := b.db.Changes(ctx, kivik.Params(map[string]interface{}{
		"feed":         "continuous",
		"since":        "now",
		"include_docs": true,
		"heartbeat":    30000,
	}))
	if err := changes.Err(); err != nil {
		log.Warn().Err(err).Str("table", table).Msg("change feed unavailable")
		return
	}
	defer changes.Close()
	if onStatus != nil {
		onStatus(true)
	}

	for changes.Next() {
		t, id, ok := splitDocID(changes.ID())
		if !ok || t != table {
			continue
		}
		if changes.Deleted() {
			onChange(store.Change{Table: table, Type: store.EventDelete, ID: id})
			continue
		}
		var doc map[string]any
		if err := changes.ScanDoc(&doc); err != nil {
			log.Warn().Err(err).Str("doc", changes.ID()).Msg("skipping undecodable change")
			continue
		}
		row, err := json.Marshal(toRow(doc))
		if err != nil {
			continue
		}
		typ := store.EventUpdate
		if revs := changes.Changes(); len(revs) > 0 && strings.HasPrefix(revs[0], "1-") {
			typ = store.EventInsert
		}
		onChange(store.Change{Table: table, Type: typ, ID: id, Row: row})
	}
	if err := changes.Err(); err != nil && ctx.Err() == nil {
		log.Warn().Err(err).Str("table", table).Msg("change feed dropped")
	}
}

func (b *Backend) Close() error {
	return b.client.Close()
}

type subscription struct {
	cancel context.CancelFunc
}

func (s *subscription) Close() error {
	s.cancel()
	return nil
}
