// Package sqlite persists an audit journal of everything the monitor saw
// and did: one row per ticket sighting, one row per opened ticket. The
// journal is append-only history for later review; the in-memory ledger
// alone decides dedup, so wiping the database never changes behaviour.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"twicket-botv1/internal/events"
	"twicket-botv1/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

const (
	defaultBatchSize  = 50
	defaultFlushDelay = 500 * time.Millisecond
)

// JournalConfig configures the journal writer.
type JournalConfig struct {
	DBPath string // path to SQLite database file, e.g. "data/journal.db"
}

// Journal is a single-goroutine SQLite writer with transaction batching
// for sightings; open actions are committed immediately.
type Journal struct {
	db *sql.DB
}

// DB returns the underlying sql.DB for health checks.
func (j *Journal) DB() *sql.DB { return j.db }

// New opens (or creates) the journal database with WAL mode and schema.
func New(cfg JournalConfig) (*Journal, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Set connection pool for single-writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened journal at %s", cfg.DBPath)
	return &Journal{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS sightings (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			ticket_key  TEXT    NOT NULL,
			listing_id  TEXT    NOT NULL,
			section     TEXT    NOT NULL,
			row         TEXT    NOT NULL,
			seats       INTEGER NOT NULL,
			price_pence INTEGER NOT NULL,
			outcome     TEXT    NOT NULL,
			seen_at     INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_sightings_key ON sightings (ticket_key);

		CREATE TABLE IF NOT EXISTS actions (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			listing_id  TEXT    NOT NULL,
			ticket_key  TEXT    NOT NULL,
			url         TEXT    NOT NULL,
			price_pence INTEGER NOT NULL,
			opened_at   INTEGER NOT NULL
		);
	`)
	return err
}

// Run consumes ticket events from the bus subscription and journals them.
// Sightings are flushed every batchSize rows OR every flushDelay, whichever
// comes first; open actions bypass the batch so the row survives a crash
// right after the browser opened the page. Blocks until ctx is cancelled or
// the channel is closed.
func (j *Journal) Run(ctx context.Context, eventCh <-chan events.Event) {
	batch := make([]sighting, 0, defaultBatchSize)
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := j.insertSightings(batch); err != nil {
			log.Printf("[sqlite] sightings insert error: %v", err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return

		case ev, ok := <-eventCh:
			if !ok {
				flush()
				return
			}
			if ev.Kind != events.KindTicket || ev.Entry == nil {
				continue
			}
			batch = append(batch, sightingFrom(ev))
			if len(batch) >= defaultBatchSize {
				flush()
				timer.Reset(defaultFlushDelay)
			}
			if ev.Entry.Outcome == model.OutcomeOpened {
				flush()
				if err := j.recordAction(ev); err != nil {
					log.Printf("[sqlite] action insert error: %v", err)
				}
			}

		case <-timer.C:
			flush()
			timer.Reset(defaultFlushDelay)
		}
	}
}

type sighting struct {
	key       string
	listingID string
	section   string
	row       string
	seats     int
	price     int64
	outcome   model.Outcome
	seenAt    time.Time
}

func sightingFrom(ev events.Event) sighting {
	e := ev.Entry
	return sighting{
		key:       e.Identity.Key(),
		listingID: e.Identity.ListingID,
		section:   e.Identity.Section,
		row:       e.Identity.Row,
		seats:     e.Identity.Seats,
		price:     e.Price,
		outcome:   e.Outcome,
		seenAt:    e.LastSeen,
	}
}

// insertSightings inserts a batch of sightings in a single transaction.
func (j *Journal) insertSightings(batch []sighting) error {
	tx, err := j.db.Begin()
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare(`
		INSERT INTO sightings (ticket_key, listing_id, section, row, seats, price_pence, outcome, seen_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, s := range batch {
		_, err := stmt.Exec(s.key, s.listingID, s.section, s.row, s.seats, s.price, string(s.outcome), s.seenAt.Unix())
		if err != nil {
			tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

// recordAction journals one opened ticket, committed on its own.
func (j *Journal) recordAction(ev events.Event) error {
	e := ev.Entry
	_, err := j.db.Exec(`
		INSERT INTO actions (listing_id, ticket_key, url, price_pence, opened_at)
		VALUES (?, ?, ?, ?, ?)
	`, e.Identity.ListingID, e.Identity.Key(), ev.URL, e.Price, ev.TS.Unix())
	return err
}

// OpenedCount returns the number of journalled open actions.
func (j *Journal) OpenedCount() (int, error) {
	var n int
	err := j.db.QueryRow(`SELECT COUNT(*) FROM actions`).Scan(&n)
	return n, err
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}
