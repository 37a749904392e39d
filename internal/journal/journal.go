package journal

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/critterbox/battlewire/internal/events"
)

const subscriberName = "journal"

// Journal records route and battle events published on the event bus.
type Journal struct {
	db *Database
}

// RouteEntry is one recorded routing decision.
type RouteEntry struct {
	ID        int64              `json:"id"`
	At        time.Time          `json:"at"`
	Role      string             `json:"role"`
	Event     string             `json:"event"`
	Type      string             `json:"type"`
	Sender    string             `json:"sender"`
	Recipient string             `json:"recipient"`
	Action    events.RouteAction `json:"action"`
	Target    string             `json:"target,omitempty"`
	Detail    string             `json:"detail,omitempty"`
}

// BattleEntry is the recorded history of one battle.
type BattleEntry struct {
	BattleID     string     `json:"battle_id"`
	Format       string     `json:"format"`
	Participants []string   `json:"participants"`
	Winner       string     `json:"winner,omitempty"`
	Reason       string     `json:"reason,omitempty"`
	Turns        int        `json:"turns"`
	StartedAt    time.Time  `json:"started_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
}

// Open opens the journal database at path and migrates its schema.
func Open(path string) (*Journal, error) {
	database, err := NewDatabase(path)
	if err != nil {
		return nil, err
	}

	j := &Journal{db: database}
	if err := j.migrate(); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to migrate journal database: %w", err)
	}
	return j, nil
}

func (j *Journal) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS routes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			at INTEGER NOT NULL,
			role TEXT NOT NULL,
			event TEXT NOT NULL,
			type TEXT NOT NULL,
			sender TEXT NOT NULL,
			recipient TEXT NOT NULL,
			action TEXT NOT NULL,
			target TEXT NOT NULL DEFAULT '',
			detail TEXT NOT NULL DEFAULT ''
		);

		CREATE TABLE IF NOT EXISTS battles (
			battle_id TEXT PRIMARY KEY,
			format TEXT NOT NULL DEFAULT '',
			participants TEXT NOT NULL DEFAULT '',
			winner TEXT NOT NULL DEFAULT '',
			reason TEXT NOT NULL DEFAULT '',
			turns INTEGER NOT NULL DEFAULT 0,
			started_at INTEGER NOT NULL,
			ended_at INTEGER
		);

		CREATE INDEX IF NOT EXISTS idx_routes_at ON routes(at);
		CREATE INDEX IF NOT EXISTS idx_routes_action ON routes(action);
		CREATE INDEX IF NOT EXISTS idx_battles_started ON battles(started_at);
	`

	if _, err := j.db.Exec(schema); err != nil {
		return fmt.Errorf("schema migration failed: %w", err)
	}

	log.Debug().Msg("journal schema migrated")
	return nil
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Subscribe registers the journal for route and battle events on bus.
func (j *Journal) Subscribe(bus *events.EventBus) {
	for _, t := range events.RouteEventTypes {
		bus.Subscribe(t, subscriberName, j.handleRoute)
	}
	bus.Subscribe(events.EventBattleStarted, subscriberName, j.handleBattle)
	bus.Subscribe(events.EventBattleEnded, subscriberName, j.handleBattle)
}

// Unsubscribe removes the journal's handlers from bus.
func (j *Journal) Unsubscribe(bus *events.EventBus) {
	for _, t := range events.RouteEventTypes {
		bus.Unsubscribe(t, subscriberName)
	}
	bus.Unsubscribe(events.EventBattleStarted, subscriberName)
	bus.Unsubscribe(events.EventBattleEnded, subscriberName)
}

func (j *Journal) handleRoute(_ context.Context, ev events.Event) error {
	p, ok := ev.Payload.(events.RoutePayload)
	if !ok {
		return fmt.Errorf("journal: unexpected route payload %T", ev.Payload)
	}
	return j.RecordRoute(ev.At, ev.Type, p)
}

func (j *Journal) handleBattle(_ context.Context, ev events.Event) error {
	p, ok := ev.Payload.(events.BattlePayload)
	if !ok {
		return fmt.Errorf("journal: unexpected battle payload %T", ev.Payload)
	}
	if ev.Type == events.EventBattleEnded {
		return j.RecordBattleEnd(ev.At, p)
	}
	return j.RecordBattleStart(ev.At, p)
}

// RecordRoute stores one routing decision.
func (j *Journal) RecordRoute(at time.Time, kind events.EventType, p events.RoutePayload) error {
	_, err := j.db.Exec(
		`INSERT INTO routes (at, role, event, type, sender, recipient, action, target, detail)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		at.UnixNano(), p.Role, string(kind), p.Type, p.Sender, p.Recipient, string(p.Action), p.Target, p.Detail)
	if err != nil {
		return fmt.Errorf("failed to record route: %w", err)
	}
	return nil
}

// RecordBattleStart stores a newly started battle.
func (j *Journal) RecordBattleStart(at time.Time, p events.BattlePayload) error {
	_, err := j.db.Exec(
		`INSERT INTO battles (battle_id, format, participants, started_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(battle_id) DO UPDATE SET
			format = excluded.format,
			participants = excluded.participants`,
		p.BattleID, p.Format, strings.Join(p.Participants, ","), at.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to record battle start: %w", err)
	}
	return nil
}

// RecordBattleEnd stores the outcome of a battle. A battle the journal
// never saw start is recorded with its end time as start time.
func (j *Journal) RecordBattleEnd(at time.Time, p events.BattlePayload) error {
	_, err := j.db.Exec(
		`INSERT INTO battles (battle_id, format, participants, winner, reason, turns, started_at, ended_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(battle_id) DO UPDATE SET
			winner = excluded.winner,
			reason = excluded.reason,
			turns = excluded.turns,
			ended_at = excluded.ended_at`,
		p.BattleID, p.Format, strings.Join(p.Participants, ","), p.Winner, p.Reason, p.Turns,
		at.UnixNano(), at.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to record battle end: %w", err)
	}
	return nil
}

// Recent returns up to n routing decisions, newest first.
func (j *Journal) Recent(n int) ([]RouteEntry, error) {
	if n <= 0 {
		return nil, nil
	}

	rows, err := j.db.Query(
		`SELECT id, at, role, event, type, sender, recipient, action, target, detail
		 FROM routes ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query routes: %w", err)
	}
	defer rows.Close()

	var entries []RouteEntry
	for rows.Next() {
		var (
			e      RouteEntry
			at     int64
			action string
		)
		if err := rows.Scan(&e.ID, &at, &e.Role, &e.Event, &e.Type, &e.Sender, &e.Recipient, &action, &e.Target, &e.Detail); err != nil {
			return nil, fmt.Errorf("failed to scan route: %w", err)
		}
		e.At = time.Unix(0, at)
		e.Action = events.RouteAction(action)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Battles returns up to n recorded battles, most recently started first.
func (j *Journal) Battles(n int) ([]BattleEntry, error) {
	if n <= 0 {
		return nil, nil
	}

	rows, err := j.db.Query(
		`SELECT battle_id, format, participants, winner, reason, turns, started_at, ended_at
		 FROM battles ORDER BY started_at DESC, battle_id LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query battles: %w", err)
	}
	defer rows.Close()

	var entries []BattleEntry
	for rows.Next() {
		var (
			e            BattleEntry
			participants string
			started      int64
			ended        sql.NullInt64
		)
		if err := rows.Scan(&e.BattleID, &e.Format, &participants, &e.Winner, &e.Reason, &e.Turns, &started, &ended); err != nil {
			return nil, fmt.Errorf("failed to scan battle: %w", err)
		}
		if participants != "" {
			e.Participants = strings.Split(participants, ",")
		}
		e.StartedAt = time.Unix(0, started)
		if ended.Valid {
			t := time.Unix(0, ended.Int64)
			e.EndedAt = &t
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ActionCounts returns how many routing decisions were recorded per action.
func (j *Journal) ActionCounts() (map[events.RouteAction]int, error) {
	rows, err := j.db.Query(`SELECT action, COUNT(*) FROM routes GROUP BY action`)
	if err != nil {
		return nil, fmt.Errorf("failed to count routes: %w", err)
	}
	defer rows.Close()

	counts := make(map[events.RouteAction]int)
	for rows.Next() {
		var (
			action string
			n      int
		)
		if err := rows.Scan(&action, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[events.RouteAction(action)] = n
	}
	return counts, rows.Err()
}

// Prune deletes routing decisions and ended battles recorded before cutoff.
// It returns the number of rows removed.
func (j *Journal) Prune(cutoff time.Time) (int64, error) {
	var removed int64
	err := j.db.Transaction(func(tx *sql.Tx) error {
		res, err := tx.Exec(`DELETE FROM routes WHERE at < ?`, cutoff.UnixNano())
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		removed += n

		res, err = tx.Exec(`DELETE FROM battles WHERE ended_at IS NOT NULL AND ended_at < ?`, cutoff.UnixNano())
		if err != nil {
			return err
		}
		n, _ = res.RowsAffected()
		removed += n
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to prune journal: %w", err)
	}
	if removed > 0 {
		log.Info().Int64("rows", removed).Time("cutoff", cutoff).Msg("journal pruned")
	}
	return removed, nil
}
