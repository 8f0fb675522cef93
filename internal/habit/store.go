package habit

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"math"
	"time"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS habits (
	cue_hash            TEXT NOT NULL,
	action              TEXT NOT NULL,
	strength            REAL NOT NULL DEFAULT 0,
	strength_updated_at TEXT NOT NULL,
	actor_count         INTEGER NOT NULL DEFAULT 0,
	created_at          TEXT NOT NULL,
	last_reinforced_at  TEXT,
	PRIMARY KEY (cue_hash, action)
);

CREATE TABLE IF NOT EXISTS habit_actors (
	cue_hash    TEXT NOT NULL,
	action      TEXT NOT NULL,
	actor_hash  TEXT NOT NULL,
	observed_at TEXT NOT NULL,
	PRIMARY KEY (cue_hash, action, actor_hash)
);

CREATE INDEX IF NOT EXISTS idx_habit_actors_actor ON habit_actors(actor_hash);

CREATE TABLE IF NOT EXISTS habit_optins (
	actor_hash TEXT PRIMARY KEY,
	opted_in   INTEGER NOT NULL,
	updated_at TEXT NOT NULL
);
`

// #endregion schema

// #region store

// Store is the privacy-preserving habit memory. All access goes through
// SQLite transactions; safe for concurrent use across workers.
type Store struct {
	db  *sql.DB
	cfg Config

	now func() time.Time // injectable for tests
}

// NewStore creates the habit tables on the shared handle.
func NewStore(db *sql.DB, cfg Config) (*Store, error) {
	if cfg.Quorum <= 0 {
		cfg.Quorum = DefaultConfig().Quorum
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultConfig().Window
	}
	if cfg.HalfLife <= 0 {
		cfg.HalfLife = DefaultConfig().HalfLife
	}
	if cfg.RetentionTTL <= 0 {
		cfg.RetentionTTL = DefaultConfig().RetentionTTL
	}
	if cfg.MinStrength <= 0 {
		cfg.MinStrength = DefaultConfig().MinStrength
	}
	if cfg.ReinforceDelta <= 0 {
		cfg.ReinforceDelta = DefaultConfig().ReinforceDelta
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate habits: %w", err)
	}
	return &Store{db: db, cfg: cfg, now: time.Now}, nil
}

// #endregion store

// #region opt-in

// SetOptIn records an actor's consent. Opting out deletes the actor's
// window contributions immediately; their reinforcements stop counting
// toward quorum from that point on.
func (s *Store) SetOptIn(ctx context.Context, actorID string, optIn bool) error {
	actor := HashActor(actorID)
	now := s.now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO habit_optins (actor_hash, opted_in, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(actor_hash) DO UPDATE SET opted_in = excluded.opted_in, updated_at = excluded.updated_at`,
		actor, boolInt(optIn), now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("set opt-in: %w", err)
	}

	if !optIn {
		if err := deleteContributions(ctx, tx, actor); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// optedIn resolves an actor's posture, falling back to the system default.
func (s *Store) optedIn(ctx context.Context, actorHash string) (bool, error) {
	var v int
	err := s.db.QueryRowContext(ctx,
		`SELECT opted_in FROM habit_optins WHERE actor_hash = ?`, actorHash,
	).Scan(&v)
	if err == sql.ErrNoRows {
		return s.cfg.DefaultOptIn, nil
	}
	if err != nil {
		return false, fmt.Errorf("opt-in lookup: %w", err)
	}
	return v != 0, nil
}

// #endregion opt-in

// #region observe

// Observe registers one actor's reinforcement of a cue→action pair. Writes
// for opted-out actors are silently dropped. Strength only grows once the
// distinct-actor count inside the rolling window reaches quorum, so a single
// actor can repeat a cue indefinitely without promoting it.
func (s *Store) Observe(ctx context.Context, cueHash, action, actorID string) error {
	actor := HashActor(actorID)
	in, err := s.optedIn(ctx, actor)
	if err != nil {
		return err
	}
	if !in {
		return nil
	}

	now := s.now().UTC()
	nowStr := now.Format(time.RFC3339Nano)
	windowFloor := now.Add(-s.cfg.Window).Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO habit_actors (cue_hash, action, actor_hash, observed_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(cue_hash, action, actor_hash) DO UPDATE SET observed_at = excluded.observed_at`,
		cueHash, action, actor, nowStr,
	)
	if err != nil {
		return fmt.Errorf("record actor: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`DELETE FROM habit_actors WHERE cue_hash = ? AND action = ? AND observed_at < ?`,
		cueHash, action, windowFloor,
	)
	if err != nil {
		return fmt.Errorf("prune window: %w", err)
	}

	var count int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM habit_actors WHERE cue_hash = ? AND action = ?`,
		cueHash, action,
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("count actors: %w", err)
	}

	var strength float64
	var updatedStr string
	err = tx.QueryRowContext(ctx,
		`SELECT strength, strength_updated_at FROM habits WHERE cue_hash = ? AND action = ?`,
		cueHash, action,
	).Scan(&strength, &updatedStr)
	switch {
	case err == sql.ErrNoRows:
		_, err = tx.ExecContext(ctx,
			`INSERT INTO habits (cue_hash, action, strength, strength_updated_at, actor_count, created_at)
			 VALUES (?, ?, 0, ?, ?, ?)`,
			cueHash, action, nowStr, count, nowStr,
		)
		if err != nil {
			return fmt.Errorf("insert habit: %w", err)
		}
		strength = 0
		updatedStr = nowStr
	case err != nil:
		return fmt.Errorf("read habit: %w", err)
	}

	if count >= s.cfg.Quorum {
		updatedAt, _ := time.Parse(time.RFC3339Nano, updatedStr)
		next := Decay(strength, now.Sub(updatedAt), s.cfg.HalfLife) + s.cfg.ReinforceDelta
		if next > 1.0 {
			next = 1.0
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE habits SET strength = ?, strength_updated_at = ?, actor_count = ?, last_reinforced_at = ?
			 WHERE cue_hash = ? AND action = ?`,
			next, nowStr, count, nowStr, cueHash, action,
		)
	} else {
		_, err = tx.ExecContext(ctx,
			`UPDATE habits SET actor_count = ? WHERE cue_hash = ? AND action = ?`,
			count, cueHash, action,
		)
	}
	if err != nil {
		return fmt.Errorf("update habit: %w", err)
	}

	return tx.Commit()
}

// #endregion observe

// #region score

// Score returns the strongest action for a cue with decay applied lazily at
// read time. Unknown cues and habits decayed below the minimum strength both
// return nil, never an error.
func (s *Store) Score(ctx context.Context, cueHash string) (*Strength, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT action, strength, strength_updated_at FROM habits WHERE cue_hash = ?`,
		cueHash,
	)
	if err != nil {
		return nil, fmt.Errorf("score lookup: %w", err)
	}
	defer rows.Close()

	now := s.now().UTC()
	var best *Strength
	for rows.Next() {
		var action, updatedStr string
		var strength float64
		if err := rows.Scan(&action, &strength, &updatedStr); err != nil {
			return nil, fmt.Errorf("scan habit: %w", err)
		}
		updatedAt, _ := time.Parse(time.RFC3339Nano, updatedStr)
		decayed := Decay(strength, now.Sub(updatedAt), s.cfg.HalfLife)
		if decayed < s.cfg.MinStrength {
			continue
		}
		if best == nil || decayed > best.Value {
			best = &Strength{Action: action, Value: decayed}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("score rows: %w", err)
	}
	return best, nil
}

// #endregion score

// #region compliance

// Export returns everything the store holds for an actor: a direct,
// synchronous data-subject operation independent of decay and TTL.
func (s *Store) Export(ctx context.Context, actorID string) (ActorExport, error) {
	actor := HashActor(actorID)
	out := ActorExport{ActorHash: actor}

	in, err := s.optedIn(ctx, actor)
	if err != nil {
		return ActorExport{}, err
	}
	out.OptedIn = in

	rows, err := s.db.QueryContext(ctx,
		`SELECT cue_hash, action, observed_at FROM habit_actors WHERE actor_hash = ? ORDER BY observed_at`,
		actor,
	)
	if err != nil {
		return ActorExport{}, fmt.Errorf("export query: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var c Contribution
		var observedStr string
		if err := rows.Scan(&c.CueHash, &c.Action, &observedStr); err != nil {
			return ActorExport{}, fmt.Errorf("scan contribution: %w", err)
		}
		c.ObservedAt, _ = time.Parse(time.RFC3339Nano, observedStr)
		out.Contributions = append(out.Contributions, c)
	}
	return out, rows.Err()
}

// DeleteActor removes an actor's contributions and recounts quorum for the
// pairs they touched. Accumulated strength from past quorum reinforcement is
// not rewound; it continues to decay normally.
func (s *Store) DeleteActor(ctx context.Context, actorID string) error {
	actor := HashActor(actorID)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := deleteContributions(ctx, tx, actor); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM habit_optins WHERE actor_hash = ?`, actor); err != nil {
		return fmt.Errorf("delete opt-in: %w", err)
	}

	return tx.Commit()
}

// deleteContributions removes window rows for an actor and refreshes the
// affected actor counts.
func deleteContributions(ctx context.Context, tx *sql.Tx, actorHash string) error {
	rows, err := tx.QueryContext(ctx,
		`SELECT cue_hash, action FROM habit_actors WHERE actor_hash = ?`, actorHash,
	)
	if err != nil {
		return fmt.Errorf("list contributions: %w", err)
	}
	type pair struct{ cue, action string }
	var touched []pair
	for rows.Next() {
		var p pair
		if err := rows.Scan(&p.cue, &p.action); err != nil {
			rows.Close()
			return fmt.Errorf("scan contribution: %w", err)
		}
		touched = append(touched, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("list contributions: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM habit_actors WHERE actor_hash = ?`, actorHash,
	); err != nil {
		return fmt.Errorf("delete contributions: %w", err)
	}

	for _, p := range touched {
		if _, err := tx.ExecContext(ctx,
			`UPDATE habits SET actor_count =
			   (SELECT COUNT(*) FROM habit_actors WHERE cue_hash = ? AND action = ?)
			 WHERE cue_hash = ? AND action = ?`,
			p.cue, p.action, p.cue, p.action,
		); err != nil {
			return fmt.Errorf("recount actors: %w", err)
		}
	}
	return nil
}

// #endregion compliance

// #region sweep

// Sweep hard-deletes habits past the retention TTL regardless of strength and
// prunes stale window rows. Decay correctness does not depend on it; it exists
// for compliance. Returns the number of habits deleted.
func (s *Store) Sweep(ctx context.Context) (int64, error) {
	now := s.now().UTC()
	floor := now.Add(-s.cfg.RetentionTTL).Format(time.RFC3339Nano)
	windowFloor := now.Add(-s.cfg.Window).Format(time.RFC3339Nano)

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM habits WHERE COALESCE(last_reinforced_at, created_at) < ?`, floor,
	)
	if err != nil {
		return 0, fmt.Errorf("sweep habits: %w", err)
	}
	deleted, _ := res.RowsAffected()

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM habit_actors WHERE observed_at < ?`, windowFloor,
	); err != nil {
		return deleted, fmt.Errorf("sweep actors: %w", err)
	}
	return deleted, nil
}

// #endregion sweep

// #region helpers

// Decay is the pure strength decay function: strength * 0.5^(elapsed/halfLife).
func Decay(strength float64, elapsed, halfLife time.Duration) float64 {
	if elapsed <= 0 || halfLife <= 0 {
		return strength
	}
	return strength * math.Pow(0.5, elapsed.Seconds()/halfLife.Seconds())
}

// HashActor hashes an actor id before it touches any table.
func HashActor(actorID string) string {
	sum := sha256.Sum256([]byte("actor:" + actorID))
	return hex.EncodeToString(sum[:])
}

// HashCue hashes normalized text into a stable cue key.
func HashCue(normalized string) string {
	sum := sha256.Sum256([]byte("cue:" + normalized))
	return hex.EncodeToString(sum[:])
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// #endregion helpers
