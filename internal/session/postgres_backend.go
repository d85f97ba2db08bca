package session

import (
	"database/sql"
	"encoding/json"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	_ "github.com/jackc/pgx/v5/stdlib"

	"veracity/internal/types"
)

// pgBackend mirrors committed session state into Postgres so a run outlives a
// process restart. Memory stays authoritative for live sessions; the backend
// is consulted only on a miss.
type pgBackend struct {
	db *sql.DB

	schemaOnce sync.Once
	schemaErr  error

	snapshots *lru.Cache[string, Session]
}

func newPGBackend(dsn string) (*pgBackend, error) {
	db, err := sql.Open("pgx", strings.TrimSpace(dsn))
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	cache, err := lru.New[string, Session](1024)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &pgBackend{db: db, snapshots: cache}, nil
}

func (p *pgBackend) ensureSchema() error {
	p.schemaOnce.Do(func() {
		_, p.schemaErr = p.db.Exec(`
CREATE TABLE IF NOT EXISTS analysis_sessions (
  session_id TEXT PRIMARY KEY,
  generation INT NOT NULL DEFAULT 1,
  analysis_mode TEXT NOT NULL DEFAULT '',
  input JSONB NOT NULL DEFAULT '{}',
  enrichment_enabled BOOLEAN NOT NULL DEFAULT TRUE,
  status TEXT NOT NULL DEFAULT 'pending',
  current_stage TEXT NOT NULL DEFAULT '',
  completed BOOLEAN NOT NULL DEFAULT FALSE,
  fail_reason TEXT NOT NULL DEFAULT '',
  skip_to_final BOOLEAN NOT NULL DEFAULT FALSE,
  skip_reason TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
  updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
  expires_at TIMESTAMP WITH TIME ZONE NOT NULL
);

CREATE TABLE IF NOT EXISTS stage_results (
  session_id TEXT NOT NULL REFERENCES analysis_sessions (session_id) ON DELETE CASCADE,
  stage TEXT NOT NULL,
  payload JSONB NOT NULL,
  committed BOOLEAN NOT NULL DEFAULT FALSE,
  updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
  UNIQUE (session_id, stage)
);
CREATE INDEX IF NOT EXISTS idx_stage_results_session_id ON stage_results (session_id);
CREATE INDEX IF NOT EXISTS idx_analysis_sessions_expires ON analysis_sessions (expires_at);
`)
	})
	return p.schemaErr
}

func (p *pgBackend) save(sess Session, expires time.Time) error {
	if err := p.ensureSchema(); err != nil {
		return err
	}
	input, _ := json.Marshal(sess.Input)
	_, err := p.db.Exec(`
INSERT INTO analysis_sessions (
  session_id, generation, analysis_mode, input, enrichment_enabled, status,
  current_stage, completed, fail_reason, skip_to_final, skip_reason,
  created_at, updated_at, expires_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
ON CONFLICT (session_id)
DO UPDATE SET generation=EXCLUDED.generation,
  status=EXCLUDED.status,
  current_stage=EXCLUDED.current_stage,
  completed=EXCLUDED.completed,
  fail_reason=EXCLUDED.fail_reason,
  skip_to_final=EXCLUDED.skip_to_final,
  skip_reason=EXCLUDED.skip_reason,
  updated_at=EXCLUDED.updated_at,
  expires_at=EXCLUDED.expires_at`,
		sess.ID, sess.Generation, sess.Mode, input, sess.EnrichmentEnabled, sess.Status,
		string(sess.CurrentStage), sess.Completed, sess.FailReason, sess.SkipToFinal, sess.SkipReason,
		sess.CreatedAt, sess.UpdatedAt, expires)
	if err != nil {
		return err
	}
	for stage, payload := range slotPayloads(sess) {
		data, merr := json.Marshal(payload)
		if merr != nil {
			continue
		}
		if _, err := p.db.Exec(`
INSERT INTO stage_results (session_id, stage, payload, committed, updated_at)
VALUES ($1,$2,$3,$4,NOW())
ON CONFLICT (session_id, stage)
DO UPDATE SET payload=EXCLUDED.payload, committed=EXCLUDED.committed, updated_at=NOW()`,
			sess.ID, string(stage), data, sess.IsCommitted(stage)); err != nil {
			return err
		}
	}
	p.snapshots.Remove(sess.ID)
	return nil
}

func slotPayloads(sess Session) map[Stage]any {
	out := make(map[Stage]any)
	if sess.Screening != nil {
		out[StageScreening] = sess.Screening
	}
	if sess.Classification != nil {
		out[StageClassify] = sess.Classification
	}
	if sess.Perspectives != nil {
		out[StagePerspectives] = sess.Perspectives
	}
	if sess.Enrichment != nil {
		out[StageEnrichment] = sess.Enrichment
	}
	if sess.Debate != nil {
		out[StageDebate] = sess.Debate
	}
	if sess.Verdict != nil {
		out[StageVerdict] = sess.Verdict
	}
	return out
}

func (p *pgBackend) load(id string, now time.Time) (Session, bool) {
	if err := p.ensureSchema(); err != nil {
		return Session{}, false
	}
	if sess, ok := p.snapshots.Get(id); ok {
		return sess.clone(), true
	}

	var (
		sess    Session
		stage   string
		input   []byte
		expires time.Time
	)
	row := p.db.QueryRow(`
SELECT session_id, generation, analysis_mode, input, enrichment_enabled, status,
  current_stage, completed, fail_reason, skip_to_final, skip_reason,
  created_at, updated_at, expires_at
FROM analysis_sessions WHERE session_id = $1`, id)
	err := row.Scan(
		&sess.ID, &sess.Generation, &sess.Mode, &input, &sess.EnrichmentEnabled, &sess.Status,
		&stage, &sess.Completed, &sess.FailReason, &sess.SkipToFinal, &sess.SkipReason,
		&sess.CreatedAt, &sess.UpdatedAt, &expires)
	if err != nil || !now.Before(expires) {
		return Session{}, false
	}
	sess.CurrentStage = Stage(stage)
	_ = json.Unmarshal(input, &sess.Input)
	sess.Committed = make(map[Stage]bool)

	rows, err := p.db.Query(`SELECT stage, payload, committed FROM stage_results WHERE session_id = $1`, id)
	if err != nil {
		return Session{}, false
	}
	defer rows.Close()
	for rows.Next() {
		var (
			st        string
			payload   []byte
			committed bool
		)
		if err := rows.Scan(&st, &payload, &committed); err != nil {
			continue
		}
		attachSlot(&sess, Stage(st), payload)
		if committed {
			sess.Committed[Stage(st)] = true
		}
	}

	p.snapshots.Add(id, sess.clone())
	return sess, true
}

func attachSlot(sess *Session, stage Stage, payload []byte) {
	switch stage {
	case StageScreening:
		var v types.RiskAssessment
		if json.Unmarshal(payload, &v) == nil {
			sess.Screening = &v
		}
	case StageClassify:
		var v types.Classification
		if json.Unmarshal(payload, &v) == nil {
			sess.Classification = &v
		}
	case StagePerspectives:
		var v types.PerspectiveSet
		if json.Unmarshal(payload, &v) == nil {
			sess.Perspectives = &v
		}
	case StageEnrichment:
		var v types.EnrichmentSet
		if json.Unmarshal(payload, &v) == nil {
			sess.Enrichment = &v
		}
	case StageDebate:
		var v types.DebateRecord
		if json.Unmarshal(payload, &v) == nil {
			sess.Debate = &v
		}
	case StageVerdict:
		var v types.Verdict
		if json.Unmarshal(payload, &v) == nil {
			sess.Verdict = &v
		}
	}
}

func (p *pgBackend) delete(id string) error {
	if err := p.ensureSchema(); err != nil {
		return err
	}
	p.snapshots.Remove(id)
	_, err := p.db.Exec(`DELETE FROM analysis_sessions WHERE session_id = $1`, id)
	return err
}

func (p *pgBackend) deleteExpired(now time.Time) error {
	if err := p.ensureSchema(); err != nil {
		return err
	}
	p.snapshots.Purge()
	_, err := p.db.Exec(`DELETE FROM analysis_sessions WHERE expires_at <= $1`, now)
	return err
}

func (p *pgBackend) close() error { return p.db.Close() }
