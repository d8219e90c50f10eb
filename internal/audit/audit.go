// Package audit persists the acting/effective identity trail for
// auth-sensitive writes, impersonation transitions in particular.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/team-kenya/harambee/internal/principal"
)

// Entry is a record stored in audit_logs. ActorID is the accountable
// identity; EffectiveID differs from it while impersonating.
type Entry struct {
	ActorID     string
	EffectiveID string
	Action      string
	Entity      string
	EntityID    string
	Meta        map[string]any
	At          time.Time
}

// Recorder is implemented by anything that can persist audit entries.
type Recorder interface {
	Record(ctx context.Context, entry Entry) error
}

// Logger writes entries into audit_logs.
type Logger struct {
	pool *pgxpool.Pool
}

// NewLogger returns a new Logger.
func NewLogger(pool *pgxpool.Pool) *Logger {
	return &Logger{pool: pool}
}

// Record persists the entry.
func (l *Logger) Record(ctx context.Context, entry Entry) error {
	if l == nil {
		return errors.New("audit: logger not initialised")
	}
	if entry.Action == "" || entry.ActorID == "" {
		return errors.New("audit: entry requires action and actor")
	}
	if entry.EffectiveID == "" {
		entry.EffectiveID = entry.ActorID
	}
	metaJSON, err := json.Marshal(entry.Meta)
	if err != nil {
		return err
	}
	_, err = l.pool.Exec(ctx,
		`INSERT INTO audit_logs (actor_id, effective_id, action, entity, entity_id, meta, occurred_at)
		 VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, NOW()))`,
		entry.ActorID, entry.EffectiveID, entry.Action, entry.Entity, entry.EntityID, metaJSON, nullableTime(entry.At))
	return err
}

// ForPrincipal pre-fills an entry with both identities of the request, so
// write handlers never have to reconstruct the acting-as trail themselves.
func ForPrincipal(p *principal.Principal, action, entity, entityID string) Entry {
	entry := Entry{
		ActorID:     p.ActingID(),
		EffectiveID: p.ID,
		Action:      action,
		Entity:      entity,
		EntityID:    entityID,
	}
	if p.Impersonated() {
		entry.Meta = map[string]any{
			"impersonating": true,
			"acting_role":   string(p.ActingRole()),
		}
	}
	return entry
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

var _ Recorder = (*Logger)(nil)
