package audit

import (
	"context"
	"strconv"
	"strings"
	"time"
)

// TimelineFilters narrows the audit listing.
type TimelineFilters struct {
	From     time.Time
	To       time.Time
	ActorID  string
	Entity   string
	Action   string
	Page     int
	PageSize int
}

// TimelineRow is one record in the audit listing.
type TimelineRow struct {
	At          time.Time `json:"at"`
	ActorID     string    `json:"actorId"`
	EffectiveID string    `json:"effectiveId"`
	Action      string    `json:"action"`
	Entity      string    `json:"entity"`
	EntityID    string    `json:"entityId,omitempty"`
}

// TimelineResult bundles rows with paging metadata.
type TimelineResult struct {
	Rows    []TimelineRow `json:"rows"`
	Page    int           `json:"page"`
	HasNext bool          `json:"hasNext"`
}

// Timeline lists audit entries newest first. Fetches one row past the page
// size to decide HasNext without a count query.
func (l *Logger) Timeline(ctx context.Context, filters TimelineFilters) (TimelineResult, error) {
	pageSize := filters.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 50 {
		pageSize = 50
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}

	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	if !filters.From.IsZero() {
		where = append(where, "occurred_at >= "+arg(filters.From.UTC()))
	}
	if !filters.To.IsZero() {
		where = append(where, "occurred_at <= "+arg(filters.To.UTC()))
	}
	if filters.ActorID != "" {
		where = append(where, "actor_id = "+arg(filters.ActorID))
	}
	if filters.Entity != "" {
		where = append(where, "entity = "+arg(filters.Entity))
	}
	if filters.Action != "" {
		where = append(where, "action = "+arg(filters.Action))
	}

	query := `SELECT occurred_at, actor_id, effective_id, action, entity, entity_id FROM audit_logs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY occurred_at DESC LIMIT " + arg(pageSize+1) + " OFFSET " + arg((page-1)*pageSize)

	rows, err := l.pool.Query(ctx, query, args...)
	if err != nil {
		return TimelineResult{}, err
	}
	defer rows.Close()

	var out []TimelineRow
	for rows.Next() {
		var row TimelineRow
		var entityID *string
		if err := rows.Scan(&row.At, &row.ActorID, &row.EffectiveID, &row.Action, &row.Entity, &entityID); err != nil {
			return TimelineResult{}, err
		}
		if entityID != nil {
			row.EntityID = *entityID
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return TimelineResult{}, err
	}

	hasNext := len(out) > pageSize
	if hasNext {
		out = out[:pageSize]
	}
	return TimelineResult{Rows: out, Page: page, HasNext: hasNext}, nil
}
