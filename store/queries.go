package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MZRMRB/trakr/pipeline"
)

// The read-only query surface consumed by the CRUD layer. Nothing here runs
// business logic beyond filtering; derived state comes from the pipeline.

// AlarmFilter narrows an alarm listing. Zero values mean "no filter".
type AlarmFilter struct {
	Kind     pipeline.AlarmKind
	From     time.Time
	To       time.Time
	Page     int
	PageSize int
}

// AlarmRecord is a persisted alarm plus its handling state, which lives
// outside the pipeline and never mutates the alarm itself.
type AlarmRecord struct {
	pipeline.Alarm
	IsHandled    bool       `json:"is_handled"`
	HandledBy    string     `json:"handled_by,omitempty"`
	HandledAt    *time.Time `json:"handled_at,omitempty"`
	HandleReason string     `json:"handle_reason,omitempty"`
}

// ListAlarms returns one page of an organization's alarms, newest first,
// with the unpaginated total.
func (s *Store) ListAlarms(ctx context.Context, orgID string, f AlarmFilter) ([]AlarmRecord, int, error) {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 || f.PageSize > 100 {
		f.PageSize = 10
	}

	where := "WHERE org_id = $1"
	args := []any{orgID}
	if f.Kind != "" {
		args = append(args, string(f.Kind))
		where += fmt.Sprintf(" AND kind = $%d", len(args))
	}
	if !f.From.IsZero() {
		args = append(args, f.From)
		where += fmt.Sprintf(" AND triggered_at >= $%d", len(args))
	}
	if !f.To.IsZero() {
		args = append(args, f.To)
		where += fmt.Sprintf(" AND triggered_at <= $%d", len(args))
	}

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM alarms "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count alarms: %w", err)
	}

	args = append(args, f.PageSize, (f.Page-1)*f.PageSize)
	query := fmt.Sprintf(`
		SELECT id, org_id, tag_id, kind, severity, triggered_at, lat, lon, details,
		       is_handled, COALESCE(handled_by, ''), handled_at, COALESCE(handle_reason, '')
		FROM alarms %s
		ORDER BY triggered_at DESC
		LIMIT $%d OFFSET $%d`, where, len(args)-1, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list alarms: %w", err)
	}
	defer rows.Close()

	var out []AlarmRecord
	for rows.Next() {
		var (
			rec     AlarmRecord
			details []byte
		)
		if err := rows.Scan(&rec.ID, &rec.OrgID, &rec.TagID, &rec.Kind, &rec.Severity,
			&rec.TriggeredAt, &rec.Lat, &rec.Lon, &details,
			&rec.IsHandled, &rec.HandledBy, &rec.HandledAt, &rec.HandleReason); err != nil {
			return nil, 0, fmt.Errorf("scan alarm: %w", err)
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &rec.Details); err != nil {
				return nil, 0, fmt.Errorf("alarm %s details: %w", rec.ID, err)
			}
		}
		out = append(out, rec)
	}
	return out, total, rows.Err()
}

// ListRouteSegments returns a tag's segments overlapping the time range,
// oldest first.
func (s *Store) ListRouteSegments(ctx context.Context, orgID, tagID string, from, to time.Time) ([]pipeline.RouteSegment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, org_id, tag_id, status, waypoints, distance_m, duration_s,
		       max_speed_kmh, avg_speed_kmh, start_time, end_time
		FROM route_segments
		WHERE org_id = $1 AND tag_id = $2 AND end_time >= $3 AND start_time <= $4
		ORDER BY start_time`,
		orgID, tagID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list segments: %w", err)
	}
	defer rows.Close()

	var out []pipeline.RouteSegment
	for rows.Next() {
		var (
			seg       pipeline.RouteSegment
			waypoints []byte
		)
		if err := rows.Scan(&seg.ID, &seg.OrgID, &seg.TagID, &seg.Status, &waypoints,
			&seg.DistanceM, &seg.DurationS, &seg.MaxSpeedKmh, &seg.AvgSpeedKmh,
			&seg.StartTime, &seg.EndTime); err != nil {
			return nil, fmt.Errorf("scan segment: %w", err)
		}
		if err := json.Unmarshal(waypoints, &seg.Waypoints); err != nil {
			return nil, fmt.Errorf("segment %s waypoints: %w", seg.ID, err)
		}
		out = append(out, seg)
	}
	return out, rows.Err()
}

// RouteStats is the aggregate rollup for an organization's route activity.
type RouteStats struct {
	TotalSegments  int        `json:"total_segments"`
	UniqueTags     int        `json:"unique_tags"`
	TotalDistanceM float64    `json:"total_distance_m"`
	Earliest       *time.Time `json:"earliest,omitempty"`
	Latest         *time.Time `json:"latest,omitempty"`
}

// RouteStatistics aggregates closed segments in the time range.
func (s *Store) RouteStatistics(ctx context.Context, orgID string, from, to time.Time) (RouteStats, error) {
	var stats RouteStats
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(DISTINCT tag_id),
		       COALESCE(SUM(distance_m), 0),
		       MIN(start_time),
		       MAX(end_time)
		FROM route_segments
		WHERE org_id = $1 AND status = 'CLOSED' AND start_time >= $2 AND end_time <= $3`,
		orgID, from, to).
		Scan(&stats.TotalSegments, &stats.UniqueTags, &stats.TotalDistanceM,
			&stats.Earliest, &stats.Latest)
	if err != nil {
		return RouteStats{}, fmt.Errorf("route statistics: %w", err)
	}
	return stats, nil
}

var (
	ErrAlarmNotFound       = errors.New("alarm not found")
	ErrAlarmAlreadyHandled = errors.New("alarm already handled")
	ErrCrossOrgHandle      = errors.New("alarms span organizations")
)

// HandleAlarms marks alarms handled on behalf of an operator. The whole
// batch must belong to the given organization and be unhandled; otherwise
// nothing is changed.
func (s *Store) HandleAlarms(ctx context.Context, orgID string, alarmIDs []string, handledBy, reason string) error {
	if len(alarmIDs) == 0 || len(alarmIDs) > 100 {
		return errors.New("between 1 and 100 alarm ids required")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx,
		`SELECT id, org_id, is_handled FROM alarms WHERE id = ANY($1) FOR UPDATE`, alarmIDs)
	if err != nil {
		return fmt.Errorf("lock alarms: %w", err)
	}
	found := 0
	for rows.Next() {
		var (
			id, rowOrg string
			handled    bool
		)
		if err := rows.Scan(&id, &rowOrg, &handled); err != nil {
			rows.Close()
			return fmt.Errorf("scan alarm: %w", err)
		}
		found++
		if rowOrg != orgID {
			rows.Close()
			return fmt.Errorf("alarm %s: %w", id, ErrCrossOrgHandle)
		}
		if handled {
			rows.Close()
			return fmt.Errorf("alarm %s: %w", id, ErrAlarmAlreadyHandled)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	if found != len(alarmIDs) {
		return ErrAlarmNotFound
	}

	if _, err := tx.Exec(ctx, `
		UPDATE alarms
		SET is_handled = TRUE, handled_by = $1, handled_at = $2, handle_reason = $3
		WHERE id = ANY($4)`,
		handledBy, time.Now().UTC(), reason, alarmIDs); err != nil {
		return fmt.Errorf("handle alarms: %w", err)
	}

	return tx.Commit(ctx)
}

// RecipientsFor returns the notification addresses configured for an
// organization.
func (s *Store) RecipientsFor(ctx context.Context, orgID string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT email FROM notification_recipients WHERE org_id = $1`, orgID)
	if err != nil {
		return nil, fmt.Errorf("get recipients: %w", err)
	}
	defer rows.Close()

	var emails []string
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, err
		}
		emails = append(emails, email)
	}
	return emails, rows.Err()
}

// RecordNotification logs a sent alarm notification for audit.
func (s *Store) RecordNotification(ctx context.Context, tagID string, kind string, triggeredAt time.Time, recipient, subject string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sent_notifications (tag_id, kind, triggered_at, recipient_email, subject, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		tagID, kind, triggeredAt, recipient, subject, time.Now().UTC())
	return err
}
