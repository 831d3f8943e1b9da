// internal/server/store.go
package server

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webtrail/api/schemas"
)

var storeJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrUnknownUser is returned for lookups of absent usernames.
var ErrUnknownUser = errors.New("unknown user")

// ErrBadPassword is returned when the password digest does not match.
var ErrBadPassword = errors.New("bad password")

// DBPool abstracts pgxpool.Pool so tests can substitute pgxmock.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store persists uploaded trajectories and answers task lookups.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// NewStore verifies connectivity and returns the store.
func NewStore(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{pool: pool, log: logger.Named("store")}, nil
}

// HashPassword returns the hex digest stored in the users table.
func HashPassword(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}

// Authenticate checks the credential pair against the users table.
func (s *Store) Authenticate(ctx context.Context, username, password string) error {
	var stored string
	err := s.pool.QueryRow(ctx,
		`SELECT password_digest FROM users WHERE username = $1`, username).Scan(&stored)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrUnknownUser
	}
	if err != nil {
		return fmt.Errorf("looking up user: %w", err)
	}
	if subtle.ConstantTimeCompare([]byte(stored), []byte(HashPassword(password))) != 1 {
		return ErrBadPassword
	}
	return nil
}

// ActiveTaskFor returns the currently active task assigned to username, or
// an inactive TaskInfo when none is.
func (s *Store) ActiveTaskFor(ctx context.Context, username string) (schemas.TaskInfo, error) {
	var info schemas.TaskInfo
	err := s.pool.QueryRow(ctx, `
		SELECT t.id, t.description, t.start_url
		FROM tasks t
		JOIN users u ON u.id = t.assignee_id
		WHERE u.username = $1 AND t.status = 'active'
		ORDER BY t.created_at DESC
		LIMIT 1`, username).Scan(&info.TaskID, &info.Description, &info.StartURL)
	if errors.Is(err, pgx.ErrNoRows) {
		return schemas.TaskInfo{Active: false}, nil
	}
	if err != nil {
		return schemas.TaskInfo{}, fmt.Errorf("looking up active task: %w", err)
	}
	info.Active = true
	return info, nil
}

// TaskByID returns one task regardless of status.
func (s *Store) TaskByID(ctx context.Context, taskID string) (schemas.TaskInfo, error) {
	var info schemas.TaskInfo
	var status string
	err := s.pool.QueryRow(ctx, `
		SELECT id, description, start_url, status
		FROM tasks WHERE id = $1`, taskID).Scan(&info.TaskID, &info.Description, &info.StartURL, &status)
	if err != nil {
		return schemas.TaskInfo{}, fmt.Errorf("looking up task %s: %w", taskID, err)
	}
	info.Active = status == "active"
	return info, nil
}

// SaveView persists one uploaded page view and bulk inserts its events with
// the CopyFrom protocol.
func (s *Store) SaveView(ctx context.Context, username string, view *schemas.PageViewPayload) error {
	intervals, err := storeJSON.Marshal(view.VisibilityIntervals)
	if err != nil {
		return fmt.Errorf("serializing visibility intervals: %w", err)
	}
	mousePath, err := storeJSON.Marshal(view.MousePath)
	if err != nil {
		return fmt.Errorf("serializing mouse path: %w", err)
	}
	scrollPath, err := storeJSON.Marshal(view.ScrollPath)
	if err != nil {
		return fmt.Errorf("serializing scroll path: %w", err)
	}
	replay, err := storeJSON.Marshal(view.ReplayEvents)
	if err != nil {
		return fmt.Errorf("serializing replay events: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	_, err = tx.Exec(ctx, `
		INSERT INTO page_views (id, session_id, task_id, username, url, title, referrer,
			start_ts, end_ts, dwell_ms, visibility_intervals, mouse_path, scroll_path, replay_events)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO NOTHING`,
		view.ViewID, view.SessionID, nullable(view.TaskID), username, view.URL,
		view.Title, view.Referrer, view.StartTimestamp, view.EndTimestamp,
		view.DwellTime, intervals, mousePath, scrollPath, replay)
	if err != nil {
		return fmt.Errorf("inserting page view: %w", err)
	}

	if len(view.Events) > 0 {
		if err := s.saveEvents(ctx, tx, view.ViewID, view.Events); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *Store) saveEvents(ctx context.Context, tx pgx.Tx, viewID string, events []schemas.CapturedEvent) error {
	rows := make([][]interface{}, len(events))
	for i, ev := range events {
		related, err := storeJSON.Marshal(ev.RelatedInfo)
		if err != nil {
			return fmt.Errorf("serializing related info: %w", err)
		}
		hierarchy, err := storeJSON.Marshal(ev.ElementHierarchy)
		if err != nil {
			return fmt.Errorf("serializing element hierarchy: %w", err)
		}
		var annotation []byte
		if ev.Annotation != nil {
			if annotation, err = storeJSON.Marshal(ev.Annotation); err != nil {
				return fmt.Errorf("serializing annotation: %w", err)
			}
		}
		domPath, err := storeJSON.Marshal(ev.DOMPath)
		if err != nil {
			return fmt.Errorf("serializing dom path: %w", err)
		}
		rows[i] = []interface{}{
			viewID, i, string(ev.Type), string(ev.Mode), ev.Timestamp,
			ev.Position.ScreenX, ev.Position.ScreenY, ev.Position.ClientX, ev.Position.ClientY,
			ev.TargetTag, ev.Content, domPath, hierarchy, related, annotation,
		}
	}

	_, err := tx.CopyFrom(
		ctx,
		pgx.Identifier{"captured_events"},
		[]string{"view_id", "seq", "type", "mode", "ts",
			"screen_x", "screen_y", "client_x", "client_y",
			"target_tag", "content", "dom_path", "element_hierarchy", "related_info", "annotation"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("bulk inserting events: %w", err)
	}
	return nil
}

// JustificationsFor returns the stored purpose suggestions for a link.
func (s *Store) JustificationsFor(ctx context.Context, linkFingerprint string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT purpose FROM justifications
		WHERE link_fingerprint = $1
		ORDER BY purpose`, linkFingerprint)
	if err != nil {
		return nil, fmt.Errorf("looking up justifications: %w", err)
	}
	defer rows.Close()

	var purposes []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		purposes = append(purposes, p)
	}
	return purposes, rows.Err()
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// SweepStaleViews removes taskless views older than the retention window.
func (s *Store) SweepStaleViews(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan).UnixMilli()
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM page_views WHERE end_ts < $1 AND task_id IS NULL`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sweeping stale views: %w", err)
	}
	return tag.RowsAffected(), nil
}
