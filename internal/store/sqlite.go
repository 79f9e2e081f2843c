package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"concierge/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// Config configures the sqlite store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

// Open initializes the sqlite-backed store, creating the schema if needed.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Timestamps are stored as RFC3339Nano in UTC so lexicographic comparison
// in SQL matches chronological order.
func encodeTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func decodeTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Offsets are stored as whole seconds; config validation rejects anything
// finer.
func encodeOffsets(offsets []time.Duration) (string, error) {
	secs := make([]int64, 0, len(offsets))
	for _, d := range offsets {
		secs = append(secs, int64(d/time.Second))
	}
	b, err := json.Marshal(secs)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeOffsets(raw string) ([]time.Duration, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var secs []int64
	if err := json.Unmarshal([]byte(raw), &secs); err != nil {
		return nil, err
	}
	out := make([]time.Duration, 0, len(secs))
	for _, s := range secs {
		out = append(out, time.Duration(s)*time.Second)
	}
	return out, nil
}

// ---- members ----

func (s *sqliteStore) UpsertMember(ctx context.Context, m Member) error {
	join := m.JoinTime
	if join.IsZero() {
		join = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO members (chat_id, user_id, username, first_name, join_time)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(chat_id, user_id) DO UPDATE SET
		   username = excluded.username,
		   first_name = excluded.first_name`,
		m.ChatID, m.UserID, m.Username, m.FirstName, encodeTime(join),
	)
	return err
}

const memberCols = `chat_id, user_id, username, first_name, join_time,
	has_posted, welcomed, intro_reminder_sent, intro_followup_sent, subscribed`

func scanMember(row interface{ Scan(...any) error }) (Member, error) {
	var m Member
	var join string
	err := row.Scan(&m.ChatID, &m.UserID, &m.Username, &m.FirstName, &join,
		&m.HasPosted, &m.Welcomed, &m.IntroReminderSent, &m.IntroFollowupSent, &m.Subscribed)
	if err != nil {
		return Member{}, err
	}
	m.JoinTime = decodeTime(join)
	return m, nil
}

func (s *sqliteStore) GetMember(ctx context.Context, chatID, userID int64) (Member, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+memberCols+` FROM members WHERE chat_id = ? AND user_id = ?`,
		chatID, userID,
	)
	m, err := scanMember(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Member{}, false, nil
	}
	if err != nil {
		return Member{}, false, err
	}
	return m, true, nil
}

func (s *sqliteStore) FindMembers(ctx context.Context, f MemberFilter) ([]Member, error) {
	var (
		where []string
		args  []any
	)
	if f.ChatID != 0 {
		where = append(where, "chat_id = ?")
		args = append(args, f.ChatID)
	}
	if f.GroupsOnly {
		where = append(where, "chat_id < 0")
	}
	if f.HasPosted != nil {
		where = append(where, "has_posted = ?")
		args = append(args, *f.HasPosted)
	}
	if f.Welcomed != nil {
		where = append(where, "welcomed = ?")
		args = append(args, *f.Welcomed)
	}
	if f.IntroReminderSent != nil {
		where = append(where, "intro_reminder_sent = ?")
		args = append(args, *f.IntroReminderSent)
	}
	if f.IntroFollowupSent != nil {
		where = append(where, "intro_followup_sent = ?")
		args = append(args, *f.IntroFollowupSent)
	}
	if f.Subscribed != nil {
		where = append(where, "subscribed = ?")
		args = append(args, *f.Subscribed)
	}
	if !f.JoinedBefore.IsZero() {
		where = append(where, "join_time <= ?")
		args = append(args, encodeTime(f.JoinedBefore))
	}

	q := `SELECT ` + memberCols + ` FROM members`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY chat_id, user_id"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *sqliteStore) SetMemberFlag(ctx context.Context, chatID int64, userIDs []int64, flag MemberFlag) error {
	if len(userIDs) == 0 {
		return nil
	}
	switch flag {
	case FlagHasPosted, FlagWelcomed, FlagIntroReminderSent, FlagIntroFollowupSent:
	default:
		return fmt.Errorf("unknown member flag %q", flag)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(userIDs)), ",")
	args := make([]any, 0, len(userIDs)+1)
	args = append(args, chatID)
	for _, id := range userIDs {
		args = append(args, id)
	}
	// Flags only ever go false->true.
	_, err := s.db.ExecContext(ctx,
		`UPDATE members SET `+string(flag)+` = 1 WHERE chat_id = ? AND user_id IN (`+placeholders+`)`,
		args...,
	)
	return err
}

func (s *sqliteStore) SetSubscribed(ctx context.Context, chatID, userID int64, on bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE members SET subscribed = ? WHERE chat_id = ? AND user_id = ?`,
		on, chatID, userID,
	)
	return err
}

// ---- events ----

func (s *sqliteStore) UpsertEvent(ctx context.Context, ev Event) error {
	lastMod := ev.LastModified
	if lastMod.IsZero() {
		lastMod = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (chat_id, message_id, sender_id, event_time, location, offsets_sent, last_modified)
		 VALUES (?, ?, ?, ?, ?, '[]', ?)
		 ON CONFLICT(chat_id, message_id) DO UPDATE SET
		   sender_id = excluded.sender_id,
		   event_time = excluded.event_time,
		   location = excluded.location,
		   last_modified = excluded.last_modified`,
		ev.ChatID, ev.MessageID, ev.SenderID, encodeTime(ev.EventTime), ev.Location, encodeTime(lastMod),
	)
	return err
}

const eventCols = `chat_id, message_id, sender_id, event_time, location, offsets_sent, last_modified`

func scanEvent(row interface{ Scan(...any) error }) (Event, error) {
	var (
		ev              Event
		eventTime       string
		offsetsRaw      string
		lastModifiedRaw string
	)
	err := row.Scan(&ev.ChatID, &ev.MessageID, &ev.SenderID, &eventTime, &ev.Location, &offsetsRaw, &lastModifiedRaw)
	if err != nil {
		return Event{}, err
	}
	ev.EventTime = decodeTime(eventTime)
	ev.LastModified = decodeTime(lastModifiedRaw)
	ev.OffsetsSent, err = decodeOffsets(offsetsRaw)
	if err != nil {
		return Event{}, err
	}
	return ev, nil
}

func (s *sqliteStore) GetEvent(ctx context.Context, chatID int64, messageID int) (Event, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+eventCols+` FROM events WHERE chat_id = ? AND message_id = ?`,
		chatID, messageID,
	)
	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Event{}, false, nil
	}
	if err != nil {
		return Event{}, false, err
	}
	return ev, true, nil
}

func (s *sqliteStore) FindEvents(ctx context.Context, f EventFilter) ([]Event, error) {
	var (
		where []string
		args  []any
	)
	if f.ChatID != 0 {
		where = append(where, "chat_id = ?")
		args = append(args, f.ChatID)
	}
	if !f.Before.IsZero() {
		where = append(where, "event_time < ?")
		args = append(args, encodeTime(f.Before))
	}

	q := `SELECT ` + eventCols + ` FROM events`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY event_time"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *sqliteStore) AddEventOffsets(ctx context.Context, chatID int64, messageID int, offsets ...time.Duration) error {
	if len(offsets) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var raw string
	err = tx.QueryRowContext(ctx,
		`SELECT offsets_sent FROM events WHERE chat_id = ? AND message_id = ?`,
		chatID, messageID,
	).Scan(&raw)
	if err != nil {
		return err
	}

	cur, err := decodeOffsets(raw)
	if err != nil {
		return err
	}
	// Set union; an offset is recorded at most once.
	for _, d := range offsets {
		seen := false
		for _, c := range cur {
			if c == d {
				seen = true
				break
			}
		}
		if !seen {
			cur = append(cur, d)
		}
	}

	enc, err := encodeOffsets(cur)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE events SET offsets_sent = ? WHERE chat_id = ? AND message_id = ?`,
		enc, chatID, messageID,
	); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqliteStore) DeleteEvent(ctx context.Context, chatID int64, messageID int) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM events WHERE chat_id = ? AND message_id = ?`,
		chatID, messageID,
	)
	return err
}

// ---- settings ----

func (s *sqliteStore) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *sqliteStore) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, encodeTime(time.Now()),
	)
	return err
}
