package db

import (
	"database/sql"
	"fmt"

	"github.com/cloud-shuttle/foreman/pkg/types"
)

// AppendMail inserts an immutable mail row and returns it. Rows are never
// edited afterward except to stamp read_at on delivery.
func (s *Store) AppendMail(from, to, subject, body string, importance types.MailImportance, threadID string) (*types.MailMessage, error) {
	if !importance.IsValid() {
		return nil, fmt.Errorf("unknown importance: %s", importance)
	}
	msg := &types.MailMessage{
		ID:         newID("mail"),
		ThreadID:   threadID,
		From:       from,
		To:         to,
		Subject:    subject,
		Body:       body,
		Importance: importance,
		CreatedAt:  now(),
	}
	if msg.ThreadID == "" {
		msg.ThreadID = newID("thread")
	}

	_, err := s.DB.Exec(`
		INSERT INTO mail (id, thread_id, from_agent, to_agent, subject, body, importance, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, msg.ID, msg.ThreadID, msg.From, msg.To, msg.Subject, msg.Body, msg.Importance, msg.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("appending mail: %w", err)
	}
	return msg, nil
}

const mailColumns = `id, thread_id, from_agent, to_agent, COALESCE(subject, ''),
	COALESCE(body, ''), importance, created_at, read_at`

func scanMail(row interface{ Scan(...interface{}) error }) (*types.MailMessage, error) {
	var msg types.MailMessage
	var readAt sql.NullInt64
	err := row.Scan(
		&msg.ID, &msg.ThreadID, &msg.From, &msg.To, &msg.Subject,
		&msg.Body, &msg.Importance, &msg.CreatedAt, &readAt,
	)
	if err != nil {
		return nil, err
	}
	if readAt.Valid {
		unix := readAt.Int64
		msg.ReadAt = &unix
	}
	return &msg, nil
}

// ConsumeInbox returns unread messages addressed to the agent and marks
// them read in the same transaction, so each message is visible to its
// consumer at most once.
func (s *Store) ConsumeInbox(agent string) ([]*types.MailMessage, error) {
	tx, err := s.DB.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.Query(`
		SELECT `+mailColumns+` FROM mail
		WHERE to_agent = ? AND read_at IS NULL
		ORDER BY created_at ASC, id ASC
	`, agent)
	if err != nil {
		return nil, fmt.Errorf("querying inbox: %w", err)
	}

	var messages []*types.MailMessage
	for rows.Next() {
		msg, err := scanMail(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning mail: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	readAt := now()
	for _, msg := range messages {
		if _, err := tx.Exec(`UPDATE mail SET read_at = ? WHERE id = ?`, readAt, msg.ID); err != nil {
			return nil, fmt.Errorf("marking mail read: %w", err)
		}
		msg.ReadAt = &readAt
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing inbox read: %w", err)
	}
	return messages, nil
}

// ListThread returns every message in a thread, oldest first, without
// touching read state
func (s *Store) ListThread(threadID string) ([]*types.MailMessage, error) {
	rows, err := s.DB.Query(`
		SELECT `+mailColumns+` FROM mail WHERE thread_id = ? ORDER BY created_at ASC, id ASC
	`, threadID)
	if err != nil {
		return nil, fmt.Errorf("querying thread: %w", err)
	}
	defer rows.Close()

	var messages []*types.MailMessage
	for rows.Next() {
		msg, err := scanMail(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning mail: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// UnreadCount returns how many unread messages an agent has
func (s *Store) UnreadCount(agent string) (int, error) {
	var count int
	err := s.DB.QueryRow(`
		SELECT COUNT(*) FROM mail WHERE to_agent = ? AND read_at IS NULL
	`, agent).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting unread: %w", err)
	}
	return count, nil
}

// ListMailForTask returns messages whose body or subject references the
// given task ID, oldest first. The reconciler uses this to re-derive task
// truth from the mail log after a crash.
func (s *Store) ListMailForTask(taskID string) ([]*types.MailMessage, error) {
	pattern := "%" + taskID + "%"
	rows, err := s.DB.Query(`
		SELECT `+mailColumns+` FROM mail
		WHERE subject LIKE ? OR body LIKE ?
		ORDER BY created_at ASC, id ASC
	`, pattern, pattern)
	if err != nil {
		return nil, fmt.Errorf("querying task mail: %w", err)
	}
	defer rows.Close()

	var messages []*types.MailMessage
	for rows.Next() {
		msg, err := scanMail(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning mail: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}
