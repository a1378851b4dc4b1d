package core

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

type SQLiteMessageStore struct {
	db *sql.DB
}

func NewSQLiteMessageStore(db *sql.DB) *SQLiteMessageStore {
	return &SQLiteMessageStore{db: db}
}

func (s *SQLiteMessageStore) Append(ctx context.Context, message Message) (int, error) {
	query := `
	INSERT INTO messages (kind, room_id, sender, recipient, group_id, text, image, created_at)
	VALUES (@kind, @room_id, @sender, @recipient, @group_id, @text, @image, @created_at)
	RETURNING id`
	row := s.db.QueryRowContext(ctx, query,
		sql.Named("kind", message.Kind),
		sql.Named("room_id", message.RoomKey),
		sql.Named("sender", message.Sender),
		sql.Named("recipient", message.Recipient),
		sql.Named("group_id", message.Group),
		sql.Named("text", message.Text),
		sql.Named("image", message.Image),
		sql.Named("created_at", message.CreatedAt),
	)

	var id int
	if err := row.Scan(&id); err != nil {
		return 0, fmt.Errorf("row.Scan: %w", err)
	}
	return id, nil
}

func (s *SQLiteMessageStore) ListByRoom(ctx context.Context, roomKey string) ([]Message, error) {
	query := `
	SELECT id, kind, room_id, sender, recipient, group_id, text, image, created_at
	FROM messages
	WHERE room_id = @room_id
	ORDER BY created_at ASC, id ASC`
	rows, err := s.db.QueryContext(ctx, query, sql.Named("room_id", roomKey))
	if err != nil {
		return nil, fmt.Errorf("QueryContext: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.Kind, &m.RoomKey, &m.Sender, &m.Recipient,
			&m.Group, &m.Text, &m.Image, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("rows.Scan: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows.Err: %w", err)
	}

	return messages, nil
}

func (s *SQLiteMessageStore) GetByID(ctx context.Context, id int) (*Message, error) {
	query := `
	SELECT id, kind, room_id, sender, recipient, group_id, text, image, created_at
	FROM messages
	WHERE id = @id`
	row := s.db.QueryRowContext(ctx, query, sql.Named("id", id))

	var m Message
	if err := row.Scan(&m.ID, &m.Kind, &m.RoomKey, &m.Sender, &m.Recipient,
		&m.Group, &m.Text, &m.Image, &m.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("row.Scan: %w", err)
	}
	return &m, nil
}

func (s *SQLiteMessageStore) DeleteByID(ctx context.Context, id int) error {
	query := `DELETE FROM messages WHERE id = @id`
	result, err := s.db.ExecContext(ctx, query, sql.Named("id", id))
	if err != nil {
		return fmt.Errorf("ExecContext: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("RowsAffected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
