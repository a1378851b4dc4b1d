package core

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// SQLiteDirectory reads membership facts from the tables owned by the
// account/group collaborators. It never writes to them.
type SQLiteDirectory struct {
	db *sql.DB
}

func NewSQLiteDirectory(db *sql.DB) *SQLiteDirectory {
	return &SQLiteDirectory{db: db}
}

func (d *SQLiteDirectory) GetUser(ctx context.Context, id string) (*User, error) {
	query := `SELECT id, name, avatar FROM users WHERE id = @id`
	row := d.db.QueryRowContext(ctx, query, sql.Named("id", id))

	var user User
	if err := row.Scan(&user.ID, &user.Name, &user.Avatar); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("row.Scan: %w", err)
	}
	return &user, nil
}

func (d *SQLiteDirectory) AreFriends(ctx context.Context, userID, otherID string) (bool, error) {
	query := `
	SELECT EXISTS (
		SELECT 1 FROM friendships WHERE user_id = @user_id AND friend_id = @friend_id
	)`
	row := d.db.QueryRowContext(ctx, query,
		sql.Named("user_id", userID), sql.Named("friend_id", otherID))

	var exists bool
	if err := row.Scan(&exists); err != nil {
		return false, fmt.Errorf("row.Scan: %w", err)
	}
	return exists, nil
}

func (d *SQLiteDirectory) GetGroup(ctx context.Context, id string) (*Group, error) {
	query := `SELECT id, name, admin FROM chat_groups WHERE id = @id`
	row := d.db.QueryRowContext(ctx, query, sql.Named("id", id))

	var group Group
	if err := row.Scan(&group.ID, &group.Name, &group.Admin); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("row.Scan: %w", err)
	}

	query = `SELECT user_id FROM group_members WHERE group_id = @group_id`
	rows, err := d.db.QueryContext(ctx, query, sql.Named("group_id", id))
	if err != nil {
		return nil, fmt.Errorf("QueryContext: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var member string
		if err := rows.Scan(&member); err != nil {
			return nil, fmt.Errorf("rows.Scan: %w", err)
		}
		group.Members = append(group.Members, member)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows.Err: %w", err)
	}

	return &group, nil
}
