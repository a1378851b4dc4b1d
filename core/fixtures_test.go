package core

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
)

type BaseFixture struct {
	ctx      context.Context
	db       *sql.DB
	t        *testing.T
	tearDown func()
}

func NewBaseFixture(t *testing.T) *BaseFixture {
	ctx, cancel := context.WithCancel(context.Background())

	db, err := sql.Open("sqlite3", "file::memory:?cache=shared")
	if err != nil {
		t.Fatal(err)
	}

	migrationfs := os.DirFS("../migrations")
	goose.SetBaseFS(migrationfs)

	if err := goose.SetDialect("sqlite3"); err != nil {
		t.Fatal(err)
	}

	if err := goose.Up(db, "."); err != nil {
		t.Fatal(err)
	}

	return &BaseFixture{
		ctx: ctx,
		db:  db,
		t:   t,
		tearDown: func() {
			cancel()
			db.Close()
		},
	}
}

type ChatFixture struct {
	*BaseFixture
	dir      *SQLiteDirectory
	messages *SQLiteMessageStore
	manager  *ConnManager
	chat     *ChatService
	wg       sync.WaitGroup
}

func NewChatFixture(t *testing.T) *ChatFixture {
	base := NewBaseFixture(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	f := &ChatFixture{
		BaseFixture: base,
		dir:         NewSQLiteDirectory(base.db),
		messages:    NewSQLiteMessageStore(base.db),
	}
	f.manager = NewConnManager(base.ctx, &f.wg, logger)
	f.chat = NewChatService(f.messages, f.dir, f.manager, logger)
	return f
}
