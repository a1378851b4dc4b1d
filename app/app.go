package circle

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/cors"

	"github.com/circlechat/circle/core"
	"github.com/circlechat/circle/pkg/router"
)

type App struct {
	config      *Config
	db          *core.SQLiteDB
	context     context.Context
	server      *http.Server
	logger      *slog.Logger
	router      *router.Router
	eventRouter *core.EventRouter
	wsManager   *core.ConnManager

	exit chan int

	dir      core.Directory
	messages core.MessageStore
	gate     *core.SessionGate
	chat     *core.ChatService

	chatHandler *ChatHandler

	cleanupFuncs []func(context.Context)

	wg sync.WaitGroup
}

func New(ctx context.Context, config *Config) *App {
	var err error
	app := &App{
		exit: make(chan int),
	}
	if ctx == nil {
		ctx, _ = signal.NotifyContext(
			context.Background(),
			syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGHUP)
	}
	app.context = ctx

	if config == nil {
		var err error
		config, err = LoadConfig()
		if err != nil {
			failed(1, "failed to load config: %v\n", err)
		}
	}
	if err := config.Validate(); err != nil {
		failed(1, FormatValidationErrors(err))
	}
	app.config = config

	app.logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level:     slog.LevelDebug,
		AddSource: true,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.SourceKey {
				source, _ := a.Value.Any().(*slog.Source)
				if source != nil {
					source.File = filepath.Base(source.File)
				}
			}
			return a
		},
	}))

	sqliteOptions := &core.SQLiteDBOption{
		Mode:        "rwc",
		Cache:       "shared",
		JournalMode: "WAL",
	}
	app.db, err = core.NewSQLiteDB(app.config.SQLite.File, app.config.SQLite.Migrations, sqliteOptions)
	if err != nil {
		failed(1, "failed to open database: %v\n", err)
	}
	app.AddCleanupFunc(func(ctx context.Context) {
		app.db.Close()
	})
	if err := app.db.Migrate(); err != nil {
		failed(1, "failed to migrate database: %v\n", err)
	}

	app.dir = core.NewSQLiteDirectory(app.db.DB)
	app.messages = core.NewSQLiteMessageStore(app.db.DB)
	app.gate = core.NewSessionGate(app.config.Auth.Secret, app.dir)

	app.wsManager = core.NewConnManager(app.context, &app.wg, app.logger)
	app.chat = core.NewChatService(app.messages, app.dir, app.wsManager, app.logger)

	app.eventRouter = core.NewEventRouter(app.context, app.logger)
	app.eventRouter.On(JoinDirectEvent, app.JoinDirectHandler)
	app.eventRouter.On(JoinGroupEvent, app.JoinGroupHandler)
	app.eventRouter.On(SendMessageEvent, app.SendMessageHandler)
	app.eventRouter.On(DeleteMessageEvent, app.DeleteMessageHandler)
	app.eventRouter.OnUnknown(app.UnknownEventHandler)
	app.wsManager.OnEvent(app.eventRouter.Dispatch)

	app.chatHandler = NewChatHandler(app.chat)
	authMiddleware := core.JWTMiddleware(app.gate)

	app.router = router.New(router.WithLogger(app.logger))
	app.router.RegisterErrorMapper(core.ErrNotFound, func(err error) router.JsonError {
		return router.NewJsonError(http.StatusNotFound, err.Error())
	})
	app.router.RegisterErrorMapper(core.ErrForbidden, func(err error) router.JsonError {
		return router.NewJsonError(http.StatusForbidden, err.Error())
	})
	app.router.RegisterErrorMapper(core.ErrInvalid, func(err error) router.JsonError {
		return router.NewJsonError(http.StatusBadRequest, err.Error())
	})
	app.router.RegisterErrorMapper(core.ErrUnauthenticated, func(err error) router.JsonError {
		return router.NewJsonError(http.StatusUnauthorized, err.Error())
	})

	app.router.Router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   app.config.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	app.router.With(authMiddleware).Get("/ws", app.ConnectWSHandler)

	app.router.Route("/api", func(r *router.Router) {
		r.Use(authMiddleware)
		r.Get("/chats/dm/{userID}/messages", app.chatHandler.GetDirectMessagesHandler)
		r.Get("/chats/groups/{groupID}/messages", app.chatHandler.GetGroupMessagesHandler)
	})

	app.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", app.config.Hostname, app.config.Port),
		Handler: app.router.Router,
		BaseContext: func(listener net.Listener) context.Context {
			return app.context
		},
	}
	if app.config.Mode == ProdMode {
		app.server.TLSConfig = &defaultTLSConfig
	}

	return app
}

func (app *App) Start() {
	app.AddCleanupFunc(func(ctx context.Context) {
		app.wsManager.Close()
	})

	// listen for shutdown signal
	go func() {
		<-app.context.Done()
		close(app.exit)
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer closeCancel()
		var wg sync.WaitGroup

		for _, f := range app.cleanupFuncs {
			wg.Add(1)
			go func(f func(context.Context)) {
				defer wg.Done()
				f(closeCtx)
			}(f)
		}

		done := make(chan struct{})
		go func() {
			wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			app.logger.Info("app shutdown gracefully")
		case <-closeCtx.Done():
			app.logger.Info("app shutdown timed out")
		}
	}()

	app.AddCleanupFunc(func(ctx context.Context) {
		app.server.Shutdown(ctx)
	})
	app.logger.Info(fmt.Sprintf("app running in %s mode on: %s:%d",
		app.config.Mode, app.config.Hostname, app.config.Port))

	var err error
	if app.config.TLS.Key != "" && app.config.TLS.Crt != "" {
		err = app.server.ListenAndServeTLS(app.config.TLS.Crt, app.config.TLS.Key)
	} else {
		err = app.server.ListenAndServe()
	}
	if err != nil && err != http.ErrServerClosed {
		failed(1, "server error: %v\n", err)
	}

	<-app.exit
}

// ConnectWSHandler upgrades an authenticated request to a websocket
// connection. An upgrade failure is only logged: the upgrader has already
// written the handshake error response, so returning the error would make the
// router write a second body on the same response.
func (app *App) ConnectWSHandler(w http.ResponseWriter, r *http.Request) error {
	session := core.SessionFromRequest(r)
	if err := app.wsManager.Connect(session.UserID, w, r); err != nil {
		app.logger.Error(fmt.Sprintf("websocket upgrade: %v", err))
	}
	return nil
}

func (app *App) AddCleanupFunc(f func(context.Context)) {
	app.cleanupFuncs = append(app.cleanupFuncs, f)
}

func failed(code int, s string, args ...interface{}) {
	fmt.Printf(s, args...)
	os.Exit(code)
}
