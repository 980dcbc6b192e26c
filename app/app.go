package livechat

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
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/shopdesk/livechat/core"
	"github.com/shopdesk/livechat/pkg/router"
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

	presence    *core.Presence
	typing      *core.TypingTracker
	session     *core.RoomSession
	broadcaster *core.Broadcaster
	backplane   core.Backplane
	limiters    *core.SyncMap[int, *rate.Limiter]

	chatStore      core.ChatStore
	tokenValidator core.TokenValidator

	chatHandler *ChatHandler

	exit chan int

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

	app.logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug,
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

	app.chatStore = core.NewSQLiteChatStore(app.db.DB)
	revocations := core.NewSQLiteRevocationStore(app.db.DB)
	app.tokenValidator = core.NewJWTValidator(app.config.Auth.Secret, revocations)

	app.presence = core.NewPresence()
	app.typing = core.NewTypingTracker(app.config.Chat.TypingIdle)
	app.typing.OnExpire(func(roomID string) {
		app.broadcastTypingStatus(roomID, "")
	})
	app.session = core.NewRoomSession(app.chatStore, app.chatStore, app.presence, app.typing)
	app.session.SetHistoryLimit(app.config.Chat.HistoryLimit)
	app.broadcaster = core.NewBroadcaster(app.chatStore, app.presence)
	app.limiters = core.NewSyncMap[int, *rate.Limiter]()

	if app.config.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{Addr: app.config.Redis.Addr})
		app.backplane = core.NewRedisBackplane(client, app.config.Redis.Channel, uuid.NewString())
		app.AddCleanupFunc(func(ctx context.Context) {
			app.backplane.Close()
			client.Close()
		})
	}

	app.wsManager = core.NewConnManager(app.context, &app.wg, app.logger)
	app.wsManager.OnConnect(app.onConnect)
	app.wsManager.OnDisconnect(app.onDisconnect)

	app.eventRouter = core.NewEventRouter(app.context, app.logger, app.wsManager)
	app.eventRouter.On(JoinRoomEvent, app.JoinRoomHandler)
	app.eventRouter.On(LeaveRoomEvent, app.LeaveRoomHandler)
	app.eventRouter.On(SendMessageEvent, app.SendMessageHandler)
	app.eventRouter.On(TypingStartEvent, app.TypingStartHandler)
	app.eventRouter.On(TypingStopEvent, app.TypingStopHandler)
	app.eventRouter.On(ReadMessagesEvent, app.ReadMessagesHandler)
	app.eventRouter.OnError(func(e *core.Event, err error) {
		app.eventRouter.EmitToConns(ErrorEvent,
			ErrorPayload{Message: core.ClientMessage(err)}, e.ConnID)
	})

	app.chatHandler = NewChatHandler(app.chatStore)
	authMiddleware := BearerMiddleware(app.tokenValidator)

	app.router = router.New(router.WithLogger(app.logger))

	app.router.Router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   app.config.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	app.router.With(authMiddleware).Router.Get("/ws", func(w http.ResponseWriter, r *http.Request) {
		identity := IdentityFromRequest(r)
		_, err := app.wsManager.Connect(identity, w, r)
		if err != nil {
			app.logger.Error(fmt.Sprintf("websocket upgrade: %v", err))
		}
	})

	api := router.New(router.WithLogger(app.logger))
	api.Use(authMiddleware)

	api.Get("/users/me/rooms", app.chatHandler.GetMyRoomsHandler)
	api.Post("/rooms", app.chatHandler.CreateRoomHandler)
	api.Get("/rooms/active", app.chatHandler.GetActiveRoomsHandler)
	api.Get("/rooms/{roomID}", app.chatHandler.GetRoomByIDHandler)
	api.Get("/rooms/{roomID}/messages", app.chatHandler.GetRoomMessagesHandler)
	api.Delete("/rooms/{roomID}", app.chatHandler.DeactivateRoomHandler)

	app.router.Mount("/api", api)

	app.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", app.config.Hostname, app.config.Port),
		Handler: app.router.Router,
		BaseContext: func(listener net.Listener) context.Context {
			return app.context
		},
	}
	if app.config.TLS.Key != "" && app.config.TLS.Crt != "" {
		app.server.TLSConfig = &defaultTLSConfig
	}

	return app
}

func (app *App) Start() {
	app.wg.Add(1)
	go app.eventRouter.Listen(&app.wg)

	if app.backplane != nil {
		events, err := app.backplane.Subscribe(app.context)
		if err != nil {
			failed(1, "failed to subscribe to backplane: %v\n", err)
		}
		app.wg.Add(1)
		go func() {
			defer app.wg.Done()
			app.relayBackplane(events)
		}()
	}

	// listen for shutdown signal
	go func() {
		<-app.context.Done()
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
			app.exit <- 0
		case <-closeCtx.Done():
			app.logger.Info("app shutdown timed out")
			app.exit <- 1
		}
	}()

	app.AddCleanupFunc(func(ctx context.Context) {
		app.server.Shutdown(ctx)
	})
	app.logger.Info(fmt.Sprintf("app running on: %s:%d",
		app.config.Hostname, app.config.Port))

	var err error
	if app.config.TLS.Key != "" && app.config.TLS.Crt != "" {
		err = app.server.ListenAndServeTLS(app.config.TLS.Crt, app.config.TLS.Key)
	} else {
		err = app.server.ListenAndServe()
	}
	if err != nil && err != http.ErrServerClosed {
		failed(1, "server error: %v\n", err)
	}

	code := <-app.exit
	os.Exit(code)
}

// relayBackplane delivers broadcasts that originated on other server processes
// to local connections following the room.
func (app *App) relayBackplane(events <-chan *core.RoomEvent) {
	for e := range events {
		targets := app.presence.GroupConnsUnion(
			core.GroupRoom(e.RoomID),
			core.GroupRoomAgents(e.RoomID),
			core.GroupAgents,
		)
		if len(targets) == 0 {
			continue
		}
		app.wsManager.SendToConns(&core.Event{Type: e.Type, Payload: e.Payload}, targets...)
	}
}

func (app *App) AddCleanupFunc(f func(context.Context)) {
	app.cleanupFuncs = append(app.cleanupFuncs, f)
}

func failed(code int, s string, args ...interface{}) {
	fmt.Printf(s, args...)
	os.Exit(code)
}
