package main

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/galadrimteam/goodfriend-relay/internal/config"
	"github.com/galadrimteam/goodfriend-relay/internal/dedupe"
	"github.com/galadrimteam/goodfriend-relay/internal/events"
	"github.com/galadrimteam/goodfriend-relay/internal/guard"
	"github.com/galadrimteam/goodfriend-relay/internal/hub"
)

// Topic names, used as metric labels and in logs.
const (
	PlayerEventsTopic  = "player-events"
	AnnouncementsTopic = "announcements"
)

// Topic is a named hub together with the event name its stream messages
// carry.
type Topic[T any] struct {
	Name  string
	Event string
	Hub   *hub.Hub[T]
}

func newTopic[T any](name, event string, capacity int) *Topic[T] {
	return &Topic[T]{Name: name, Event: event, Hub: hub.New[T](capacity)}
}

// App owns every service the HTTP handlers share.
type App struct {
	settings config.Settings
	logger   *slog.Logger

	store      config.Source
	guards     *guard.Dispatcher
	duplicates *dedupe.Cache
	limiter    *RateLimiter
	metrics    *Metrics

	PlayerEvents  *Topic[events.PlayerEvent]
	Announcements *Topic[events.Announcement]

	// ctx is cancelled on shutdown so that open streams end.
	ctx    context.Context
	cancel context.CancelFunc
}

// NewApp builds the application services. The returned App must be closed.
func NewApp(settings config.Settings, store config.Source, logger *slog.Logger, registry *prometheus.Registry) *App {
	ctx, cancel := context.WithCancel(context.Background())

	a := &App{
		settings:      settings,
		logger:        logger,
		store:         store,
		duplicates:    dedupe.New(settings.DuplicateCacheSize),
		limiter:       NewRateLimiter(settings.RateLimitPerSecond, settings.RateLimitBurst, settings.RateLimitIdleTTL, settings.RateLimitMaxClients, logger),
		metrics:       NewMetrics(registry),
		PlayerEvents:  newTopic[events.PlayerEvent](PlayerEventsTopic, events.PlayerEventName, settings.PlayerEventsCapacity),
		Announcements: newTopic[events.Announcement](AnnouncementsTopic, events.AnnouncementEventName, settings.AnnouncementsCapacity),
		ctx:           ctx,
		cancel:        cancel,
	}

	a.guards = guard.NewDispatcher(store)
	a.guards.OnReject = a.metrics.observeRejection
	if a.limiter != nil {
		a.limiter.OnReject = a.metrics.observeRejection
	}

	a.metrics.trackConnections(a.PlayerEvents.Name, a.PlayerEvents.Hub.SubscriberCount)
	a.metrics.trackConnections(a.Announcements.Name, a.Announcements.Hub.SubscriberCount)

	logger.Info("Initialized relay",
		"player_events_capacity", a.PlayerEvents.Hub.Capacity(),
		"announcements_capacity", a.Announcements.Hub.Capacity(),
		"duplicate_cache_size", a.duplicates.Capacity(),
	)
	return a
}

// Routes returns the HTTP handler serving the whole API.
func (a *App) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	if a.settings.TrustProxyHeaders {
		r.Use(middleware.RealIP)
	}
	r.Use(requestLogger(a.logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.SetHeader("X-Content-Type-Options", "nosniff"))
	r.Use(middleware.SetHeader("X-Frame-Options", "DENY"))
	r.Use(middleware.SetHeader("Referrer-Policy", "no-referrer"))
	r.Use(middleware.SetHeader("X-XSS-Protection", "1; mode=block"))

	var (
		agent      = a.guards.Require(guard.UserAgent())
		clientKey  = a.guards.Require(guard.UserAgent(), guard.ClientKey())
		authorized = a.guards.Require(guard.UserAgent(), guard.Authenticated())
		publisher  = a.guards.Require(
			guard.UserAgent(),
			guard.ClientKey(),
			guard.MinimumGameVersion(),
			guard.UniqueContentID(a.duplicates),
		)
	)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", a.HandleHealth)
		r.Get("/features", a.HandleFeatures)
		r.With(agent).Get("/minversion", a.HandleMinVersion)
		r.With(clientKey).Get("/metadata", a.HandleMetadata)
		r.With(authorized).Get("/connections", a.HandleConnections)
		r.With(authorized).Post("/auth/validate", a.HandleValidateAuth)

		r.Route("/playerevents", func(r chi.Router) {
			r.With(clientKey).Get("/stream", serveSSE(a, a.PlayerEvents))
			r.With(clientKey).Get("/ws", serveWebSocket(a, a.PlayerEvents))
			r.Group(func(r chi.Router) {
				r.Use(a.limiter.Middleware, publisher)
				r.Post("/loginstate", a.HandleLoginState)
				r.Post("/world", a.HandleWorldChange)
			})
		})

		r.Route("/announcements", func(r chi.Router) {
			r.With(clientKey).Get("/stream", serveSSE(a, a.Announcements))
			r.With(clientKey).Get("/ws", serveWebSocket(a, a.Announcements))
			r.With(authorized).Post("/send", a.HandleSendAnnouncement)
		})
	})

	r.Handle("/metrics", a.metrics.Handler())
	return r
}

// EndStreams ends every open stream. Publishing keeps working until Close.
func (a *App) EndStreams() {
	a.cancel()
}

// Close ends every open stream and releases background resources.
func (a *App) Close() {
	a.cancel()
	a.PlayerEvents.Hub.Close()
	a.Announcements.Hub.Close()
	a.limiter.Close()
}

func (a *App) keepAlive() time.Duration {
	if a.settings.StreamKeepAlive <= 0 {
		return 30 * time.Second
	}
	return a.settings.StreamKeepAlive
}
