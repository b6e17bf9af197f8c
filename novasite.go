// Package novasite is the backend of the Genesi Nova Choir website. It
// relays the site's form submissions (newsletter, contact, collaboration)
// into SQLite and a notification mail, and serves the responsive image
// manifest produced by the media package.
package novasite

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/genesinova/novasite/media"
)

// App is the central novasite application. It wires together the store,
// manifest cache, handlers and middleware.
type App struct {
	Config SiteConfig
	Echo   *echo.Echo
	Store  *Store
	Media  *ManifestCache

	log           *zap.Logger
	notifier      Notifier
	validate      *validator.Validate
	pipeline      *media.Pipeline
	mediaOpts     []media.Option
	mediaMu       sync.Mutex
	loginLimiter  *RateLimiter
	submitLimiter *RateLimiter
	customRoutes  []func(*App)
	ownsStore     bool
}

// WithMediaOptions passes options to the pipeline behind admin uploads.
func WithMediaOptions(opts ...media.Option) Option {
	return func(a *App) {
		a.mediaOpts = append(a.mediaOpts, opts...)
	}
}

// New creates a novasite App with the given configuration.
func New(cfg SiteConfig, opts ...Option) *App {
	cfg.setDefaults()

	a := &App{
		Config: cfg,
		Echo:   echo.New(),
		log:    zap.NewNop(),
	}
	a.Echo.HideBanner = true
	a.Echo.HidePort = true

	for _, opt := range opts {
		opt(a)
	}

	return a
}

// Init opens the store, prepares the mailer and registers middleware and
// routes. Start calls it; tests call it directly and drive a.Echo.
func (a *App) Init() error {
	if err := a.Config.Media.Validate(); err != nil {
		return fmt.Errorf("novasite: media config: %w", err)
	}

	if a.Store == nil {
		store, err := NewStore(a.Config.DatabasePath)
		if err != nil {
			return fmt.Errorf("novasite: init store: %w", err)
		}
		a.Store = store
		a.ownsStore = true
	}

	a.Media = NewManifestCache(a.Config.Media.ManifestPath, a.Config.ManifestCacheTTL, a.log)

	if a.notifier == nil {
		mailer, err := NewMailer(a.Config)
		switch {
		case errors.Is(err, ErrSMTPNotConfigured):
			a.log.Warn("SMTP settings incomplete; submissions are stored but not mailed")
		case err != nil:
			return fmt.Errorf("novasite: init mailer: %w", err)
		default:
			a.notifier = mailer
		}
	}

	a.validate = newValidator()
	a.loginLimiter = NewRateLimiter(5, time.Minute)
	a.submitLimiter = NewRateLimiter(a.Config.SubmissionLimit, a.Config.SubmissionWindow)

	if a.Config.AdminEnabled() {
		p, err := media.NewPipeline(a.Config.Media, append([]media.Option{media.WithLogger(a.log)}, a.mediaOpts...)...)
		if err != nil {
			return fmt.Errorf("novasite: init media pipeline: %w", err)
		}
		a.pipeline = p
	} else {
		a.log.Info("admin inbox disabled; set ADMIN_PASSWORD and SESSION_SECRET to enable it")
	}

	a.setupMiddleware()
	a.setupRoutes()

	for _, fn := range a.customRoutes {
		fn(a)
	}
	return nil
}

// Start initializes the app and serves until the server is shut down.
func (a *App) Start() error {
	if err := a.Init(); err != nil {
		return err
	}
	a.log.Info("listening", zap.String("addr", a.Config.Addr))
	if err := a.Echo.Start(a.Config.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully.
func (a *App) Shutdown(ctx context.Context) error {
	return a.Echo.Shutdown(ctx)
}

func (a *App) setupRoutes() {
	e := a.Echo

	e.GET("/healthz", handleHealth)

	// Generated variants and fallbacks
	if err := os.MkdirAll(a.Config.Media.OutputDir, 0o755); err != nil {
		a.log.Warn("cannot create output dir", zap.String("dir", a.Config.Media.OutputDir), zap.Error(err))
	}
	e.Static(a.Config.Media.PublicPath, a.Config.Media.OutputDir)

	// Form relay
	cors := a.relayCORS()
	e.POST("/api/send-email", a.handleSendEmail, cors)
	e.OPTIONS("/api/send-email", func(c echo.Context) error {
		return c.NoContent(http.StatusNoContent)
	}, cors)

	// Media API
	e.GET("/api/media/", a.handleMediaList)
	e.GET("/api/media/:id", a.handleMediaGet)

	if !a.Config.AdminEnabled() {
		return
	}

	// Admin inbox
	e.GET("/admin/", a.handleAdmin)
	e.POST("/admin/login/", a.handleAdminLogin)
	e.POST("/admin/logout/", handleAdminLogout)

	admin := e.Group("/admin", requireAdmin)
	admin.GET("/submissions/", a.handleAdminSubmissions)
	admin.DELETE("/subscribers/:email/", a.handleAdminDeleteSubscriber)
	admin.GET("/images/", a.handleImageList)
	admin.POST("/images/upload/", a.handleImageUpload)
	admin.DELETE("/images/:id/", a.handleImageDelete)
}

// Close cleans up resources. Call this when the app is shutting down.
func (a *App) Close() error {
	if a.loginLimiter != nil {
		a.loginLimiter.Stop()
	}
	if a.submitLimiter != nil {
		a.submitLimiter.Stop()
	}
	if a.Store != nil && a.ownsStore {
		return a.Store.Close()
	}
	return nil
}
