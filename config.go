package novasite

import (
	"time"

	"go.uber.org/zap"

	"github.com/genesinova/novasite/media"
)

// SiteConfig holds all configuration for the novasite server.
type SiteConfig struct {
	Name string // Site name used in notification mails (default "Genesi Nova Choir")
	Addr string // Listen address (default ":3000")

	DatabasePath string // SQLite path for submissions (default "data/submissions.db")

	// Media locates the optimizer's output. Its ManifestPath, OutputDir and
	// PublicPath back the media API; InputDir receives admin uploads.
	Media            media.Config
	ManifestCacheTTL time.Duration // default 1min

	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	MailTo       string // Notification recipient (default SMTPUser)

	AllowOrigins []string // CORS origins for the relay (default "*")

	SubmissionLimit  int           // Submissions per IP per window (default 5)
	SubmissionWindow time.Duration // default 10min

	// The admin inbox is enabled only when both are set.
	AdminPassword string
	SessionSecret string
	CookieSecure  bool
}

func (c *SiteConfig) setDefaults() {
	if c.Name == "" {
		c.Name = "Genesi Nova Choir"
	}
	if c.Addr == "" {
		c.Addr = ":3000"
	}
	if c.DatabasePath == "" {
		c.DatabasePath = "data/submissions.db"
	}
	c.Media.SetDefaults()
	if c.ManifestCacheTTL == 0 {
		c.ManifestCacheTTL = time.Minute
	}
	if c.MailTo == "" {
		c.MailTo = c.SMTPUser
	}
	if len(c.AllowOrigins) == 0 {
		c.AllowOrigins = []string{"*"}
	}
	if c.SubmissionLimit == 0 {
		c.SubmissionLimit = 5
	}
	if c.SubmissionWindow == 0 {
		c.SubmissionWindow = 10 * time.Minute
	}
}

// AdminEnabled reports whether the admin inbox routes are served.
func (c *SiteConfig) AdminEnabled() bool {
	return c.AdminPassword != "" && c.SessionSecret != ""
}

// SMTPConfigured reports whether every SMTP setting is present.
func (c *SiteConfig) SMTPConfigured() bool {
	return c.SMTPHost != "" && c.SMTPPort != 0 && c.SMTPUser != "" && c.SMTPPassword != ""
}

// Option configures additional App behavior.
type Option func(*App)

// WithLogger sets the structured logger (default no-op).
func WithLogger(l *zap.Logger) Option {
	return func(a *App) {
		if l != nil {
			a.log = l
		}
	}
}

// WithNotifier replaces the SMTP mailer, e.g. in tests.
func WithNotifier(n Notifier) Option {
	return func(a *App) {
		a.notifier = n
	}
}

// WithStore uses an already opened store instead of opening DatabasePath.
func WithStore(s *Store) Option {
	return func(a *App) {
		a.Store = s
	}
}

// WithCustomRoutes registers additional routes on the Echo instance.
// The callback receives the App before the server starts.
func WithCustomRoutes(fn func(*App)) Option {
	return func(a *App) {
		a.customRoutes = append(a.customRoutes, fn)
	}
}
