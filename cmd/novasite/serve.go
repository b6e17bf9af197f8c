package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/genesinova/novasite"
	"github.com/genesinova/novasite/media"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the form relay, media API and admin inbox",
	Long: `Environment:
  SITE_NAME            Site name in notification mails
  ADDR                 Listen address (default :3000)
  DATABASE_PATH        SQLite file for submissions
  MEDIA_CONFIG         YAML file shared with "novasite optimize"
  SMTP_HOST, SMTP_PORT, SMTP_USER, SMTP_PASS, MAIL_TO
  ALLOW_ORIGINS        Comma separated CORS origins for the relay
  SUBMISSION_LIMIT     Submissions per IP per SUBMISSION_WINDOW
  ADMIN_PASSWORD, SESSION_SECRET, COOKIE_SECURE`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides ADDR)")
}

func siteConfigFromEnv() (novasite.SiteConfig, error) {
	cfg := novasite.SiteConfig{
		Name:             novasite.EnvOr("SITE_NAME", "Genesi Nova Choir"),
		Addr:             novasite.EnvOr("ADDR", ":3000"),
		DatabasePath:     novasite.EnvOr("DATABASE_PATH", "data/submissions.db"),
		SMTPHost:         os.Getenv("SMTP_HOST"),
		SMTPPort:         novasite.EnvInt("SMTP_PORT", 0),
		SMTPUser:         os.Getenv("SMTP_USER"),
		SMTPPassword:     os.Getenv("SMTP_PASS"),
		MailTo:           os.Getenv("MAIL_TO"),
		AdminPassword:    os.Getenv("ADMIN_PASSWORD"),
		SessionSecret:    os.Getenv("SESSION_SECRET"),
		CookieSecure:     novasite.EnvBool("COOKIE_SECURE", false),
		SubmissionLimit:  novasite.EnvInt("SUBMISSION_LIMIT", 0),
		SubmissionWindow: novasite.EnvDuration("SUBMISSION_WINDOW", 0),
		ManifestCacheTTL: novasite.EnvDuration("MANIFEST_CACHE_TTL", 0),
	}
	if origins := os.Getenv("ALLOW_ORIGINS"); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.AllowOrigins = append(cfg.AllowOrigins, o)
			}
		}
	}
	if path := os.Getenv("MEDIA_CONFIG"); path != "" {
		m, err := media.LoadConfig(path)
		if err != nil {
			return novasite.SiteConfig{}, err
		}
		cfg.Media = m
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := siteConfigFromEnv()
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.Addr = serveAddr
	}

	app := novasite.New(cfg, novasite.WithLogger(logger))
	defer app.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() { errc <- app.Start() }()

	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown", zap.Error(err))
	}
	return <-errc
}
