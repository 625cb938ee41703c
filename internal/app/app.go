// Package app boots the authentication server from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/safecircle-tech/authd/internal/authflow"
	"github.com/safecircle-tech/authd/internal/config"
	"github.com/safecircle-tech/authd/internal/credential"
	"github.com/safecircle-tech/authd/internal/db"
	authapi "github.com/safecircle-tech/authd/internal/http/api/auth"
	"github.com/safecircle-tech/authd/internal/mailer"
	"github.com/safecircle-tech/authd/internal/models"
	"github.com/safecircle-tech/authd/internal/otp"
	"github.com/safecircle-tech/authd/internal/passkey"
	"github.com/safecircle-tech/authd/internal/ratelimit"
	"github.com/safecircle-tech/authd/internal/security"
	"github.com/safecircle-tech/authd/internal/session"
)

const cleanupInterval = time.Hour

// Migrate opens the database and runs migrations.
func Migrate(ctx context.Context, cfg config.AppConfig) error {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	dsn, err := config.LoadDatabaseDSN(configPath)
	if err != nil {
		return err
	}
	conn, err := db.Open(dsn)
	if err != nil {
		return err
	}
	return db.Migrate(conn)
}

// RunServer boots the HTTP server with database-backed components and
// serves until the context is cancelled.
func RunServer(ctx context.Context, cfg config.AppConfig, defaultPort int) error {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	dsn, err := config.LoadDatabaseDSN(configPath)
	if err != nil {
		return err
	}
	conn, err := db.Open(dsn)
	if err != nil {
		return err
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return errMigrate
	}

	jwtCfg, _ := config.LoadJWTConfig(configPath)
	if strings.TrimSpace(jwtCfg.Secret) == "" {
		// Pending second-factor tickets are short-lived, so an ephemeral
		// secret only invalidates logins in flight across a restart.
		secret, errSecret := security.GenerateSessionToken()
		if errSecret != nil {
			return fmt.Errorf("app: generate ticket secret: %w", errSecret)
		}
		jwtCfg.Secret = secret
		log.Warn("no ticket secret configured, using an ephemeral one")
	}
	sessionCfg, _ := config.LoadSessionConfig(configPath)
	webauthnCfg, _ := config.LoadWebAuthnConfig(configPath)
	mailCfg, _ := config.LoadMailConfig(configPath)
	rateCfg, _ := config.LoadRateLimitConfig(configPath)

	wa, errWebAuthn := security.NewWebAuthn(webauthnCfg)
	if errWebAuthn != nil {
		return errWebAuthn
	}

	var mail mailer.Mailer = mailer.LogMailer{}
	if strings.TrimSpace(mailCfg.Host) != "" {
		mail = mailer.NewSMTPMailer(mailCfg)
	}

	credentials := credential.NewVerifier(conn)
	codes := otp.NewIssuer(conn, mail)
	passkeys := passkey.NewVerifier(conn, wa)
	sessions := session.NewManager(conn, sessionCfg)
	machine := authflow.NewMachine(credentials, codes, passkeys, sessions, jwtCfg)
	limiter := ratelimit.NewManager(rateCfg, nil, nil)

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	authapi.RegisterAuthRoutes(engine, authapi.Deps{
		DB:          conn,
		Machine:     machine,
		Credentials: credentials,
		Codes:       codes,
		Passkeys:    passkeys,
		Sessions:    sessions,
		Limiter:     limiter,
		Mailer:      mail,
		MailCfg:     mailCfg,
		IssuerName:  webauthnCfg.RPDisplayName,
	})

	go runCleanup(ctx, conn, codes, passkeys, sessions)

	if defaultPort <= 0 {
		defaultPort = 8320
	}
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", defaultPort),
		Handler: engine,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", srv.Addr).Info("auth server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case errServe := <-errCh:
		if errors.Is(errServe, http.ErrServerClosed) {
			return nil
		}
		return errServe
	}
}

// runCleanup purges expired codes, challenges, link tokens and sessions
// on a low-frequency timer. Expiry is always checked at verification
// time; this loop only reclaims rows.
func runCleanup(ctx context.Context, conn *gorm.DB, codes *otp.Issuer, passkeys *passkey.Verifier, sessions *session.Manager) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := codes.PurgeExpired(ctx); err != nil {
				log.WithError(err).Warn("code cleanup failed")
			}
			if err := passkeys.PurgeExpired(ctx); err != nil {
				log.WithError(err).Warn("challenge cleanup failed")
			}
			if err := sessions.PurgeExpired(ctx); err != nil {
				log.WithError(err).Warn("session cleanup failed")
			}
			err := conn.WithContext(ctx).
				Where("consumed = ? OR expires_at <= ?", true, time.Now().UTC()).
				Delete(&models.AccountToken{}).Error
			if err != nil {
				log.WithError(err).Warn("account token cleanup failed")
			}
		}
	}
}
