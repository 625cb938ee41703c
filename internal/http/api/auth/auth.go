// Package auth registers the authentication HTTP surface.
package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/safecircle-tech/authd/internal/authflow"
	"github.com/safecircle-tech/authd/internal/config"
	"github.com/safecircle-tech/authd/internal/credential"
	handlers "github.com/safecircle-tech/authd/internal/http/api/auth/handlers"
	"github.com/safecircle-tech/authd/internal/mailer"
	"github.com/safecircle-tech/authd/internal/otp"
	"github.com/safecircle-tech/authd/internal/passkey"
	"github.com/safecircle-tech/authd/internal/ratelimit"
	"github.com/safecircle-tech/authd/internal/session"
)

// Deps carries the constructed components the routes are served from.
type Deps struct {
	DB          *gorm.DB
	Machine     *authflow.Machine
	Credentials *credential.Verifier
	Codes       *otp.Issuer
	Passkeys    *passkey.Verifier
	Sessions    *session.Manager
	Limiter     *ratelimit.Manager
	Mailer      mailer.Mailer
	MailCfg     config.MailConfig
	IssuerName  string
}

// RegisterAuthRoutes registers the auth routes, middleware and handlers.
func RegisterAuthRoutes(r *gin.Engine, deps Deps) {
	if r == nil || deps.DB == nil {
		return
	}

	healthHandler := handlers.NewHealthHandler(deps.DB)
	r.GET("/healthz", healthHandler.Healthz)

	authGroup := r.Group("/v1/auth")

	signUpHandler := handlers.NewSignUpHandler(deps.DB, deps.Mailer, deps.MailCfg, deps.Sessions)
	authGroup.POST("/sign-up", signUpHandler.SignUp)
	authGroup.POST("/verify-email", signUpHandler.VerifyEmail)
	authGroup.POST("/password/forgot", signUpHandler.RequestPasswordReset)
	authGroup.POST("/password/reset", signUpHandler.ResetPassword)

	loginHandler := handlers.NewLoginHandler(deps.Machine, deps.Codes, deps.Limiter)
	authGroup.POST("/login", loginHandler.Login)
	authGroup.POST("/login/otp", loginHandler.RequestOTP)
	authGroup.GET("/login/otp/status", loginHandler.OTPStatus)
	authGroup.POST("/login/otp/verify", loginHandler.VerifyOTP)
	authGroup.POST("/login/totp", loginHandler.LoginTOTP)
	authGroup.POST("/login/passkey/options", loginHandler.LoginPasskeyOptions)
	authGroup.POST("/login/passkey/verify", loginHandler.LoginPasskeyVerify)

	authed := authGroup.Group("")
	authed.Use(sessionAuthMiddleware(deps.Sessions))

	sessionHandler := handlers.NewSessionHandler(deps.Sessions)
	authed.GET("/sessions", sessionHandler.List)
	authed.DELETE("/sessions/:id", sessionHandler.Revoke)
	authed.POST("/sessions/revoke", sessionHandler.RevokeByToken)
	authed.POST("/sessions/revoke-others", sessionHandler.RevokeOthers)
	authed.POST("/sign-out", sessionHandler.SignOut)

	profileHandler := handlers.NewProfileHandler(deps.DB, deps.Credentials, deps.Sessions)
	authed.GET("/me", profileHandler.Get)
	authed.PUT("/me", profileHandler.Update)
	authed.PUT("/me/password", profileHandler.ChangePassword)

	mfaHandler := handlers.NewMFAHandler(deps.Credentials, deps.Passkeys, deps.IssuerName)
	authed.GET("/mfa/status", mfaHandler.Status)
	authed.POST("/mfa/totp/prepare", mfaHandler.PrepareTOTP)
	authed.POST("/mfa/totp/confirm", mfaHandler.ConfirmTOTP)
	authed.POST("/mfa/totp/disable", mfaHandler.DisableTOTP)
	authed.POST("/mfa/passkeys/options", mfaHandler.BeginPasskeyRegistration)
	authed.POST("/mfa/passkeys/verify", mfaHandler.FinishPasskeyRegistration)
	authed.GET("/mfa/passkeys", mfaHandler.ListPasskeys)
	authed.DELETE("/mfa/passkeys/:id", mfaHandler.RemovePasskey)
}

// sessionAuthMiddleware resolves the bearer token to a live session and
// stamps its activity. A revoked or expired token is rejected on the
// request that carries it.
func sessionAuthMiddleware(sessions *session.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == authHeader {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization format"})
			return
		}
		token = strings.TrimSpace(token)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "empty token"})
			return
		}

		current, errLookup := sessions.Lookup(c.Request.Context(), token)
		if errLookup != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "session lookup failed"})
			return
		}
		if current == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid session"})
			return
		}

		sessions.Touch(c.Request.Context(), token)
		c.Set("session", current)
		c.Next()
	}
}
