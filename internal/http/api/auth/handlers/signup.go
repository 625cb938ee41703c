package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/safecircle-tech/authd/internal/config"
	"github.com/safecircle-tech/authd/internal/mailer"
	"github.com/safecircle-tech/authd/internal/models"
	"github.com/safecircle-tech/authd/internal/security"
	"github.com/safecircle-tech/authd/internal/session"
)

const (
	verificationTokenTTL = 24 * time.Hour
	resetTokenTTL        = time.Hour
)

// SignUpHandler serves account creation, email verification and the
// password reset flow.
type SignUpHandler struct {
	db       *gorm.DB
	mail     mailer.Mailer
	mailCfg  config.MailConfig
	sessions *session.Manager
}

// NewSignUpHandler constructs a SignUpHandler.
func NewSignUpHandler(db *gorm.DB, mail mailer.Mailer, mailCfg config.MailConfig, sessions *session.Manager) *SignUpHandler {
	return &SignUpHandler{db: db, mail: mail, mailCfg: mailCfg, sessions: sessions}
}

type signUpRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

// SignUp creates a new account and dispatches the verification link.
// The account cannot log in until the address is verified.
func (h *SignUpHandler) SignUp(c *gin.Context) {
	var body signUpRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	email := strings.ToLower(strings.TrimSpace(body.Email))
	if email == "" || !strings.Contains(email, "@") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid email"})
		return
	}
	if errPolicy := security.ValidatePasswordPolicy(body.Password); errPolicy != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errPolicy.Error()})
		return
	}

	var count int64
	if errCount := h.db.WithContext(c.Request.Context()).Model(&models.User{}).
		Where("email = ?", email).Count(&count).Error; errCount != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create account failed"})
		return
	}
	if count > 0 {
		c.JSON(http.StatusConflict, gin.H{"error": "email already registered"})
		return
	}

	hash, errHash := security.HashPassword(body.Password)
	if errHash != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create account failed"})
		return
	}

	now := time.Now().UTC()
	user := models.User{
		Email:     email,
		Name:      strings.TrimSpace(body.Name),
		Password:  hash,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if errCreate := h.db.WithContext(c.Request.Context()).Create(&user).Error; errCreate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create account failed"})
		return
	}

	if errSend := h.sendVerification(c, &user); errSend != nil {
		log.WithError(errSend).WithField("user_id", user.ID).Warn("verification mail dispatch failed")
	}

	c.JSON(http.StatusCreated, gin.H{
		"id":    user.ID,
		"email": user.Email,
		"name":  user.Name,
	})
}

func (h *SignUpHandler) sendVerification(c *gin.Context, user *models.User) error {
	token, errToken := security.GenerateLinkToken()
	if errToken != nil {
		return errToken
	}
	now := time.Now().UTC()
	record := models.AccountToken{
		UserID:    user.ID,
		Token:     token,
		Kind:      models.TokenKindEmailVerification,
		ExpiresAt: now.Add(verificationTokenTTL),
		CreatedAt: now,
	}
	if errCreate := h.db.WithContext(c.Request.Context()).Create(&record).Error; errCreate != nil {
		return errCreate
	}
	msg := mailer.VerificationEmail(user.Name, h.mailCfg.BaseURL+"/verify-email?token="+token)
	msg.To = user.Email
	return h.mail.Send(c.Request.Context(), msg)
}

type tokenRequest struct {
	Token string `json:"token"`
}

// VerifyEmail consumes a verification token and marks the address
// verified. Each token works exactly once.
func (h *SignUpHandler) VerifyEmail(c *gin.Context) {
	var body tokenRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	record, ok := h.consumeToken(c, body.Token, models.TokenKindEmailVerification)
	if !ok {
		return
	}

	errUpdate := h.db.WithContext(c.Request.Context()).Model(&models.User{}).
		Where("id = ?", record.UserID).
		Update("email_verified", true).Error
	if errUpdate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "verify email failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"verified": true})
}

type resetRequestBody struct {
	Email string `json:"email"`
}

// RequestPasswordReset dispatches a reset link. The response is the same
// whether or not the address has an account.
func (h *SignUpHandler) RequestPasswordReset(c *gin.Context) {
	var body resetRequestBody
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	email := strings.ToLower(strings.TrimSpace(body.Email))
	if email == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing email"})
		return
	}

	var user models.User
	errFind := h.db.WithContext(c.Request.Context()).Where("email = ?", email).First(&user).Error
	if errFind == nil {
		if errSend := h.sendReset(c, &user); errSend != nil {
			log.WithError(errSend).WithField("user_id", user.ID).Warn("reset mail dispatch failed")
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *SignUpHandler) sendReset(c *gin.Context, user *models.User) error {
	token, errToken := security.GenerateLinkToken()
	if errToken != nil {
		return errToken
	}
	now := time.Now().UTC()
	record := models.AccountToken{
		UserID:    user.ID,
		Token:     token,
		Kind:      models.TokenKindPasswordReset,
		ExpiresAt: now.Add(resetTokenTTL),
		CreatedAt: now,
	}
	errStore := h.db.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		if errDelete := tx.Where("user_id = ? AND kind = ? AND consumed = ?",
			user.ID, models.TokenKindPasswordReset, false).
			Delete(&models.AccountToken{}).Error; errDelete != nil {
			return errDelete
		}
		return tx.Create(&record).Error
	})
	if errStore != nil {
		return errStore
	}
	msg := mailer.PasswordResetEmail(user.Name, h.mailCfg.BaseURL+"/reset-password?token="+token)
	msg.To = user.Email
	return h.mail.Send(c.Request.Context(), msg)
}

type resetPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

// ResetPassword consumes a reset token, replaces the password and signs
// out every existing session for the account.
func (h *SignUpHandler) ResetPassword(c *gin.Context) {
	var body resetPasswordRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if errPolicy := security.ValidatePasswordPolicy(body.Password); errPolicy != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errPolicy.Error()})
		return
	}
	record, ok := h.consumeToken(c, body.Token, models.TokenKindPasswordReset)
	if !ok {
		return
	}

	hash, errHash := security.HashPassword(body.Password)
	if errHash != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "reset password failed"})
		return
	}
	errUpdate := h.db.WithContext(c.Request.Context()).Model(&models.User{}).
		Where("id = ?", record.UserID).
		Update("password", hash).Error
	if errUpdate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "reset password failed"})
		return
	}
	if _, errRevoke := h.sessions.RevokeOthers(c.Request.Context(), record.UserID, ""); errRevoke != nil {
		log.WithError(errRevoke).WithField("user_id", record.UserID).Warn("session revocation after reset failed")
	}
	c.JSON(http.StatusOK, gin.H{"reset": true})
}

// consumeToken spends an account token with a single conditional update
// so a link can never be used twice.
func (h *SignUpHandler) consumeToken(c *gin.Context, token, kind string) (*models.AccountToken, bool) {
	token = strings.TrimSpace(token)
	if token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing token"})
		return nil, false
	}
	res := h.db.WithContext(c.Request.Context()).Model(&models.AccountToken{}).
		Where("token = ? AND kind = ? AND consumed = ? AND expires_at > ?",
			token, kind, false, time.Now().UTC()).
		Update("consumed", true)
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token check failed"})
		return nil, false
	}
	if res.RowsAffected != 1 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
		return nil, false
	}
	var record models.AccountToken
	if errFind := h.db.WithContext(c.Request.Context()).Where("token = ?", token).
		First(&record).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token check failed"})
		return nil, false
	}
	return &record, true
}
