package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/safecircle-tech/authd/internal/credential"
	"github.com/safecircle-tech/authd/internal/models"
	"github.com/safecircle-tech/authd/internal/session"
)

// ProfileHandler serves the caller's own account record.
type ProfileHandler struct {
	db          *gorm.DB
	credentials *credential.Verifier
	sessions    *session.Manager
}

// NewProfileHandler constructs a ProfileHandler.
func NewProfileHandler(db *gorm.DB, credentials *credential.Verifier, sessions *session.Manager) *ProfileHandler {
	return &ProfileHandler{db: db, credentials: credentials, sessions: sessions}
}

func profileView(user *models.User) gin.H {
	return gin.H{
		"id":                 user.ID,
		"email":              user.Email,
		"name":               user.Name,
		"image":              user.Image,
		"email-verified":     user.EmailVerified,
		"two-factor-enabled": user.TwoFactorEnabled,
		"created-at":         user.CreatedAt,
	}
}

// Get returns the caller's profile.
func (h *ProfileHandler) Get(c *gin.Context) {
	current := CurrentSession(c)
	user, errFind := h.credentials.FindByID(c.Request.Context(), current.UserID)
	if errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load profile failed"})
		return
	}
	c.JSON(http.StatusOK, profileView(user))
}

type updateProfileRequest struct {
	Name  *string `json:"name"`
	Image *string `json:"image"`
}

// Update changes the caller's display name or avatar reference.
func (h *ProfileHandler) Update(c *gin.Context) {
	var body updateProfileRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	updates := map[string]any{"updated_at": time.Now().UTC()}
	if body.Name != nil {
		updates["name"] = strings.TrimSpace(*body.Name)
	}
	if body.Image != nil {
		updates["image"] = strings.TrimSpace(*body.Image)
	}

	current := CurrentSession(c)
	errUpdate := h.db.WithContext(c.Request.Context()).Model(&models.User{}).
		Where("id = ?", current.UserID).
		Updates(updates).Error
	if errUpdate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update profile failed"})
		return
	}

	user, errFind := h.credentials.FindByID(c.Request.Context(), current.UserID)
	if errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load profile failed"})
		return
	}
	c.JSON(http.StatusOK, profileView(user))
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current-password"`
	NewPassword     string `json:"new-password"`
	RevokeOthers    bool   `json:"revoke-other-sessions"`
}

// ChangePassword replaces the caller's password after re-proving the
// current one, optionally signing out every other device.
func (h *ProfileHandler) ChangePassword(c *gin.Context) {
	var body changePasswordRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	current := CurrentSession(c)
	if !h.credentials.VerifyPassword(c.Request.Context(), current.UserID, body.CurrentPassword) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid password"})
		return
	}
	if errSet := h.credentials.SetPassword(c.Request.Context(), current.UserID, body.NewPassword); errSet != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errSet.Error()})
		return
	}
	if body.RevokeOthers {
		if _, errRevoke := h.sessions.RevokeOthers(c.Request.Context(), current.UserID, current.Token); errRevoke != nil {
			log.WithError(errRevoke).WithField("user_id", current.UserID).Warn("session revocation after password change failed")
		}
	}
	c.JSON(http.StatusOK, gin.H{"changed": true})
}
