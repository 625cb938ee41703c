package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/safecircle-tech/authd/internal/models"
	"github.com/safecircle-tech/authd/internal/session"
)

// SessionHandler serves the multi-device session endpoints.
type SessionHandler struct {
	sessions *session.Manager
}

// NewSessionHandler constructs a SessionHandler.
func NewSessionHandler(sessions *session.Manager) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

// List returns the caller's sessions, most recently active first. Bearer
// tokens are never part of the payload; the caller's own session is
// flagged as current.
func (h *SessionHandler) List(c *gin.Context) {
	current := CurrentSession(c)
	views, errList := h.sessions.List(c.Request.Context(), current.UserID, current.Token)
	if errList != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list sessions failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": views})
}

// Revoke deletes one of the caller's sessions by its listing ID.
// Revoking the current session signs the caller out immediately.
func (h *SessionHandler) Revoke(c *gin.Context) {
	sessionID, errParse := strconv.ParseUint(strings.TrimSpace(c.Param("id")), 10, 64)
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return
	}

	current := CurrentSession(c)
	revoked, errRevoke := h.sessions.Revoke(c.Request.Context(), current.UserID, sessionID)
	if errRevoke != nil {
		if errors.Is(errRevoke, session.ErrForbidden) {
			c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "revoke session failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"revoked": revoked})
}

type revokeTokenRequest struct {
	Token string `json:"token"`
}

// RevokeByToken deletes one of the caller's sessions by its bearer
// token. Clients that hold tokens for several of their own devices use
// this to sign a specific device out.
func (h *SessionHandler) RevokeByToken(c *gin.Context) {
	var body revokeTokenRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(body.Token) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing token"})
		return
	}

	current := CurrentSession(c)
	revoked, errRevoke := h.sessions.RevokeByToken(c.Request.Context(), current.UserID, body.Token)
	if errRevoke != nil {
		if errors.Is(errRevoke, session.ErrForbidden) {
			c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "revoke session failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"revoked": revoked})
}

// RevokeOthers signs out every device except the caller's.
func (h *SessionHandler) RevokeOthers(c *gin.Context) {
	current := CurrentSession(c)
	count, errRevoke := h.sessions.RevokeOthers(c.Request.Context(), current.UserID, current.Token)
	if errRevoke != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "revoke sessions failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"revoked": count})
}

// SignOut revokes the caller's own session.
func (h *SessionHandler) SignOut(c *gin.Context) {
	current := CurrentSession(c)
	if _, errRevoke := h.sessions.RevokeByToken(c.Request.Context(), current.UserID, current.Token); errRevoke != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sign out failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"signed-out": true})
}

// CurrentSession returns the session loaded by the auth middleware.
func CurrentSession(c *gin.Context) *models.Session {
	value, _ := c.Get("session")
	current, _ := value.(*models.Session)
	return current
}
