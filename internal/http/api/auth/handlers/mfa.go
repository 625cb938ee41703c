package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/safecircle-tech/authd/internal/credential"
	"github.com/safecircle-tech/authd/internal/passkey"
)

// MFAHandler serves second-factor enrollment and management for a
// signed-in user.
type MFAHandler struct {
	credentials *credential.Verifier
	passkeys    *passkey.Verifier
	issuerName  string
}

// NewMFAHandler constructs an MFAHandler. issuerName labels the account
// in authenticator apps.
func NewMFAHandler(credentials *credential.Verifier, passkeys *passkey.Verifier, issuerName string) *MFAHandler {
	return &MFAHandler{credentials: credentials, passkeys: passkeys, issuerName: issuerName}
}

// Status reports which second factors the caller has enrolled.
func (h *MFAHandler) Status(c *gin.Context) {
	current := CurrentSession(c)
	user, errFind := h.credentials.FindByID(c.Request.Context(), current.UserID)
	if errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load status failed"})
		return
	}
	credentials, errList := h.passkeys.List(c.Request.Context(), current.UserID)
	if errList != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load status failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"two-factor-enabled":    user.TwoFactorEnabled,
		"authenticator-pending": user.TOTPSecret != "" && !user.TwoFactorEnabled,
		"passkey-count":         len(credentials),
	})
}

// PrepareTOTP generates a fresh authenticator secret. Two-factor stays
// off until the first code is confirmed.
func (h *MFAHandler) PrepareTOTP(c *gin.Context) {
	current := CurrentSession(c)
	user, errFind := h.credentials.FindByID(c.Request.Context(), current.UserID)
	if errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "prepare authenticator failed"})
		return
	}
	enrollment, errPrepare := h.credentials.PrepareTOTP(c.Request.Context(), user, h.issuerName)
	if errPrepare != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "prepare authenticator failed"})
		return
	}
	c.JSON(http.StatusOK, enrollment)
}

type codeRequest struct {
	Code string `json:"code"`
}

// ConfirmTOTP validates the first authenticator code and enables
// two-factor login.
func (h *MFAHandler) ConfirmTOTP(c *gin.Context) {
	var body codeRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(body.Code) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing code"})
		return
	}

	current := CurrentSession(c)
	errConfirm := h.credentials.ConfirmTOTP(c.Request.Context(), current.UserID, strings.TrimSpace(body.Code))
	if errConfirm != nil {
		switch {
		case errors.Is(errConfirm, credential.ErrInvalidCode):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "verification failed"})
		case errors.Is(errConfirm, credential.ErrNotEnrolled):
			c.JSON(http.StatusBadRequest, gin.H{"error": "no pending authenticator"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "confirm authenticator failed"})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"enabled": true})
}

type passwordRequest struct {
	Password string `json:"password"`
}

// DisableTOTP removes the authenticator after re-proving the password.
func (h *MFAHandler) DisableTOTP(c *gin.Context) {
	var body passwordRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	current := CurrentSession(c)
	errDisable := h.credentials.DisableTOTP(c.Request.Context(), current.UserID, body.Password)
	if errDisable != nil {
		if errors.Is(errDisable, credential.ErrInvalidPassword) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid password"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "disable authenticator failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"enabled": false})
}

// BeginPasskeyRegistration opens a registration ceremony for a new
// passkey on the caller's account.
func (h *MFAHandler) BeginPasskeyRegistration(c *gin.Context) {
	current := CurrentSession(c)
	user, errFind := h.credentials.FindByID(c.Request.Context(), current.UserID)
	if errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "begin registration failed"})
		return
	}
	creation, challengeID, errBegin := h.passkeys.BeginRegistration(c.Request.Context(), user)
	if errBegin != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "begin registration failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"challenge-id": challengeID,
		"options":      creation,
	})
}

type finishRegistrationRequest struct {
	ChallengeID string          `json:"challenge-id"`
	Label       string          `json:"label"`
	Response    json.RawMessage `json:"response"`
}

// FinishPasskeyRegistration validates the signed creation response and
// stores the passkey under the given label.
func (h *MFAHandler) FinishPasskeyRegistration(c *gin.Context) {
	var body finishRegistrationRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(body.ChallengeID) == "" || len(body.Response) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing challenge or response"})
		return
	}

	current := CurrentSession(c)
	user, errFind := h.credentials.FindByID(c.Request.Context(), current.UserID)
	if errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "finish registration failed"})
		return
	}
	record, errFinish := h.passkeys.FinishRegistration(c.Request.Context(), user, body.ChallengeID, body.Response, strings.TrimSpace(body.Label))
	if errFinish != nil {
		switch {
		case errors.Is(errFinish, passkey.ErrInvalidChallenge),
			errors.Is(errFinish, passkey.ErrChallengeExpired),
			errors.Is(errFinish, passkey.ErrSignatureMismatch):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "verification failed"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "finish registration failed"})
		}
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"credential-id": record.CredentialID,
		"label":         record.Label,
		"created-at":    record.CreatedAt,
	})
}

// ListPasskeys returns the caller's registered passkeys. Only metadata
// is exposed, never key material.
func (h *MFAHandler) ListPasskeys(c *gin.Context) {
	current := CurrentSession(c)
	records, errList := h.passkeys.List(c.Request.Context(), current.UserID)
	if errList != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list passkeys failed"})
		return
	}
	views := make([]gin.H, 0, len(records))
	for _, record := range records {
		views = append(views, gin.H{
			"credential-id": record.CredentialID,
			"label":         record.Label,
			"created-at":    record.CreatedAt,
			"last-used-at":  record.LastUsedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"passkeys": views})
}

// RemovePasskey deletes a single passkey. Other passkeys and factors are
// unaffected.
func (h *MFAHandler) RemovePasskey(c *gin.Context) {
	credentialID := strings.TrimSpace(c.Param("id"))
	if credentialID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing credential id"})
		return
	}

	current := CurrentSession(c)
	removed, errRemove := h.passkeys.Remove(c.Request.Context(), current.UserID, credentialID)
	if errRemove != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "remove passkey failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}
