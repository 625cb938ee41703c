package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/safecircle-tech/authd/internal/authflow"
	"github.com/safecircle-tech/authd/internal/otp"
	"github.com/safecircle-tech/authd/internal/passkey"
	"github.com/safecircle-tech/authd/internal/ratelimit"
)

// LoginHandler serves the login endpoints, first factor and second.
type LoginHandler struct {
	machine *authflow.Machine
	codes   *otp.Issuer
	limiter *ratelimit.Manager
}

// NewLoginHandler constructs a LoginHandler.
func NewLoginHandler(machine *authflow.Machine, codes *otp.Issuer, limiter *ratelimit.Manager) *LoginHandler {
	return &LoginHandler{machine: machine, codes: codes, limiter: limiter}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func device(c *gin.Context) authflow.Device {
	return authflow.Device{
		UserAgent: c.GetHeader("User-Agent"),
		IPAddress: c.ClientIP(),
	}
}

// sessionResponse is the payload returned once a login completes.
func sessionResponse(outcome *authflow.Outcome) gin.H {
	return gin.H{
		"token":      outcome.Session.Token,
		"expires-at": outcome.Session.ExpiresAt,
		"user": gin.H{
			"id":    outcome.User.ID,
			"email": outcome.User.Email,
			"name":  outcome.User.Name,
		},
	}
}

// Login checks the password factor. When two-factor is enabled the
// response carries a pending ticket instead of a session.
func (h *LoginHandler) Login(c *gin.Context) {
	var body loginRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	email := strings.TrimSpace(body.Email)
	if email == "" || body.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing email or password"})
		return
	}

	if !h.allowLogin(c, email) {
		return
	}

	outcome, errLogin := h.machine.Login(c.Request.Context(), email, body.Password, device(c))
	if errLogin != nil {
		switch {
		case errors.Is(errLogin, authflow.ErrInvalidCredentials):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid email or password"})
		case errors.Is(errLogin, authflow.ErrEmailNotVerified):
			c.JSON(http.StatusForbidden, gin.H{"error": "email not verified"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		}
		return
	}

	if outcome.SecondFactorRequired {
		c.JSON(http.StatusOK, gin.H{
			"status":         "second-factor-required",
			"pending-ticket": outcome.PendingToken,
		})
		return
	}
	c.JSON(http.StatusOK, sessionResponse(outcome))
}

type pendingRequest struct {
	PendingTicket string `json:"pending-ticket"`
}

// RequestOTP dispatches a one-time code for a pending login.
func (h *LoginHandler) RequestOTP(c *gin.Context) {
	var body pendingRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(body.PendingTicket) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing pending ticket"})
		return
	}

	if !h.allowVerify(c, body.PendingTicket) {
		return
	}

	dispatchToken, errIssue := h.machine.RequestOTP(c.Request.Context(), body.PendingTicket)
	if errIssue != nil {
		if errors.Is(errIssue, authflow.ErrInvalidTicket) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid pending ticket"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "issue code failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"dispatch-token": dispatchToken})
}

// OTPStatus reports the delivery outcome of an issued code so a client
// is never stranded by a silent mail failure.
func (h *LoginHandler) OTPStatus(c *gin.Context) {
	dispatchToken := strings.TrimSpace(c.Query("dispatch-token"))
	if dispatchToken == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing dispatch token"})
		return
	}
	status, errStatus := h.codes.Status(c.Request.Context(), dispatchToken)
	if errStatus != nil {
		if errors.Is(errStatus, otp.ErrDispatchNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "dispatch not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load dispatch failed"})
		return
	}
	c.JSON(http.StatusOK, status)
}

type verifyCodeRequest struct {
	PendingTicket string `json:"pending-ticket"`
	Code          string `json:"code"`
}

// VerifyOTP completes a pending login with an emailed code.
func (h *LoginHandler) VerifyOTP(c *gin.Context) {
	h.verifyCode(c, h.machine.SubmitOTP)
}

// LoginTOTP completes a pending login with an authenticator code.
func (h *LoginHandler) LoginTOTP(c *gin.Context) {
	h.verifyCode(c, h.machine.SubmitTOTP)
}

func (h *LoginHandler) verifyCode(c *gin.Context, submit func(ctx context.Context, ticket, code string, dev authflow.Device) (*authflow.Outcome, error)) {
	var body verifyCodeRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(body.PendingTicket) == "" || strings.TrimSpace(body.Code) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing pending ticket or code"})
		return
	}

	if !h.allowVerify(c, body.PendingTicket) {
		return
	}

	outcome, errSubmit := submit(c.Request.Context(), body.PendingTicket, strings.TrimSpace(body.Code), device(c))
	if errSubmit != nil {
		switch {
		case errors.Is(errSubmit, authflow.ErrInvalidTicket):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid pending ticket"})
		case errors.Is(errSubmit, authflow.ErrInvalidCode):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "verification failed"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "verification failed"})
		}
		return
	}
	c.JSON(http.StatusOK, sessionResponse(outcome))
}

// LoginPasskeyOptions opens a passkey ceremony for a pending login.
func (h *LoginHandler) LoginPasskeyOptions(c *gin.Context) {
	var body pendingRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(body.PendingTicket) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing pending ticket"})
		return
	}

	if !h.allowVerify(c, body.PendingTicket) {
		return
	}

	assertion, challengeID, errBegin := h.machine.BeginPasskey(c.Request.Context(), body.PendingTicket)
	if errBegin != nil {
		switch {
		case errors.Is(errBegin, authflow.ErrInvalidTicket):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid pending ticket"})
		case errors.Is(errBegin, passkey.ErrNoCredentials):
			c.JSON(http.StatusBadRequest, gin.H{"error": "no passkeys registered"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "begin passkey login failed"})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"challenge-id": challengeID,
		"options":      assertion,
	})
}

type passkeyVerifyRequest struct {
	PendingTicket string          `json:"pending-ticket"`
	ChallengeID   string          `json:"challenge-id"`
	Response      json.RawMessage `json:"response"`
}

// LoginPasskeyVerify completes a pending login with a signed assertion.
func (h *LoginHandler) LoginPasskeyVerify(c *gin.Context) {
	var body passkeyVerifyRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(body.PendingTicket) == "" || strings.TrimSpace(body.ChallengeID) == "" || len(body.Response) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing pending ticket, challenge or response"})
		return
	}

	if !h.allowVerify(c, body.PendingTicket) {
		return
	}

	outcome, errSubmit := h.machine.SubmitPasskey(c.Request.Context(), body.PendingTicket, body.ChallengeID, body.Response, device(c))
	if errSubmit != nil {
		switch {
		case errors.Is(errSubmit, authflow.ErrInvalidTicket):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid pending ticket"})
		case errors.Is(errSubmit, passkey.ErrInvalidChallenge),
			errors.Is(errSubmit, passkey.ErrChallengeExpired),
			errors.Is(errSubmit, passkey.ErrSignatureMismatch):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "verification failed"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "verification failed"})
		}
		return
	}
	c.JSON(http.StatusOK, sessionResponse(outcome))
}

func (h *LoginHandler) allowLogin(c *gin.Context, email string) bool {
	result, errAllow := h.limiter.AllowLogin(c.Request.Context(), email, c.ClientIP())
	if errAllow == nil && !result.Allowed {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many attempts"})
		return false
	}
	return true
}

func (h *LoginHandler) allowVerify(c *gin.Context, subject string) bool {
	result, errAllow := h.limiter.AllowVerify(c.Request.Context(), subject, c.ClientIP())
	if errAllow == nil && !result.Allowed {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many attempts"})
		return false
	}
	return true
}
