// Package authflow orchestrates login: first-factor check, conditional
// second-factor challenge and session issuance.
package authflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-webauthn/webauthn/protocol"
	log "github.com/sirupsen/logrus"

	"github.com/safecircle-tech/authd/internal/config"
	"github.com/safecircle-tech/authd/internal/credential"
	"github.com/safecircle-tech/authd/internal/models"
	"github.com/safecircle-tech/authd/internal/otp"
	"github.com/safecircle-tech/authd/internal/passkey"
	"github.com/safecircle-tech/authd/internal/security"
	"github.com/safecircle-tech/authd/internal/session"
)

var (
	// ErrInvalidCredentials rejects a login without revealing whether the
	// email exists or the password was wrong.
	ErrInvalidCredentials = errors.New("authflow: invalid credentials")
	// ErrEmailNotVerified rejects logins for unverified addresses.
	ErrEmailNotVerified = errors.New("authflow: email not verified")
	// ErrInvalidCode rejects a second-factor code without revealing
	// whether it was wrong, expired or already used.
	ErrInvalidCode = errors.New("authflow: invalid code")
	// ErrInvalidTicket rejects an unknown or expired pending ticket.
	ErrInvalidTicket = errors.New("authflow: invalid pending ticket")
)

// Device captures the request attributes a new session is bound to.
type Device struct {
	UserAgent string
	IPAddress string
}

// Outcome is the result of a first-factor login attempt. Either Session
// is set (login complete) or PendingToken is set and the caller must
// complete a second factor.
type Outcome struct {
	User                 *models.User
	Session              *models.Session
	SecondFactorRequired bool
	PendingToken         string
}

// Machine drives the login state transitions. It is the only component
// that creates sessions from authentication outcomes.
type Machine struct {
	credentials *credential.Verifier
	codes       *otp.Issuer
	passkeys    *passkey.Verifier
	sessions    *session.Manager
	jwt         config.JWTConfig
}

// NewMachine wires the collaborators together.
func NewMachine(credentials *credential.Verifier, codes *otp.Issuer, passkeys *passkey.Verifier, sessions *session.Manager, jwt config.JWTConfig) *Machine {
	return &Machine{
		credentials: credentials,
		codes:       codes,
		passkeys:    passkeys,
		sessions:    sessions,
		jwt:         jwt,
	}
}

// Login checks the password factor. Without two-factor enabled it issues
// a session directly; otherwise it returns a short-lived pending ticket
// binding the verified identity to the upcoming second factor, and no
// session is created yet.
func (m *Machine) Login(ctx context.Context, email, password string, dev Device) (*Outcome, error) {
	user, err := m.credentials.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user == nil || !security.CheckPassword(user.Password, password) {
		return nil, ErrInvalidCredentials
	}
	if !user.EmailVerified {
		return nil, ErrEmailNotVerified
	}

	if !user.TwoFactorEnabled {
		sess, err := m.authenticate(ctx, user, dev)
		if err != nil {
			return nil, err
		}
		return &Outcome{User: user, Session: sess}, nil
	}

	ticket, err := security.IssuePendingToken(m.jwt.Secret, user.ID, m.jwt.Expiry)
	if err != nil {
		return nil, fmt.Errorf("authflow: issue pending ticket: %w", err)
	}
	return &Outcome{User: user, SecondFactorRequired: true, PendingToken: ticket}, nil
}

// resolvePending maps a pending ticket back to the user it was issued
// for. Every second-factor submission goes through this so a code can
// never be applied to a different account.
func (m *Machine) resolvePending(ctx context.Context, ticket string) (*models.User, error) {
	claims, err := security.ParsePendingToken(m.jwt.Secret, ticket)
	if err != nil {
		return nil, ErrInvalidTicket
	}
	user, err := m.credentials.FindByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, credential.ErrUserNotFound) {
			return nil, ErrInvalidTicket
		}
		return nil, err
	}
	return user, nil
}

// RequestOTP issues a one-time code for the pending login and dispatches
// it by email. Returns the dispatch token the client can poll for
// delivery failures.
func (m *Machine) RequestOTP(ctx context.Context, pendingTicket string) (string, error) {
	user, err := m.resolvePending(ctx, pendingTicket)
	if err != nil {
		return "", err
	}
	return m.codes.Issue(ctx, user)
}

// SubmitOTP completes the login with an emailed one-time code.
func (m *Machine) SubmitOTP(ctx context.Context, pendingTicket, code string, dev Device) (*Outcome, error) {
	user, err := m.resolvePending(ctx, pendingTicket)
	if err != nil {
		return nil, err
	}
	if !m.codes.Verify(ctx, user.ID, code) {
		return nil, ErrInvalidCode
	}
	sess, err := m.authenticate(ctx, user, dev)
	if err != nil {
		return nil, err
	}
	return &Outcome{User: user, Session: sess}, nil
}

// SubmitTOTP completes the login with an authenticator code.
func (m *Machine) SubmitTOTP(ctx context.Context, pendingTicket, code string, dev Device) (*Outcome, error) {
	user, err := m.resolvePending(ctx, pendingTicket)
	if err != nil {
		return nil, err
	}
	if !m.credentials.VerifyTOTP(ctx, user.ID, code) {
		return nil, ErrInvalidCode
	}
	sess, err := m.authenticate(ctx, user, dev)
	if err != nil {
		return nil, err
	}
	return &Outcome{User: user, Session: sess}, nil
}

// BeginPasskey opens a passkey login ceremony for the pending login.
func (m *Machine) BeginPasskey(ctx context.Context, pendingTicket string) (*protocol.CredentialAssertion, string, error) {
	user, err := m.resolvePending(ctx, pendingTicket)
	if err != nil {
		return nil, "", err
	}
	return m.passkeys.BeginAuthentication(ctx, user)
}

// SubmitPasskey completes the login with a signed passkey assertion.
func (m *Machine) SubmitPasskey(ctx context.Context, pendingTicket, challengeID string, responseJSON []byte, dev Device) (*Outcome, error) {
	user, err := m.resolvePending(ctx, pendingTicket)
	if err != nil {
		return nil, err
	}
	if err := m.passkeys.FinishAuthentication(ctx, user, challengeID, responseJSON); err != nil {
		return nil, err
	}
	sess, err := m.authenticate(ctx, user, dev)
	if err != nil {
		return nil, err
	}
	return &Outcome{User: user, Session: sess}, nil
}

// authenticate is the single place a login issues a session.
func (m *Machine) authenticate(ctx context.Context, user *models.User, dev Device) (*models.Session, error) {
	sess, err := m.sessions.Create(ctx, user.ID, dev.UserAgent, dev.IPAddress)
	if err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{
		"user_id": user.ID,
		"device":  sess.Fingerprint,
	}).Info("login completed")
	return sess, nil
}
