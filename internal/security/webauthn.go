package security

import (
	"fmt"

	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/safecircle-tech/authd/internal/config"
)

// NewWebAuthn builds a WebAuthn instance from relying-party config.
func NewWebAuthn(cfg config.WebAuthnConfig) (*webauthn.WebAuthn, error) {
	wa, err := webauthn.New(&webauthn.Config{
		RPDisplayName: cfg.RPDisplayName,
		RPID:          cfg.RPID,
		RPOrigins:     cfg.RPOrigins,
	})
	if err != nil {
		return nil, fmt.Errorf("webauthn: %w", err)
	}
	return wa, nil
}
