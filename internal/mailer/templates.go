package mailer

import (
	"fmt"
	"html"
)

const emailShell = `<!DOCTYPE html>
<html>
  <head>
    <meta charset="utf-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <style>
      body { font-family: 'Helvetica Neue', Helvetica, Arial, sans-serif; line-height: 1.6; color: #f9f9f9; background-color: #080808; margin: 0; padding: 0; }
      .container { max-width: 600px; margin: 0 auto; padding: 24px; background-color: #121212; border-radius: 8px; border: 1px solid #333; }
      .header { text-align: center; padding: 24px 0; border-bottom: 1px solid #333; }
      .header h1 { margin: 0; color: white; font-weight: 600; }
      .content { padding: 32px 0; }
      .content p { margin: 12px 0; }
      .code { font-size: 32px; letter-spacing: 8px; text-align: center; padding: 16px 0; color: #8b5cf6; font-weight: 600; }
      .button { display: inline-block; padding: 12px 24px; background: linear-gradient(to right, #8b5cf6, #6366f1); color: white; text-decoration: none; border-radius: 6px; }
      .footer { text-align: center; padding: 20px 0; color: #999; font-size: 12px; border-top: 1px solid #333; }
    </style>
  </head>
  <body>
    <div class="container">
      <div class="header"><h1>SafeCircle</h1></div>
      <div class="content">%s</div>
      <div class="footer">You are receiving this email because of activity on your SafeCircle account. If this wasn't you, please secure your account.</div>
    </div>
  </body>
</html>`

// SignInCodeEmail renders the one-time sign-in code message.
func SignInCodeEmail(name, code string) Message {
	body := fmt.Sprintf(`<p>Hi %s,</p>
<p>Use this code to finish signing in. It expires in 5 minutes.</p>
<div class="code">%s</div>
<p>If you did not try to sign in, you can ignore this email.</p>`,
		html.EscapeString(displayName(name)), html.EscapeString(code))
	return Message{Subject: "Your SafeCircle sign-in code", HTML: fmt.Sprintf(emailShell, body)}
}

// VerificationEmail renders the address verification message.
func VerificationEmail(name, verifyURL string) Message {
	body := fmt.Sprintf(`<p>Hi %s,</p>
<p>Welcome to SafeCircle. Confirm your email address to activate your account.</p>
<p style="text-align:center"><a class="button" href="%s">Verify Email</a></p>
<p>This link expires in 24 hours.</p>`,
		html.EscapeString(displayName(name)), html.EscapeString(verifyURL))
	return Message{Subject: "Verify your SafeCircle account", HTML: fmt.Sprintf(emailShell, body)}
}

// PasswordResetEmail renders the password reset message.
func PasswordResetEmail(name, resetURL string) Message {
	body := fmt.Sprintf(`<p>Hi %s,</p>
<p>We received a request to reset your password.</p>
<p style="text-align:center"><a class="button" href="%s">Reset Password</a></p>
<p>This link expires in 1 hour. If you did not request a reset, no action is needed.</p>`,
		html.EscapeString(displayName(name)), html.EscapeString(resetURL))
	return Message{Subject: "Reset your SafeCircle password", HTML: fmt.Sprintf(emailShell, body)}
}

func displayName(name string) string {
	if name == "" {
		return "there"
	}
	return name
}
