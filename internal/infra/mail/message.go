package mail

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"html/template"
	"mime"
	"net/mail"
	"strings"
	"time"
)

var (
	otpTemplate = template.Must(template.New("otp").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #1f2933;">
  <h2>Verify your TrnZio account</h2>
  <p>Use the code below to finish creating your dealer account.</p>
  <p style="font-size: 28px; letter-spacing: 6px; font-weight: bold;">{{.Code}}</p>
  <p>The code expires in {{.Minutes}} minutes ({{.ExpiresAt}} UTC). If you did not sign up, ignore this email.</p>
</body>
</html>`))

	welcomeTemplate = template.Must(template.New("welcome").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #1f2933;">
  <h2>Welcome to TrnZio</h2>
  <p>Your dealer account is ready.</p>
  <p>Your dealer code is <strong>{{.AccountCode}}</strong>. Use it, or your email address, to sign in.</p>
</body>
</html>`))
)

// Message is a single-part HTML email.
type Message struct {
	From    mail.Address
	To      string
	Subject string
	HTML    string
}

// Bytes renders the message with RFC 5322 headers and a base64 body.
func (m Message) Bytes(now time.Time) []byte {
	var buf bytes.Buffer

	writeHeader := func(key, value string) {
		buf.WriteString(key)
		buf.WriteString(": ")
		buf.WriteString(value)
		buf.WriteString("\r\n")
	}

	writeHeader("From", m.From.String())
	writeHeader("To", m.To)
	writeHeader("Subject", mime.QEncoding.Encode("utf-8", m.Subject))
	writeHeader("Date", now.UTC().Format(time.RFC1123Z))
	writeHeader("MIME-Version", "1.0")
	writeHeader("Content-Type", `text/html; charset="UTF-8"`)
	writeHeader("Content-Transfer-Encoding", "base64")
	buf.WriteString("\r\n")

	encoded := base64.StdEncoding.EncodeToString([]byte(m.HTML))
	for len(encoded) > 76 {
		buf.WriteString(encoded[:76])
		buf.WriteString("\r\n")
		encoded = encoded[76:]
	}
	buf.WriteString(encoded)
	buf.WriteString("\r\n")

	return buf.Bytes()
}

func renderOTP(code string, expiresAt, now time.Time) (string, error) {
	minutes := int(expiresAt.Sub(now).Round(time.Minute) / time.Minute)
	if minutes < 1 {
		minutes = 1
	}

	var body strings.Builder
	err := otpTemplate.Execute(&body, struct {
		Code      string
		Minutes   int
		ExpiresAt string
	}{
		Code:      code,
		Minutes:   minutes,
		ExpiresAt: expiresAt.UTC().Format("15:04"),
	})
	if err != nil {
		return "", fmt.Errorf("render otp email: %w", err)
	}
	return body.String(), nil
}

func renderWelcome(accountCode string) (string, error) {
	var body strings.Builder
	if err := welcomeTemplate.Execute(&body, struct{ AccountCode string }{accountCode}); err != nil {
		return "", fmt.Errorf("render welcome email: %w", err)
	}
	return body.String(), nil
}
