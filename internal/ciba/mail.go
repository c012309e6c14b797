package ciba

import (
	"context"
	"crypto/tls"
	"fmt"
	"html"
	"strings"
	"time"

	mail "github.com/go-mail/mail"

	"github.com/dropDatabas3/grantengine/internal/observability/logger"
)

// UserPrompt es el aviso al usuario final de que un cliente pide autenticación.
type UserPrompt struct {
	To             string
	ClientName     string
	BindingMessage string
	Scopes         []string
	AuthReqID      string
	ExpiresAt      time.Time
}

// UserNotifier avisa al usuario final por un canal fuera de banda.
type UserNotifier interface {
	NotifyUser(ctx context.Context, p UserPrompt) error
}

// SMTPConfig contiene la configuración para conectarse a un servidor SMTP.
type SMTPConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	FromEmail string `yaml:"from"`
	// "auto" | "starttls" | "ssl" | "none"
	TLSMode            string `yaml:"tls_mode"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
	// ApproveURL recibe ?auth_req_id=...; vacío = el mail no lleva link.
	ApproveURL string `yaml:"approve_url"`
}

// SMTPNotifier implementa UserNotifier usando SMTP.
type SMTPNotifier struct {
	cfg  SMTPConfig
	send func(m *mail.Message) error
}

func NewSMTPNotifier(cfg SMTPConfig) *SMTPNotifier {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.TLSMode == "" {
		cfg.TLSMode = "auto"
	}
	n := &SMTPNotifier{cfg: cfg}
	n.send = n.dialAndSend
	return n
}

// NotifyUser arma el mail (texto + html) y lo envía. El contexto solo se usa para logging;
// go-mail no acepta cancelación.
func (n *SMTPNotifier) NotifyUser(ctx context.Context, p UserPrompt) error {
	log := logger.From(ctx).With(
		logger.Component("ciba.smtp"),
		logger.String("host", n.cfg.Host),
		logger.Int("port", n.cfg.Port),
		logger.AuthReqID(p.AuthReqID),
	)

	m := n.message(p)
	if err := n.send(m); err != nil {
		log.Error("smtp send failed", logger.Err(err))
		return fmt.Errorf("smtp send: %w", err)
	}
	log.Debug("authentication request mail sent")
	return nil
}

func (n *SMTPNotifier) message(p UserPrompt) *mail.Message {
	textBody, htmlBody := renderPrompt(p, n.cfg.ApproveURL)
	m := mail.NewMessage()
	m.SetHeader("From", n.cfg.FromEmail)
	m.SetHeader("To", p.To)
	m.SetHeader("Subject", fmt.Sprintf("%s is requesting access to your account", p.ClientName))
	m.SetBody("text/plain", textBody)
	m.AddAlternative("text/html", htmlBody)
	return m
}

func (n *SMTPNotifier) dialAndSend(m *mail.Message) error {
	d := mail.NewDialer(n.cfg.Host, n.cfg.Port, n.cfg.Username, n.cfg.Password)
	d.TLSConfig = &tls.Config{
		ServerName:         n.cfg.Host,
		InsecureSkipVerify: n.cfg.InsecureSkipVerify, // solo dev
	}
	switch n.cfg.TLSMode {
	case "ssl":
		d.SSL = true
	case "none":
		d.TLSConfig = &tls.Config{InsecureSkipVerify: n.cfg.InsecureSkipVerify}
	default:
		// "auto"/"starttls": go-mail negocia STARTTLS si corresponde
	}
	return d.DialAndSend(m)
}

func renderPrompt(p UserPrompt, approveURL string) (string, string) {
	var tb, hb strings.Builder
	fmt.Fprintf(&tb, "%s is asking you to approve a sign-in.\n", p.ClientName)
	fmt.Fprintf(&hb, "<p><strong>%s</strong> is asking you to approve a sign-in.</p>", html.EscapeString(p.ClientName))
	if p.BindingMessage != "" {
		fmt.Fprintf(&tb, "Confirm the code shown on the device: %s\n", p.BindingMessage)
		fmt.Fprintf(&hb, "<p>Confirm the code shown on the device: <code>%s</code></p>", html.EscapeString(p.BindingMessage))
	}
	if len(p.Scopes) > 0 {
		fmt.Fprintf(&tb, "Requested access: %s\n", strings.Join(p.Scopes, ", "))
		fmt.Fprintf(&hb, "<p>Requested access: %s</p>", html.EscapeString(strings.Join(p.Scopes, ", ")))
	}
	if approveURL != "" {
		link := approveURL + "?auth_req_id=" + p.AuthReqID
		fmt.Fprintf(&tb, "Review the request: %s\n", link)
		fmt.Fprintf(&hb, `<p><a href="%s">Review the request</a></p>`, html.EscapeString(link))
	}
	fmt.Fprintf(&tb, "The request expires at %s.\n", p.ExpiresAt.UTC().Format(time.RFC1123))
	fmt.Fprintf(&hb, "<p>The request expires at %s.</p>", p.ExpiresAt.UTC().Format(time.RFC1123))
	return tb.String(), hb.String()
}
