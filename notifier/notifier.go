package notifier

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"log"
	"os"
	"time"

	"github.com/wneessen/go-mail"

	"github.com/pauldest/newsdigest/config"
	"github.com/pauldest/newsdigest/models"
)

const (
	smtpAttempts  = 3
	smtpTimeout   = 30 * time.Second
	trendChartCID = "trend_chart"
)

// sendFunc dispatches one built message; swapped in tests.
type sendFunc func(ctx context.Context, msg *mail.Msg) error

// Notifier renders the digest HTML once and transmits it per recipient
// over SMTP. Success means at least one recipient got the message.
type Notifier struct {
	cfg          config.EmailConfig
	templatePath string
	logger       *log.Logger

	send  sendFunc
	sleep func(context.Context, time.Duration) error
}

// New builds a Notifier. templatePath may point to a custom html/template
// file; the built-in fallback renders when it is absent or broken.
func New(cfg config.EmailConfig, templatePath string, logger *log.Logger) *Notifier {
	if logger == nil {
		logger = log.New(log.Writer(), "[NOTIFIER] ", log.LstdFlags)
	}
	n := &Notifier{cfg: cfg, templatePath: templatePath, logger: logger}
	n.send = n.smtpSend
	n.sleep = func(ctx context.Context, d time.Duration) error {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			return nil
		}
	}
	return n
}

// SendDigest renders and delivers the digest, optionally embedding a trend
// chart PNG inline. Per-recipient failures are logged and do not stop the
// other recipients; the return is true iff at least one send succeeded.
func (n *Notifier) SendDigest(ctx context.Context, digest models.Digest, chartPNG []byte) bool {
	if len(n.cfg.ToAddrs) == 0 {
		n.logger.Printf("no recipients configured")
		return false
	}

	html, err := n.render(digest)
	if err != nil {
		n.logger.Printf("render failed: %v", err)
		return false
	}
	subject := "AI Digest - " + digest.Date.Format("2006-01-02")

	delivered := 0
	for _, recipient := range n.cfg.ToAddrs {
		if err := n.sendToRecipient(ctx, recipient, subject, html, chartPNG); err != nil {
			n.logger.Printf("recipient %s failed: %v", recipient, err)
			continue
		}
		delivered++
	}
	n.logger.Printf("digest delivered to %d/%d recipients", delivered, len(n.cfg.ToAddrs))
	return delivered > 0
}

// sendToRecipient builds a fresh message for one recipient (no shared To
// list, no BCC) and retries with capped exponential backoff.
func (n *Notifier) sendToRecipient(ctx context.Context, recipient, subject, html string, chartPNG []byte) error {
	var lastErr error
	for attempt := 0; attempt < smtpAttempts; attempt++ {
		msg, err := n.buildMessage(recipient, subject, html, chartPNG)
		if err != nil {
			return err
		}
		if err := n.send(ctx, msg); err != nil {
			lastErr = err
			n.logger.Printf("attempt %d/%d to %s failed: %v", attempt+1, smtpAttempts, recipient, err)
			if attempt < smtpAttempts-1 {
				if serr := n.sleep(ctx, backoff(attempt)); serr != nil {
					return serr
				}
			}
			continue
		}
		return nil
	}
	return fmt.Errorf("all %d attempts failed: %w", smtpAttempts, lastErr)
}

func backoff(attempt int) time.Duration {
	secs := 1 << attempt
	if secs > 30 {
		secs = 30
	}
	return time.Duration(secs) * time.Second
}

func (n *Notifier) buildMessage(recipient, subject, html string, chartPNG []byte) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.FromFormat(n.cfg.FromName, n.cfg.FromAddr); err != nil {
		return nil, fmt.Errorf("from address: %w", err)
	}
	if err := msg.To(recipient); err != nil {
		return nil, fmt.Errorf("to address: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextHTML, html)

	if len(chartPNG) > 0 {
		msg.EmbedReader("trend_chart.png", bytes.NewReader(chartPNG),
			mail.WithFileContentID(trendChartCID),
			mail.WithFileContentType(mail.ContentType("image/png")))
	}
	return msg, nil
}

func (n *Notifier) smtpSend(ctx context.Context, msg *mail.Msg) error {
	opts := []mail.Option{
		mail.WithPort(n.cfg.SMTPPort),
		mail.WithUsername(n.cfg.Username),
		mail.WithPassword(n.cfg.Password),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithTimeout(smtpTimeout),
	}
	if n.cfg.UseSSL {
		opts = append(opts, mail.WithSSL())
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	}

	client, err := mail.NewClient(n.cfg.SMTPHost, opts...)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	return client.DialAndSendWithContext(ctx, msg)
}

// render produces the digest HTML, preferring the configured template file
// and falling back to the built-in one. html/template escapes all dynamic
// text.
func (n *Notifier) render(digest models.Digest) (string, error) {
	data := struct {
		models.Digest
		DateStr  string
		HasChart bool
	}{Digest: digest, DateStr: digest.Date.Format("2006-01-02")}

	if n.templatePath != "" {
		if raw, err := os.ReadFile(n.templatePath); err == nil {
			if tpl, terr := template.New("digest").Parse(string(raw)); terr == nil {
				var buf bytes.Buffer
				if rerr := tpl.Execute(&buf, data); rerr == nil {
					return buf.String(), nil
				}
			}
			n.logger.Printf("custom template unusable, using fallback")
		}
	}

	tpl, err := template.New("digest").Parse(fallbackTemplate)
	if err != nil {
		return "", fmt.Errorf("fallback template: %w", err)
	}
	var buf bytes.Buffer
	if err := tpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render digest: %w", err)
	}
	return buf.String(), nil
}
