package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"clientportal/internal/util"
)

// Notifier delivers login codes to users out of band.
type Notifier interface {
	SendLoginCode(ctx context.Context, email, code string) error
}

// Mailer sends login codes through an HTTP mail API.
type Mailer struct {
	apiURL string
	apiKey string
	from   string
	client *http.Client
}

// NewMailer builds a mail API client.
func NewMailer(apiURL, apiKey, from string) *Mailer {
	return &Mailer{
		apiURL: apiURL,
		apiKey: apiKey,
		from:   from,
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

type mailRequest struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
}

// SendLoginCode posts the code email to the mail API.
func (m *Mailer) SendLoginCode(ctx context.Context, email, code string) error {
	body, err := json.Marshal(mailRequest{
		From:    m.from,
		To:      email,
		Subject: "Your login code",
		Text:    fmt.Sprintf("Your login code is %s. It expires in 10 minutes.", code),
	})
	if err != nil {
		return fmt.Errorf("marshal mail request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.apiURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build mail request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.apiKey)
	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("mail api status %d: %s", resp.StatusCode, msg)
	}
	return nil
}

// LogNotifier writes codes to the log instead of sending email. Development
// only: it logs the plaintext code.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier builds a log-backed notifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// SendLoginCode logs the code with a masked recipient.
func (n *LogNotifier) SendLoginCode(ctx context.Context, email, code string) error {
	n.logger.Info("login code issued",
		"email", util.MaskEmail(email),
		"code", code,
	)
	return nil
}
