package sendgrid

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
)

// ErrMissingAPIKey is a configuration error; callers abort the whole run on it.
var ErrMissingAPIKey = errors.New("email api key is not configured")

type Client struct {
	APIKey  string
	BaseURL string
	HTTP    *http.Client
}

type Address struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// Message is either template-based (TemplateID + Data) or raw (Subject + HTML).
type Message struct {
	From    Address
	ReplyTo string
	To      Address

	TemplateID string
	Data       map[string]any

	Subject string
	HTML    string

	Categories []string
}

type personalization struct {
	To                  []Address      `json:"to"`
	Subject             string         `json:"subject,omitempty"`
	DynamicTemplateData map[string]any `json:"dynamic_template_data,omitempty"`
}

type content struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type sendPayload struct {
	Personalizations []personalization `json:"personalizations"`
	From             Address           `json:"from"`
	ReplyTo          *Address          `json:"reply_to,omitempty"`
	Subject          string            `json:"subject,omitempty"`
	Content          []content         `json:"content,omitempty"`
	TemplateID       string            `json:"template_id,omitempty"`
	Categories       []string          `json:"categories,omitempty"`
}

// SendError carries the provider's HTTP status for retry classification.
type SendError struct {
	Status int
	Body   string
}

func (e *SendError) Error() string {
	return fmt.Sprintf("email provider returned %d: %s", e.Status, e.Body)
}

func buildPayload(m Message) (sendPayload, error) {
	if m.To.Email == "" {
		return sendPayload{}, errors.New("recipient email is required")
	}
	if m.From.Email == "" {
		return sendPayload{}, errors.New("sender email is required")
	}
	p := sendPayload{
		Personalizations: []personalization{{To: []Address{m.To}}},
		From:             m.From,
		Categories:       m.Categories,
	}
	if m.ReplyTo != "" {
		p.ReplyTo = &Address{Email: m.ReplyTo}
	}
	switch {
	case m.TemplateID != "":
		p.TemplateID = m.TemplateID
		p.Personalizations[0].DynamicTemplateData = m.Data
	case m.HTML != "":
		p.Subject = m.Subject
		p.Content = []content{{Type: "text/html", Value: m.HTML}}
	default:
		return sendPayload{}, errors.New("either template id or html content is required")
	}
	return p, nil
}

// Send posts one message. The returned id is the provider's X-Message-Id when present.
func (c *Client) Send(ctx context.Context, m Message) (string, error) {
	if c.APIKey == "" {
		return "", ErrMissingAPIKey
	}
	payload, err := buildPayload(m)
	if err != nil {
		return "", err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	baseURL := strings.TrimRight(c.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.sendgrid.com"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v3/mail/send", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	hc := c.HTTP
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &SendError{Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.Header.Get("X-Message-Id"), nil
}

// IsTransient reports whether a send error is worth counting against the provider's health.
// Client-side rejections (bad address, bad template) are not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	var se *SendError
	if errors.As(err, &se) {
		return se.Status == http.StatusTooManyRequests || se.Status == http.StatusRequestTimeout || se.Status >= 500
	}
	var oe *net.OpError
	return errors.As(err, &oe)
}
