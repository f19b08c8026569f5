package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// UltraMsg sends WhatsApp messages through an UltraMsg instance
type UltraMsg struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewUltraMsg creates a WhatsApp relay. baseURL is the instance URL,
// e.g. https://api.ultramsg.com/instance123.
func NewUltraMsg(baseURL, token string, client *http.Client) *UltraMsg {
	return &UltraMsg{baseURL: strings.TrimRight(baseURL, "/"), token: token, client: client}
}

// Send posts one chat message
func (u *UltraMsg) Send(ctx context.Context, to, body string) error {
	form := url.Values{}
	form.Set("token", u.token)
	form.Set("to", to)
	form.Set("body", body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.baseURL+"/messages/chat", strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	return doRelay(u.client, req, "ultramsg")
}

// GoIP sends SMS through a GoIP GSM gateway
type GoIP struct {
	baseURL  string
	user     string
	password string
	line     string
	client   *http.Client
}

// NewGoIP creates an SMS relay
func NewGoIP(baseURL, user, password, line string, client *http.Client) *GoIP {
	return &GoIP{
		baseURL:  strings.TrimRight(baseURL, "/"),
		user:     user,
		password: password,
		line:     line,
		client:   client,
	}
}

// Send submits one SMS on the configured line
func (g *GoIP) Send(ctx context.Context, to, body string) error {
	q := url.Values{}
	q.Set("u", g.user)
	q.Set("p", g.password)
	q.Set("l", g.line)
	q.Set("n", to)
	q.Set("m", body)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/default/en_US/send.html?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	return doRelay(g.client, req, "goip")
}

func doRelay(client *http.Client, req *http.Request, name string) error {
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", name, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s returned status %d: %s", name, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	// GoIP answers 200 with an ERROR marker on rejected sends
	if strings.Contains(strings.ToUpper(string(body)), "ERROR") {
		return fmt.Errorf("%s rejected message: %s", name, strings.TrimSpace(string(body)))
	}
	return nil
}
