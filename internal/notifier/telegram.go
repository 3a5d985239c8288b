package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Alert is the payload handed to a notification channel.
type Alert struct {
	ServerName string
	RuleName   string
	MetricName string
	Value      float64
	Threshold  float64
	Comparison string
	Status     string
}

type Telegram struct {
	Token  string
	ChatID string
	HTTP   *http.Client
	now    func() time.Time
}

func NewTelegram(token, chatID string) *Telegram {
	return &Telegram{
		Token:  token,
		ChatID: chatID,
		HTTP:   &http.Client{Timeout: 10 * time.Second},
		now:    time.Now,
	}
}

func (t *Telegram) Enabled() bool {
	return t.Token != "" && t.ChatID != ""
}

// SendAlert formats and delivers an alert message. Delivery problems are
// reported as a boolean so a failed notification can never unwind the
// evaluation that produced it.
func (t *Telegram) SendAlert(ctx context.Context, a Alert) bool {
	return t.Send(ctx, formatAlert(a, t.now().UTC())) == nil
}

func (t *Telegram) Send(ctx context.Context, msg string) error {
	if !t.Enabled() {
		return fmt.Errorf("telegram not configured")
	}
	payload := map[string]any{"chat_id": t.ChatID, "text": msg, "parse_mode": "HTML", "disable_web_page_preview": true}
	b, _ := json.Marshal(payload)
	u := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.Token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := t.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	resp, _ := io.ReadAll(io.LimitReader(res.Body, 2048))
	if res.StatusCode >= 300 {
		return fmt.Errorf("telegram status %d: %s", res.StatusCode, string(resp))
	}
	return nil
}

func formatAlert(a Alert, ts time.Time) string {
	indicator := "\U0001F7E2" // green circle
	if a.Status == "triggered" {
		indicator = "\U0001F534" // red circle
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s <b>Alert %s</b>\n\n", indicator, strings.ToUpper(a.Status))
	fmt.Fprintf(&b, "<b>Server:</b> %s\n", a.ServerName)
	fmt.Fprintf(&b, "<b>Alert:</b> %s\n", a.RuleName)
	fmt.Fprintf(&b, "<b>Metric:</b> %s\n", a.MetricName)
	fmt.Fprintf(&b, "<b>Current Value:</b> %.2f\n", a.Value)
	fmt.Fprintf(&b, "<b>Threshold:</b> %s %g\n\n", a.Comparison, a.Threshold)
	fmt.Fprintf(&b, "<i>Timestamp: %s UTC</i>", ts.Format("2006-01-02 15:04:05"))
	return b.String()
}
