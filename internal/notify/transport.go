package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	tele "gopkg.in/telebot.v4"

	"cronix/internal/task"
)

// Transport delivers one rendered message to one destination.
type Transport interface {
	Send(ctx context.Context, message string) error
}

// NewTransport builds the transport for a stored notification config.
// Missing or malformed config fields are construction errors.
func NewTransport(n *task.Notification, client *http.Client) (Transport, error) {
	if client == nil {
		client = http.DefaultClient
	}
	switch n.Type {
	case task.NotifyWebhook:
		u := n.Config["url"]
		if u == "" {
			return nil, fmt.Errorf("webhook config requires url")
		}
		return &webhookTransport{url: u, client: client}, nil

	case task.NotifyTelegram:
		token := n.Config["bot_token"]
		chat := n.Config["chat_id"]
		if token == "" || chat == "" {
			return nil, fmt.Errorf("telegram config requires bot_token and chat_id")
		}
		chatID, err := strconv.ParseInt(chat, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("telegram chat_id %q is not numeric", chat)
		}
		// Offline settings skip the getMe probe; a bad token surfaces as a
		// send error instead.
		bot, err := tele.NewBot(tele.Settings{Token: token, Offline: true, Client: client})
		if err != nil {
			return nil, fmt.Errorf("telegram bot: %w", err)
		}
		return &telegramTransport{bot: bot, chatID: chatID}, nil

	case task.NotifyDingTalk:
		hook := n.Config["webhook_url"]
		secret := n.Config["secret"]
		if hook == "" || secret == "" {
			return nil, fmt.Errorf("dingtalk config requires webhook_url and secret")
		}
		return &dingtalkTransport{webhookURL: hook, secret: secret, client: client}, nil
	}
	return nil, fmt.Errorf("unknown notification type %q", n.Type)
}

// webhookTransport POSTs {"message": ...} to the configured URL.
type webhookTransport struct {
	url    string
	client *http.Client
}

func (t *webhookTransport) Send(ctx context.Context, message string) error {
	body, err := json.Marshal(map[string]string{"message": message})
	if err != nil {
		return err
	}
	return postJSON(ctx, t.client, t.url, body)
}

type telegramTransport struct {
	bot    *tele.Bot
	chatID int64
}

func (t *telegramTransport) Send(ctx context.Context, message string) error {
	_, err := t.bot.Send(tele.ChatID(t.chatID), message)
	return err
}

// dingtalkTransport signs each request with HMAC-SHA256 over
// "timestamp\nsecret" and appends timestamp and sign query parameters.
type dingtalkTransport struct {
	webhookURL string
	secret     string
	client     *http.Client
}

func (t *dingtalkTransport) Send(ctx context.Context, message string) error {
	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	signed := fmt.Sprintf("%s&timestamp=%s&sign=%s",
		t.webhookURL, ts, url.QueryEscape(dingtalkSign(ts, t.secret)))

	body, err := json.Marshal(map[string]any{
		"msgtype": "text",
		"text":    map[string]string{"content": message},
	})
	if err != nil {
		return err
	}
	return postJSON(ctx, t.client, signed, body)
}

func dingtalkSign(timestamp, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp + "\n" + secret))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func postJSON(ctx context.Context, client *http.Client, rawURL string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	return nil
}
