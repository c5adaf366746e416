package service

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type telegramServer struct {
	mu    sync.Mutex
	texts []string
}

func (s *telegramServer) handler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch {
	case strings.HasSuffix(r.URL.Path, "/getMe"):
		w.Write([]byte(`{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"b","username":"b"}}`))
	case strings.HasSuffix(r.URL.Path, "/sendMessage"):
		_ = r.ParseForm()
		s.mu.Lock()
		s.texts = append(s.texts, r.FormValue("text"))
		s.mu.Unlock()
		w.Write([]byte(`{"ok":true,"result":{"message_id":1,"chat":{"id":123},"date":0,"text":"x"}}`))
	default:
		http.NotFound(w, r)
	}
}

func (s *telegramServer) sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.texts...)
}

func TestTelegramService_SendsQueuedMessages(t *testing.T) {
	fake := &telegramServer{}
	srv := httptest.NewServer(http.HandlerFunc(fake.handler))
	defer srv.Close()

	svc, err := newTelegramService("token", "123", srv.URL+"/bot%s/%s", srv.Client())
	require.NoError(t, err)

	svc.Notify("🟢 Bot started. Ready to trade.")
	svc.Notify("✅ Trade completed!")
	svc.Close()

	assert.Equal(t, []string{"🟢 Bot started. Ready to trade.", "✅ Trade completed!"}, fake.sent())
}

func TestTelegramService_NoCredentials(t *testing.T) {
	svc, err := NewTelegramService("", "")
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		svc.Notify("hello")
		svc.Close()
		svc.Close()
	})
}

func TestTelegramService_InvalidChatID(t *testing.T) {
	_, err := newTelegramService("token", "not-a-number", "http://127.0.0.1/bot%s/%s", http.DefaultClient)
	assert.Error(t, err)
}

func TestTelegramService_LoginFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":false,"error_code":401,"description":"Unauthorized"}`))
	}))
	defer srv.Close()

	_, err := newTelegramService("bad", "123", srv.URL+"/bot%s/%s", srv.Client())
	assert.Error(t, err)
}
