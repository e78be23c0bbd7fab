package notification

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"

	"github.com/fuomag9/inframirror/internal/models"
)

type recorded struct {
	path  string
	query url.Values
	form  url.Values
	body  map[string]any
}

// recordingServer answers every request with reply and keeps the last one
func recordingServer(t *testing.T, reply string) (*recorded, string) {
	t.Helper()
	rec := &recorded{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.path = r.URL.Path
		rec.query = r.URL.Query()
		if r.Header.Get("Content-Type") == "application/x-www-form-urlencoded" {
			_ = r.ParseForm()
			rec.form = r.PostForm
		} else {
			_ = json.NewDecoder(r.Body).Decode(&rec.body)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(reply))
	}))
	t.Cleanup(srv.Close)
	return rec, srv.URL
}

func downMessage() *Message {
	return &Message{
		Title:       "web is down",
		Body:        "connection refused",
		Kind:        KindDown,
		MonitorID:   7,
		MonitorName: "web <prod>",
		MonitorURL:  "https://example.com",
		Status:      models.StatusDown,
		ErrorType:   "connection_refused",
		Ping:        12,
		Time:        "2024-03-01T12:00:00Z",
		Important:   true,
	}
}

func send(t *testing.T, typ string, config map[string]any, msg *Message) error {
	t.Helper()
	p, ok := GetProvider(typ)
	assert.Assert(t, ok, typ)
	n := &models.Notification{Name: typ, Type: typ, Active: true, Config: config}
	assert.NilError(t, Validate(n))
	return p.Send(context.Background(), n, msg)
}

func TestTelegramProvider(t *testing.T) {
	rec, base := recordingServer(t, `{"ok":true}`)
	err := send(t, "telegram", map[string]any{"bot_token": "123:abc", "chat_id": "42", "api_url": base}, downMessage())
	assert.NilError(t, err)
	assert.Equal(t, rec.path, "/bot123:abc/sendMessage")
	assert.Equal(t, rec.body["chat_id"], "42")
	assert.Equal(t, rec.body["parse_mode"], "HTML")
	assert.Check(t, is.Contains(rec.body["text"], "web &lt;prod&gt;"))

	_, base = recordingServer(t, `{"ok":false,"description":"chat not found"}`)
	err = send(t, "telegram", map[string]any{"bot_token": "123:abc", "chat_id": "42", "api_url": base}, downMessage())
	assert.ErrorContains(t, err, "chat not found")
}

func TestPagerDutyProvider(t *testing.T) {
	rec, base := recordingServer(t, `{"status":"success"}`)
	config := map[string]any{"integration_key": "key", "events_url": base}

	assert.NilError(t, send(t, "pagerduty", config, downMessage()))
	assert.Equal(t, rec.body["event_action"], "trigger")
	assert.Equal(t, rec.body["dedup_key"], "inframirror-monitor-7")
	payload := rec.body["payload"].(map[string]any)
	assert.Equal(t, payload["severity"], "critical")

	up := downMessage()
	up.Kind, up.Status, up.Important = KindUp, models.StatusUp, false
	assert.NilError(t, send(t, "pagerduty", config, up))
	assert.Equal(t, rec.body["event_action"], "resolve")
	assert.Equal(t, rec.body["dedup_key"], "inframirror-monitor-7")

	_, base = recordingServer(t, `{"status":"invalid event","message":"bad key"}`)
	err := send(t, "pagerduty", map[string]any{"integration_key": "key", "events_url": base}, downMessage())
	assert.ErrorContains(t, err, "bad key")
}

func TestPushoverProvider(t *testing.T) {
	rec, base := recordingServer(t, `{"status":1}`)
	err := send(t, "pushover", map[string]any{"user_key": "u", "api_token": "tok", "api_url": base, "sound": "siren"}, downMessage())
	assert.NilError(t, err)
	assert.Equal(t, rec.form.Get("token"), "tok")
	assert.Equal(t, rec.form.Get("user"), "u")
	assert.Equal(t, rec.form.Get("priority"), "1")
	assert.Equal(t, rec.form.Get("sound"), "siren")
	assert.Equal(t, rec.form.Get("url"), "https://example.com")
}

func TestGotifyProvider(t *testing.T) {
	rec, base := recordingServer(t, `{}`)
	err := send(t, "gotify", map[string]any{"server_url": base + "/", "app_token": "a&b"}, downMessage())
	assert.NilError(t, err)
	assert.Equal(t, rec.path, "/message")
	assert.Equal(t, rec.query.Get("token"), "a&b")
	assert.Equal(t, rec.body["priority"], float64(8))
}

func TestTeamsProvider(t *testing.T) {
	rec, base := recordingServer(t, `{}`)
	assert.NilError(t, send(t, "teams", map[string]any{"webhook_url": base}, downMessage()))
	assert.Equal(t, rec.body["@type"], "MessageCard")
	assert.Equal(t, rec.body["themeColor"], "E01E5A")
	assert.Equal(t, rec.body["title"], "web is down")
}

func TestProviderValidation(t *testing.T) {
	tests := []struct {
		typ    string
		config map[string]any
	}{
		{"telegram", map[string]any{"bot_token": "x"}},
		{"gotify", map[string]any{"server_url": "https://gotify.example.com"}},
		{"pushover", map[string]any{"user_key": "u", "api_token": "t", "priority": float64(2)}},
		{"pagerduty", map[string]any{"integration_key": "k", "severity": "fatal"}},
		{"teams", map[string]any{}},
	}
	for _, tc := range tests {
		t.Run(tc.typ, func(t *testing.T) {
			err := Validate(&models.Notification{Type: tc.typ, Config: tc.config})
			var cfgErr *models.ConfigurationError
			assert.Assert(t, errors.As(err, &cfgErr))
			assert.Check(t, is.Contains(cfgErr.Fields, "config"))
		})
	}
}
