package rfid

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cardMap map[string]string

func (m cardMap) LookupCard(_ context.Context, id string) (string, bool, error) {
	name, ok := m[id]
	return name, ok, nil
}

type failingCards struct{}

func (failingCards) LookupCard(context.Context, string) (string, bool, error) {
	return "", false, errors.New("db down")
}

type recordingPublisher struct {
	mu   sync.Mutex
	taps []Tap
}

func (p *recordingPublisher) PublishTap(_ context.Context, tap Tap) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.taps = append(p.taps, tap)
	return nil
}

func newTestRouter(l *Listener) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	l.Register(r)
	return r
}

func post(r http.Handler, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestListenerKnownCard(t *testing.T) {
	session := NewSession(30 * time.Second)
	pub := &recordingPublisher{}
	l := NewListener("gate-a", session, cardMap{"A1B2C3": "Carol"}, pub)

	w := post(newTestRouter(l), "/rfid", `{"card_id":"a1b2c3"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "success", resp["status"])
	assert.Equal(t, "Carol", resp["person"])
	assert.Equal(t, false, resp["is_new"])

	assert.True(t, session.Check("Carol"))
	require.Len(t, pub.taps, 1)
	assert.Equal(t, "A1B2C3", pub.taps[0].CardID)
	assert.Equal(t, "gate-a", pub.taps[0].KioskID)
}

func TestListenerNewCard(t *testing.T) {
	session := NewSession(30 * time.Second)
	l := NewListener("gate-a", session, cardMap{}, nil)
	r := newTestRouter(l)

	w := post(r, "/", `{"card_id":"ffee01"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"new_card","message":"New card detected","is_new":true}`, w.Body.String())

	_, _, active := session.Active()
	assert.False(t, active)

	pending, ok := l.LastNewCard()
	require.True(t, ok)
	assert.Equal(t, "FFEE01", pending.CardID)

	req := httptest.NewRequest(http.MethodGet, "/rfid/pending", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "FFEE01")
}

func TestListenerInvalidPayload(t *testing.T) {
	l := NewListener("gate-a", NewSession(0), cardMap{}, nil)
	r := newTestRouter(l)

	for _, body := range []string{`not json`, `{}`, `{"card_id":"   "}`} {
		w := post(r, "/rfid", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
		assert.JSONEq(t, `{"status":"error","message":"Invalid data format"}`, w.Body.String())
	}
}

func TestListenerLookupFailure(t *testing.T) {
	session := NewSession(30 * time.Second)
	l := NewListener("gate-a", session, failingCards{}, nil)

	w := post(newTestRouter(l), "/rfid", `{"card_id":"abc"}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	_, _, active := session.Active()
	assert.False(t, active)
}
