package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vedran77/courier/internal/auth"
	"github.com/vedran77/courier/internal/domain"
	"github.com/vedran77/courier/internal/presence"
	"github.com/vedran77/courier/internal/repository/memory"
	"github.com/vedran77/courier/internal/service"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const testSecret = "test-secret"

type testServer struct {
	srv      *httptest.Server
	registry *presence.Registry
	store    *memory.Store
}

func newTestServer(t *testing.T, opts Options) *testServer {
	t.Helper()
	store := memory.NewStore()
	reg := presence.NewRegistry()
	hub := NewHub(reg)

	relay := service.NewRelayService(store.Users(), store.Conversations(), store.Messages(), reg)
	relay.SetNotifier(NewHubNotifier(hub))
	schedules := service.NewScheduleService(store.ScheduledMessages(), store.Users())

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", ServeWS(hub, auth.NewJWTResolver(testSecret, store.Users()), Services{
		Relay:     relay,
		Schedules: schedules,
	}, opts))

	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return &testServer{srv: srv, registry: reg, store: store}
}

func (s *testServer) addUser(name string) domain.User {
	u := domain.User{ID: uuid.New(), Name: name, Email: name + "@example.com"}
	s.store.PutUser(u)
	return u
}

func (s *testServer) dial(t *testing.T, userID uuid.UUID) *websocket.Conn {
	t.Helper()
	token, err := auth.GenerateToken(userID, testSecret, time.Hour)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, s.wsURL()+"?token="+token, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func (s *testServer) wsURL() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/ws"
}

func send(t *testing.T, conn *websocket.Conn, eventType string, payload any) {
	t.Helper()
	evt, err := NewEvent(eventType, nil, payload)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, wsjson.Write(ctx, conn, evt))
}

// readUntil skips events until one of eventType arrives.
func readUntil(t *testing.T, conn *websocket.Conn, eventType string) Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		var evt Event
		require.NoError(t, wsjson.Read(ctx, conn, &evt))
		if evt.Type == eventType {
			return evt
		}
	}
}

func TestServeWS_RefusesBadToken(t *testing.T) {
	ts := newTestServer(t, Options{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, resp, err := websocket.Dial(ctx, ts.wsURL()+"?token=garbage", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = websocket.Dial(ctx, ts.wsURL(), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServeWS_MessageReachesBothSides(t *testing.T) {
	ts := newTestServer(t, Options{})
	alice := ts.addUser("alice")
	bob := ts.addUser("bob")

	a := ts.dial(t, alice.ID)
	b := ts.dial(t, bob.ID)
	require.Eventually(t, func() bool { return ts.registry.Len() == 2 }, 5*time.Second, 10*time.Millisecond)

	send(t, a, EventTypeNewMessage, NewMessagePayload{Sender: alice.ID, Receiver: bob.ID, Text: "hi"})

	for _, conn := range []*websocket.Conn{a, b} {
		evt := readUntil(t, conn, EventTypeMessage)
		require.NotNil(t, evt.ConversationID)

		var msgs []domain.Message
		require.NoError(t, json.Unmarshal(evt.Payload, &msgs))
		require.NotEmpty(t, msgs)
		last := msgs[len(msgs)-1]
		assert.Equal(t, "hi", last.Text)
		assert.Equal(t, alice.ID, last.MsgByUserID)

		evt = readUntil(t, conn, EventTypeConversation)
		var sums []domain.ConversationSummary
		require.NoError(t, json.Unmarshal(evt.Payload, &sums))
		assert.Len(t, sums, 1)
	}
}

func TestServeWS_PresenceSurvivesSecondTab(t *testing.T) {
	ts := newTestServer(t, Options{})
	alice := ts.addUser("alice")
	bob := ts.addUser("bob")

	b := ts.dial(t, bob.ID)
	tab1 := ts.dial(t, alice.ID)
	tab2 := ts.dial(t, alice.ID)
	require.Eventually(t, func() bool { return ts.registry.IsOnline(alice.ID) }, 5*time.Second, 10*time.Millisecond)

	tab1.Close(websocket.StatusNormalClosure, "")
	time.Sleep(100 * time.Millisecond)
	assert.True(t, ts.registry.IsOnline(alice.ID), "alice still has a live tab")

	tab2.Close(websocket.StatusNormalClosure, "")
	require.Eventually(t, func() bool { return !ts.registry.IsOnline(alice.ID) }, 5*time.Second, 10*time.Millisecond)

	// bob sees alice come online once and leave once.
	sawAlice := false
	for {
		evt := readUntil(t, b, EventTypeOnlineUser)
		var ids []uuid.UUID
		require.NoError(t, json.Unmarshal(evt.Payload, &ids))
		if len(ids) == 2 {
			sawAlice = true
			continue
		}
		if sawAlice {
			assert.Equal(t, []uuid.UUID{bob.ID}, ids)
			break
		}
	}
}

func TestServeWS_EventErrorsAreIsolated(t *testing.T) {
	ts := newTestServer(t, Options{})
	alice := ts.addUser("alice")
	conn := ts.dial(t, alice.ID)

	send(t, conn, EventTypeMessagePage, PeerPayload{UserID: uuid.New()})
	evt := readUntil(t, conn, EventTypeError)
	var p ErrorPayload
	require.NoError(t, json.Unmarshal(evt.Payload, &p))
	assert.Equal(t, "NOT_FOUND", p.Code)
	assert.Equal(t, EventTypeMessagePage, p.Event)

	send(t, conn, "no-such-event", nil)
	evt = readUntil(t, conn, EventTypeError)
	require.NoError(t, json.Unmarshal(evt.Payload, &p))
	assert.Equal(t, "UNKNOWN_EVENT", p.Code)

	send(t, conn, EventTypeClearChat, ClearChatPayload{Sender: uuid.New(), Receiver: uuid.New()})
	evt = readUntil(t, conn, EventTypeError)
	require.NoError(t, json.Unmarshal(evt.Payload, &p))
	assert.Equal(t, "UNAUTHORIZED", p.Code)

	send(t, conn, EventTypePing, nil)
	readUntil(t, conn, EventTypePong)
}

func TestServeWS_ScheduleAndList(t *testing.T) {
	ts := newTestServer(t, Options{})
	alice := ts.addUser("alice")
	bob := ts.addUser("bob")
	conn := ts.dial(t, alice.ID)

	send(t, conn, EventTypeScheduleMessage, service.ScheduleInput{
		ReceiverID:   bob.ID,
		Message:      "later",
		ScheduleTime: time.Now().Add(time.Hour),
	})
	evt := readUntil(t, conn, EventTypeScheduledMessages)
	var list []domain.ScheduledMessage
	require.NoError(t, json.Unmarshal(evt.Payload, &list))
	require.Len(t, list, 1)
	assert.Equal(t, domain.ScheduledPending, list[0].Status)

	send(t, conn, EventTypeScheduleMessage, service.ScheduleInput{ReceiverID: bob.ID})
	evt = readUntil(t, conn, EventTypeError)
	var p ErrorPayload
	require.NoError(t, json.Unmarshal(evt.Payload, &p))
	assert.Equal(t, "INVALID_REQUEST", p.Code)
}

func TestServeWS_RateLimited(t *testing.T) {
	ts := newTestServer(t, Options{EventsPerSecond: 0.001, EventBurst: 1})
	alice := ts.addUser("alice")
	conn := ts.dial(t, alice.ID)

	send(t, conn, EventTypePing, nil)
	send(t, conn, EventTypePing, nil)

	readUntil(t, conn, EventTypePong)
	evt := readUntil(t, conn, EventTypeError)
	var p ErrorPayload
	require.NoError(t, json.Unmarshal(evt.Payload, &p))
	assert.Equal(t, "RATE_LIMITED", p.Code)
}
