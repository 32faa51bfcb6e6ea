package hub

import (
	"Saathi/internal/mocks"
	"Saathi/internal/model"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap/zaptest"
)

const (
	frameWait   = 2 * time.Second
	silenceWait = 150 * time.Millisecond
)

// wsHarness runs a Hub behind an httptest server. Tokens are "tok-<userID>";
// anything else fails verification.
type wsHarness struct {
	t      *testing.T
	hub    *Hub
	server *httptest.Server
	ledger *mocks.MockLedger

	mu     sync.Mutex
	stored []model.ChatMessage
}

func newWSHarness(t *testing.T) *wsHarness {
	t.Helper()
	return newWSHarnessWithUsers(t, nil)
}

func newWSHarnessWithUsers(t *testing.T, users UserDirectory) *wsHarness {
	t.Helper()
	ctrl := gomock.NewController(t)

	verifier := mocks.NewMockCredentialVerifier(ctrl)
	verifier.EXPECT().Verify(gomock.Any()).DoAndReturn(func(token string) (string, error) {
		if userID, ok := strings.CutPrefix(token, "tok-"); ok {
			return userID, nil
		}
		return "", errors.New("signature is invalid")
	}).AnyTimes()

	h := &wsHarness{t: t, ledger: mocks.NewMockLedger(ctrl)}
	h.hub = NewHub(h.ledger, verifier, users, zaptest.NewLogger(t), Options{})
	h.server = httptest.NewServer(h.hub)
	t.Cleanup(func() {
		h.hub.Stop()
		h.server.Close()
	})
	return h
}

// storeMessages makes the ledger accept every append.
func (h *wsHarness) storeMessages() {
	h.ledger.EXPECT().AppendMessage(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, msg *model.ChatMessage) error {
			msg.ID = primitive.NewObjectID()
			h.mu.Lock()
			h.stored = append(h.stored, *msg)
			h.mu.Unlock()
			return nil
		}).AnyTimes()
}

func (h *wsHarness) storedMessages() []model.ChatMessage {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]model.ChatMessage(nil), h.stored...)
}

func (h *wsHarness) dial(query string) (*websocket.Conn, error) {
	url := "ws" + strings.TrimPrefix(h.server.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	return conn, err
}

// connect authenticates as userID and consumes the connected ack, after
// which the connection is guaranteed to be registered.
func (h *wsHarness) connect(userID string) *websocket.Conn {
	h.t.Helper()
	conn, err := h.dial("?token=tok-" + userID)
	require.NoError(h.t, err)
	h.t.Cleanup(func() { _ = conn.Close() })

	frame := readFrame(h.t, conn)
	require.Equal(h.t, "connected", frame["type"])
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(frameWait)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var frame map[string]any
	require.NoError(t, json.Unmarshal(data, &frame))
	return frame
}

// expectSilence asserts nothing arrives for a short while. The connection
// cannot be read from afterwards.
func expectSilence(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(silenceWait)))
	_, data, err := conn.ReadMessage()
	require.Error(t, err, "unexpected frame: %s", data)
}

func send(t *testing.T, conn *websocket.Conn, frame map[string]any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(frame))
}

func messageOf(t *testing.T, frame map[string]any) map[string]any {
	t.Helper()
	msg, ok := frame["message"].(map[string]any)
	require.True(t, ok, "frame has no message: %v", frame)
	return msg
}

func TestHub_SendMessageDeliversAndEchoes(t *testing.T) {
	req := require.New(t)
	h := newWSHarness(t)
	h.storeMessages()

	alice := h.connect("alice")
	bob := h.connect("bob")

	send(t, alice, map[string]any{"type": "send_message", "toUserId": "bob", "text": "hello bob"})

	delivered := readFrame(t, bob)
	req.Equal("new_message", delivered["type"])
	msg := messageOf(t, delivered)
	req.Equal("alice", msg["senderId"])
	req.Equal("bob", msg["recipientId"])
	req.Equal("hello bob", msg["text"])
	req.Equal(false, msg["read"])
	req.NotEmpty(msg["id"])

	echo := readFrame(t, alice)
	req.Equal("message_sent", echo["type"])
	req.Equal(msg, messageOf(t, echo))

	stored := h.storedMessages()
	req.Len(stored, 1)
	req.Equal(stored[0].ID.Hex(), msg["id"])

	// exactly one of each
	expectSilence(t, alice)
	expectSilence(t, bob)
}

func TestHub_BlankTextIsDropped(t *testing.T) {
	for _, text := range []string{"", "   ", "\n\t"} {
		t.Run(fmt.Sprintf("%q", text), func(t *testing.T) {
			h := newWSHarness(t)
			h.ledger.EXPECT().AppendMessage(gomock.Any(), gomock.Any()).Times(0)

			alice := h.connect("alice")
			bob := h.connect("bob")

			send(t, alice, map[string]any{"type": "send_message", "toUserId": "bob", "text": text})

			expectSilence(t, alice)
			expectSilence(t, bob)
		})
	}
}

func TestHub_OfflineRecipientStillPersists(t *testing.T) {
	req := require.New(t)
	h := newWSHarness(t)
	h.storeMessages()

	alice := h.connect("alice")
	send(t, alice, map[string]any{"type": "send_message", "toUserId": "carol", "text": "are you there?"})

	echo := readFrame(t, alice)
	req.Equal("message_sent", echo["type"])

	stored := h.storedMessages()
	req.Len(stored, 1)
	req.Equal("carol", stored[0].RecipientID)
	req.Empty(h.hub.Registry().Connections("carol"))
}

func TestHub_RejectsBadCredentials(t *testing.T) {
	tests := []struct {
		name   string
		query  string
		reason string
	}{
		{"missing token", "", ReasonAuthRequired},
		{"empty token", "?token=", ReasonAuthRequired},
		{"invalid token", "?token=forged", ReasonInvalidToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)
			h := newWSHarness(t)

			conn, err := h.dial(tt.query)
			req.NoError(err)
			defer conn.Close()

			req.NoError(conn.SetReadDeadline(time.Now().Add(frameWait)))
			_, _, err = conn.ReadMessage()

			var closeErr *websocket.CloseError
			req.ErrorAs(err, &closeErr, "expected close before any frame")
			req.Equal(websocket.ClosePolicyViolation, closeErr.Code)
			req.Equal(tt.reason, closeErr.Text)
			req.Empty(h.hub.Registry().Snapshot())
		})
	}
}

func TestHub_TypingIsRelayedAndNeverExpires(t *testing.T) {
	req := require.New(t)
	h := newWSHarness(t)
	h.ledger.EXPECT().AppendMessage(gomock.Any(), gomock.Any()).Times(0)

	x := h.connect("x")
	y := h.connect("y")

	send(t, x, map[string]any{"type": "typing_start", "toUserId": "y"})
	frame := readFrame(t, y)
	req.Equal(map[string]any{"type": "typing", "fromUserId": "x", "isTyping": true}, frame)

	// x leaves without typing_stop; nothing clears y's indicator
	req.NoError(x.Close())
	req.Eventually(func() bool {
		return len(h.hub.Registry().Connections("x")) == 0
	}, frameWait, 10*time.Millisecond)

	expectSilence(t, y)
}

func TestHub_TypingStop(t *testing.T) {
	h := newWSHarness(t)
	x := h.connect("x")
	y := h.connect("y")

	send(t, x, map[string]any{"type": "typing_stop", "toUserId": "y"})
	require.Equal(t, map[string]any{"type": "typing", "fromUserId": "x", "isTyping": false}, readFrame(t, y))
}

func TestHub_FanoutReachesEveryTab(t *testing.T) {
	req := require.New(t)
	h := newWSHarness(t)
	h.storeMessages()

	sender := h.connect("s")
	tab1 := h.connect("u")
	tab2 := h.connect("u")
	req.Len(h.hub.Registry().Connections("u"), 2)

	send(t, sender, map[string]any{"type": "send_message", "toUserId": "u", "text": "both tabs"})

	m1 := messageOf(t, readFrame(t, tab1))
	m2 := messageOf(t, readFrame(t, tab2))
	req.Equal(m1, m2)
	req.Equal("both tabs", m1["text"])
	req.Equal("message_sent", readFrame(t, sender)["type"])
}

func TestHub_SenderOtherTabsDoNotGetOwnMessage(t *testing.T) {
	req := require.New(t)
	h := newWSHarness(t)
	h.storeMessages()

	tab1 := h.connect("me")
	tab2 := h.connect("me")

	// writing to yourself reaches your other tabs but not the sending one twice
	send(t, tab1, map[string]any{"type": "send_message", "toUserId": "me", "text": "note to self"})

	req.Equal("message_sent", readFrame(t, tab1)["type"])
	req.Equal("new_message", readFrame(t, tab2)["type"])
	expectSilence(t, tab1)
}

func TestHub_PersistenceFailureDropsFrame(t *testing.T) {
	req := require.New(t)
	h := newWSHarness(t)
	h.ledger.EXPECT().AppendMessage(gomock.Any(), gomock.Any()).
		Return(errors.New("no primary available")).Times(1)

	alice := h.connect("alice")
	bob := h.connect("bob")

	send(t, alice, map[string]any{"type": "send_message", "toUserId": "bob", "text": "lost"})
	// same connection, so this is handled strictly after the failed send
	send(t, alice, map[string]any{"type": "typing_start", "toUserId": "bob"})

	frame := readFrame(t, bob)
	req.Equal("typing", frame["type"], "no new_message may precede the typing frame")
	expectSilence(t, alice)
}

func TestHub_IgnoresGarbageAndUnknownFrames(t *testing.T) {
	h := newWSHarness(t)
	alice := h.connect("alice")
	bob := h.connect("bob")

	require.NoError(t, alice.WriteMessage(websocket.TextMessage, []byte("{not json")))
	send(t, alice, map[string]any{"type": "call_start", "toUserId": "bob"})
	send(t, alice, map[string]any{"type": "typing_start"})
	require.NoError(t, alice.WriteMessage(websocket.BinaryMessage, []byte{0x01}))
	send(t, alice, map[string]any{"type": "typing_start", "toUserId": "bob"})

	require.Equal(t, "typing", readFrame(t, bob)["type"])
	require.Len(t, h.hub.Registry().Connections("alice"), 1)
}

func TestHub_PerConnectionOrder(t *testing.T) {
	req := require.New(t)
	h := newWSHarness(t)
	h.storeMessages()

	alice := h.connect("alice")
	bob := h.connect("bob")

	const n = 25
	for i := 0; i < n; i++ {
		send(t, alice, map[string]any{"type": "send_message", "toUserId": "bob", "text": fmt.Sprintf("m%02d", i)})
	}

	var last time.Time
	for i := 0; i < n; i++ {
		msg := messageOf(t, readFrame(t, bob))
		req.Equal(fmt.Sprintf("m%02d", i), msg["text"])
		raw, ok := msg["createdAt"].(string)
		req.True(ok)
		createdAt, err := time.Parse(time.RFC3339Nano, raw)
		req.NoError(err)
		req.False(createdAt.Before(last), "timestamps are non-decreasing")
		last = createdAt
	}

	stored := h.storedMessages()
	req.Len(stored, n)
	for i, m := range stored {
		req.Equal(fmt.Sprintf("m%02d", i), m.Text)
		if i > 0 {
			req.False(m.CreatedAt.Before(stored[i-1].CreatedAt))
		}
	}
}

func TestHub_SlowPersistOnlyBlocksItsConnection(t *testing.T) {
	req := require.New(t)
	h := newWSHarness(t)

	release := make(chan struct{})
	h.ledger.EXPECT().AppendMessage(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, msg *model.ChatMessage) error {
			<-release
			msg.ID = primitive.NewObjectID()
			return nil
		}).Times(1)

	slow := h.connect("slow")
	fast := h.connect("fast")
	peer := h.connect("peer")

	send(t, slow, map[string]any{"type": "send_message", "toUserId": "peer", "text": "eventually"})
	send(t, slow, map[string]any{"type": "typing_start", "toUserId": "peer"})
	send(t, fast, map[string]any{"type": "typing_stop", "toUserId": "peer"})

	first := readFrame(t, peer)
	req.Equal(map[string]any{"type": "typing", "fromUserId": "fast", "isTyping": false}, first)

	close(release)
	req.Equal("new_message", readFrame(t, peer)["type"])
	req.Equal(map[string]any{"type": "typing", "fromUserId": "slow", "isTyping": true}, readFrame(t, peer))
}

func TestHub_CloseUnregisters(t *testing.T) {
	req := require.New(t)
	h := newWSHarness(t)

	conn := h.connect("alice")
	req.Len(h.hub.Registry().Connections("alice"), 1)

	req.NoError(conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))

	req.Eventually(func() bool {
		return len(h.hub.Registry().Connections("alice")) == 0
	}, frameWait, 10*time.Millisecond)
}

func TestHub_DeliveryCarriesSenderName(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	users := mocks.NewMockUserDirectory(ctrl)
	// looked up once per connection, not per message
	users.EXPECT().FindByID(gomock.Any(), "alice").Return(&model.User{Name: "Alice"}, nil).Times(1)

	h := newWSHarnessWithUsers(t, users)
	h.storeMessages()
	alice := h.connect("alice")
	bob := h.connect("bob")

	for _, text := range []string{"one", "two"} {
		send(t, alice, map[string]any{"type": "send_message", "toUserId": "bob", "text": text})

		delivered := messageOf(t, readFrame(t, bob))
		req.Equal(text, delivered["text"])
		req.Equal("Alice", delivered["fromUserName"])

		echo := messageOf(t, readFrame(t, alice))
		req.NotContains(echo, "fromUserName")
	}
}

func TestHub_SenderNameLookupFailureStillDelivers(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	users := mocks.NewMockUserDirectory(ctrl)
	gomock.InOrder(
		users.EXPECT().FindByID(gomock.Any(), "alice").Return(nil, errors.New("directory down")),
		users.EXPECT().FindByID(gomock.Any(), "alice").Return(&model.User{Name: "Alice"}, nil),
	)

	h := newWSHarnessWithUsers(t, users)
	h.storeMessages()
	alice := h.connect("alice")
	bob := h.connect("bob")

	send(t, alice, map[string]any{"type": "send_message", "toUserId": "bob", "text": "one"})
	first := messageOf(t, readFrame(t, bob))
	req.Equal("one", first["text"])
	req.NotContains(first, "fromUserName")

	send(t, alice, map[string]any{"type": "send_message", "toUserId": "bob", "text": "two"})
	req.Equal("Alice", messageOf(t, readFrame(t, bob))["fromUserName"])
}

func TestHub_ConnectAfterStopIsTurnedAway(t *testing.T) {
	req := require.New(t)
	h := newWSHarness(t)
	h.hub.Stop()

	conn, err := h.dial("?token=tok-alice")
	req.NoError(err)
	defer conn.Close()

	req.NoError(conn.SetReadDeadline(time.Now().Add(frameWait)))
	_, _, err = conn.ReadMessage()

	var closeErr *websocket.CloseError
	req.ErrorAs(err, &closeErr)
	req.Equal(websocket.CloseGoingAway, closeErr.Code)
	req.Equal(ReasonShuttingDown, closeErr.Text)
	req.Empty(h.hub.Registry().Snapshot())
}

func TestHub_StopClosesConnections(t *testing.T) {
	req := require.New(t)
	h := newWSHarness(t)
	conn := h.connect("alice")

	h.hub.Stop()

	req.NoError(conn.SetReadDeadline(time.Now().Add(frameWait)))
	_, _, err := conn.ReadMessage()
	req.Error(err)
	req.Empty(h.hub.Registry().Snapshot())
}
