package websocket

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rajivgeraev/marketplace-api/internal/models"
	"github.com/rajivgeraev/marketplace-api/internal/realtime"
	"github.com/rajivgeraev/marketplace-api/internal/utils"
)

type testServer struct {
	server  *httptest.Server
	broker  *realtime.Broker
	manager *Manager
	jwt     *utils.JWTService
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	broker := realtime.NewBroker()
	manager := NewManager()
	manager.Attach(broker)
	jwtService := utils.NewJWTService("secret", time.Hour)

	server := httptest.NewServer(Handler(manager, jwtService))
	t.Cleanup(func() {
		manager.Shutdown()
		server.Close()
	})
	return &testServer{server: server, broker: broker, manager: manager, jwt: jwtService}
}

func (s *testServer) dial(t *testing.T, userID uuid.UUID) *websocket.Conn {
	t.Helper()
	token, _, err := s.jwt.GenerateToken(userID, uuid.Nil)
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(s.server.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func subscribe(t *testing.T, conn *websocket.Conn, table string) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(ControlFrame{Type: FrameSubscribe, Table: table}))

	var ack ControlFrame
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&ack))
	assert.Equal(t, FrameSubscribed, ack.Type)
	assert.Equal(t, table, ack.Table)
}

func messageChange(t *testing.T, sender, receiver uuid.UUID, content string) models.Change {
	t.Helper()
	record, err := json.Marshal(models.MessageRow{Message: models.Message{
		ID: models.NewMessageID(), SenderID: sender.String(), ReceiverID: receiver.String(),
		ItemID: uuid.NewString(), Content: content, CreatedAt: time.Now(),
	}})
	require.NoError(t, err)
	return models.Change{Table: models.TableMessages, Type: models.EventInsert, Record: record}
}

func readChange(t *testing.T, conn *websocket.Conn, wait time.Duration) (models.Change, error) {
	t.Helper()
	var change models.Change
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(wait)))
	err := conn.ReadJSON(&change)
	return change, err
}

func TestMessageInsertsReachOnlyParticipants(t *testing.T) {
	srv := newTestServer(t)
	seller, buyer, stranger := uuid.New(), uuid.New(), uuid.New()

	sellerConn := srv.dial(t, seller)
	buyerConn := srv.dial(t, buyer)
	strangerConn := srv.dial(t, stranger)
	subscribe(t, sellerConn, models.TableMessages)
	subscribe(t, buyerConn, models.TableMessages)
	subscribe(t, strangerConn, models.TableMessages)

	srv.broker.Publish(messageChange(t, buyer, seller, "hello"))

	for _, conn := range []*websocket.Conn{sellerConn, buyerConn} {
		change, err := readChange(t, conn, 2*time.Second)
		require.NoError(t, err)
		assert.Equal(t, models.TableMessages, change.Table)
		row, err := change.DecodeMessageRow()
		require.NoError(t, err)
		assert.Equal(t, "hello", row.Content)
	}

	_, err := readChange(t, strangerConn, 200*time.Millisecond)
	assert.Error(t, err)
}

func TestUnsubscribedClientReceivesNothing(t *testing.T) {
	srv := newTestServer(t)
	seller, buyer := uuid.New(), uuid.New()

	conn := srv.dial(t, seller)
	subscribe(t, conn, models.TableMessages)

	require.NoError(t, conn.WriteJSON(ControlFrame{Type: FrameUnsubscribe, Table: models.TableMessages}))
	var ack ControlFrame
	require.NoError(t, conn.ReadJSON(&ack))
	assert.Equal(t, FrameUnsubscribed, ack.Type)

	srv.broker.Publish(messageChange(t, buyer, seller, "hello"))
	_, err := readChange(t, conn, 200*time.Millisecond)
	assert.Error(t, err)
}

func TestItemInsertsBroadcast(t *testing.T) {
	srv := newTestServer(t)

	conn := srv.dial(t, uuid.New())
	subscribe(t, conn, models.TableItems)

	record, err := json.Marshal(models.Item{ID: uuid.New(), Title: "Lamp"})
	require.NoError(t, err)
	srv.broker.Publish(models.Change{Table: models.TableItems, Record: record})

	change, err := readChange(t, conn, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, models.TableItems, change.Table)
	assert.Equal(t, models.EventInsert, change.Type)
}

func TestUnknownTableRejected(t *testing.T) {
	srv := newTestServer(t)
	conn := srv.dial(t, uuid.New())

	require.NoError(t, conn.WriteJSON(ControlFrame{Type: FrameSubscribe, Table: "users"}))
	var reply ControlFrame
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, FrameError, reply.Type)
}

func TestHandshakeRequiresToken(t *testing.T) {
	srv := newTestServer(t)

	url := "ws" + strings.TrimPrefix(srv.server.URL, "http") + "/ws?token=bad"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestClientRemovedOnDisconnect(t *testing.T) {
	srv := newTestServer(t)
	conn := srv.dial(t, uuid.New())
	subscribe(t, conn, models.TableMessages)
	assert.Equal(t, 1, srv.manager.Count())

	conn.Close()
	assert.Eventually(t, func() bool { return srv.manager.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}
