package websocket

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/KevinKickass/dccstation/internal/types"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func startHub(t *testing.T) (*Hub, string) {
	t.Helper()
	hub := NewHub(zaptest.NewLogger(t))
	go hub.Run()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, w, r)
	}))
	t.Cleanup(func() {
		hub.Stop()
		srv.Close()
	})

	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, hub *Hub, url string, want int) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool { return hub.GetClientCount() == want },
		time.Second, 5*time.Millisecond)
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) (Message, CommandData) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var raw struct {
		Message
		Data CommandData `json:"data"`
	}
	require.NoError(t, json.Unmarshal(data, &raw))
	return raw.Message, raw.Data
}

func TestHub_CommandAccepted(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, hub, url, 1)

	word := types.LocomotiveCommand{Address: 3, Speed: 7, Direction: types.Forward}.Word()
	hub.CommandAccepted(word)

	msg, data := readMessage(t, conn)
	assert.Equal(t, MessageTypeCommandAccepted, msg.Type)
	_, err := uuid.Parse(msg.ID)
	assert.NoError(t, err)

	require.NotNil(t, data.Locomotive)
	assert.Equal(t, uint8(3), data.Locomotive.Address)
	assert.Equal(t, types.Forward, data.Locomotive.Direction)
	assert.Nil(t, data.Accessory)
	assert.Empty(t, data.Error)
}

func TestHub_CommandRejected(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, hub, url, 1)

	word := types.AccessoryCommand{Address: 5, Device: 2}.Word()
	hub.CommandRejected(word, types.ErrAccessoryQueueFull)

	msg, data := readMessage(t, conn)
	assert.Equal(t, MessageTypeCommandRejected, msg.Type)
	require.NotNil(t, data.Accessory)
	assert.Equal(t, uint16(5), data.Accessory.Address)
	assert.Equal(t, types.ErrAccessoryQueueFull.Error(), data.Error)
}

func TestHub_BroadcastReachesAllClients(t *testing.T) {
	hub, url := startHub(t)
	a := dial(t, hub, url, 1)
	b := dial(t, hub, url, 2)

	hub.Broadcast(NewSystemStatusMessage(map[string]string{"state": "RUNNING"}))

	for _, conn := range []*websocket.Conn{a, b} {
		msg, _ := readMessage(t, conn)
		assert.Equal(t, MessageTypeSystemStatus, msg.Type)
	}
}

func TestHub_ClientDisconnect(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, hub, url, 1)

	conn.Close()
	assert.Eventually(t, func() bool { return hub.GetClientCount() == 0 },
		time.Second, 5*time.Millisecond)
}

func TestHub_StopClosesClients(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, hub, url, 1)

	hub.Stop()
	hub.Stop()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
	assert.Equal(t, 0, hub.GetClientCount())
}

func TestNewCommandMessage_UnknownKind(t *testing.T) {
	msg := NewCommandMessage(types.Word(0x0000), types.ErrUnknownMessageType)
	assert.Equal(t, MessageTypeCommandRejected, msg.Type)

	data, ok := msg.Data.(CommandData)
	require.True(t, ok)
	assert.Nil(t, data.Locomotive)
	assert.Nil(t, data.Accessory)
}
