package websocket_test

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	gorillaWS "github.com/gorilla/websocket"
	"github.com/mautops/batch-approval/internal/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T, hub *websocket.Hub) *httptest.Server {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/ws/batches", websocket.WebSocketHandler(hub, nil))
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server
}

func dial(t *testing.T, server *httptest.Server, query string) *gorillaWS.Conn {
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/batches" + query
	conn, _, err := gorillaWS.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHub_PublishFiltersByBatch(t *testing.T) {
	hub := websocket.NewHub()
	go hub.Run()
	defer hub.Stop()
	server := startServer(t, hub)

	all := dial(t, server, "")
	onlyTwo := dial(t, server, "?batch_id=2")

	require.Eventually(t, func() bool { return hub.GetClientCount() == 2 }, time.Second, 10*time.Millisecond)

	require.True(t, hub.PublishBatchEvent(1, []byte(`{"batch_id":1}`)))
	require.True(t, hub.PublishBatchEvent(2, []byte(`{"batch_id":2}`)))

	all.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, first, err := all.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"batch_id":1}`, string(first))
	_, second, err := all.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"batch_id":2}`, string(second))

	onlyTwo.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, got, err := onlyTwo.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"batch_id":2}`, string(got))
}

func TestWebSocketHandler_InvalidBatchID(t *testing.T) {
	hub := websocket.NewHub()
	server := startServer(t, hub)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/batches?batch_id=abc"
	_, resp, err := gorillaWS.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 400, resp.StatusCode)
}

func TestHub_MultipleBatchSubscription(t *testing.T) {
	hub := websocket.NewHub()
	go hub.Run()
	defer hub.Stop()
	server := startServer(t, hub)

	conn := dial(t, server, "?batch_id=3,4&batch_id=4")
	require.Eventually(t, func() bool { return hub.SubscriberCount(4) == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, hub.SubscriberCount(3))
	assert.Equal(t, 0, hub.SubscriberCount(5))
	assert.Equal(t, 1, hub.GetClientCount())

	require.True(t, hub.PublishBatchEvent(5, []byte(`{"batch_id":5}`)))
	require.True(t, hub.PublishBatchEvent(4, []byte(`{"batch_id":4}`)))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, got, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"batch_id":4}`, string(got))

	conn.Close()
	require.Eventually(t, func() bool { return hub.GetClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}
