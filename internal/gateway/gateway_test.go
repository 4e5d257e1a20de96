package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/termport/termport/internal/auth"
	"github.com/termport/termport/internal/common/config"
	"github.com/termport/termport/internal/common/logger"
	"github.com/termport/termport/internal/events/bus"
	"github.com/termport/termport/internal/registry"
	"github.com/termport/termport/pkg/stream"
)

const testKey = "test-access-key"

type testGateway struct {
	server   *httptest.Server
	registry *registry.Registry
	hub      *Hub
	cancel   context.CancelFunc
}

func newTestGateway(t *testing.T, maxConnections int) *testGateway {
	t.Helper()
	log := logger.Default()

	store, err := auth.NewFileStore(t.TempDir())
	require.NoError(t, err)
	guard := auth.NewGuard(store, "api-key", log)
	require.NoError(t, guard.SetKey(testKey))

	memBus := bus.NewMemoryEventBus(log)
	reg := registry.New(100, nil, memBus, log)

	dispatcher := stream.NewDispatcher()
	RegisterHandlers(dispatcher, reg)

	hub := NewHub(maxConnections, dispatcher, log)
	notifier := NewNotifier(hub, reg, memBus, log)

	cfg := config.GatewayConfig{
		MaxConnections:    maxConnections,
		HeartbeatInterval: 5,
		HeartbeatMisses:   3,
		SendBufferSize:    64,
		HandshakeTimeout:  5,
	}
	handler := NewHandler(hub, guard, reg, cfg, log)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	handler.RegisterRoutes(router)

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	go func() { _ = notifier.Run(ctx) }()
	time.Sleep(20 * time.Millisecond) // let the notifier subscribe

	server := httptest.NewServer(router)
	t.Cleanup(func() {
		cancel()
		server.Close()
	})

	return &testGateway{server: server, registry: reg, hub: hub, cancel: cancel}
}

func (g *testGateway) wsURL() string {
	return "ws" + strings.TrimPrefix(g.server.URL, "http") + "/ws"
}

func dial(t *testing.T, g *testGateway, key string) *websocket.Conn {
	t.Helper()
	header := http.Header{}
	if key != "" {
		header.Set(KeyHeader, key)
	}
	conn, resp, err := websocket.DefaultDialer.Dial(g.wsURL(), header)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) *stream.Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var msg stream.Message
	require.NoError(t, conn.ReadJSON(&msg))
	return &msg
}

// readUntil skips envelopes until one of the wanted type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, msgType stream.MessageType) *stream.Message {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		msg := readEnvelope(t, conn)
		if msg.Type == msgType {
			return msg
		}
	}
	t.Fatalf("no %s envelope arrived", msgType)
	return nil
}

func TestUnauthenticatedConnectionIsClosed(t *testing.T) {
	g := newTestGateway(t, 5)

	conn := dial(t, g, "wrong-key")
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation),
		"expected policy violation close, got %v", err)
}

func TestMissingKeyConnectionIsClosed(t *testing.T) {
	g := newTestGateway(t, 5)

	conn := dial(t, g, "")
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation))
}

func TestAdmittedConnectionGetsAckAndList(t *testing.T) {
	g := newTestGateway(t, 5)
	g.registry.Register(registry.TerminalSession{Name: "shell-1"})

	conn := dial(t, g, testKey)

	ack := readEnvelope(t, conn)
	require.Equal(t, stream.TypeConnectedAck, ack.Type)
	var ackPayload stream.ConnectedAckPayload
	require.NoError(t, ack.ParsePayload(&ackPayload))
	assert.NotEmpty(t, ackPayload.ConnectionID)

	list := readEnvelope(t, conn)
	require.Equal(t, stream.TypeList, list.Type)
	var listPayload stream.ListPayload
	require.NoError(t, list.ParsePayload(&listPayload))
	require.Len(t, listPayload.Terminals, 1)
	assert.Equal(t, "shell-1", listPayload.Terminals[0].Name)
}

func TestConnectionCapIsEnforced(t *testing.T) {
	g := newTestGateway(t, 1)

	first := dial(t, g, testKey)
	ack := readEnvelope(t, first)
	require.Equal(t, stream.TypeConnectedAck, ack.Type)

	// The slot is taken; the next authenticated dial is turned away.
	second := dial(t, g, testKey)
	_ = second.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err := second.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseTryAgainLater),
		"expected try-again-later close, got %v", err)
}

func TestCapSlotIsFreedOnDisconnect(t *testing.T) {
	g := newTestGateway(t, 1)

	first := dial(t, g, testKey)
	readEnvelope(t, first)
	first.Close()

	require.Eventually(t, func() bool {
		return g.hub.ClientCount() == 0
	}, 3*time.Second, 20*time.Millisecond)

	second := dial(t, g, testKey)
	ack := readEnvelope(t, second)
	assert.Equal(t, stream.TypeConnectedAck, ack.Type)
}

func TestPingGetsPong(t *testing.T) {
	g := newTestGateway(t, 5)
	conn := dial(t, g, testKey)
	readEnvelope(t, conn) // ack
	readEnvelope(t, conn) // list

	ping, err := stream.New(stream.TypePing, nil)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(ping))

	pong := readUntil(t, conn, stream.TypePong)
	assert.Equal(t, ping.ID, pong.ID)
}

func TestMalformedMessageKeepsConnectionOpen(t *testing.T) {
	g := newTestGateway(t, 5)
	conn := dial(t, g, testKey)
	readEnvelope(t, conn) // ack
	readEnvelope(t, conn) // list

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))

	errMsg := readUntil(t, conn, stream.TypeError)
	var p stream.ErrorPayload
	require.NoError(t, errMsg.ParsePayload(&p))
	assert.Equal(t, "MESSAGE_INVALID", p.Code)

	// The connection survives and still answers pings.
	ping, err := stream.New(stream.TypePing, nil)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(ping))
	readUntil(t, conn, stream.TypePong)
}

func TestUnknownTerminalInputYieldsInBandError(t *testing.T) {
	g := newTestGateway(t, 5)
	conn := dial(t, g, testKey)
	readEnvelope(t, conn) // ack
	readEnvelope(t, conn) // list

	input, err := stream.New(stream.TypeInput, stream.InputPayload{
		TerminalID: "ghost", Data: "ls\n",
	})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(input))

	errMsg := readUntil(t, conn, stream.TypeError)
	assert.Equal(t, input.ID, errMsg.ID)
	var p stream.ErrorPayload
	require.NoError(t, errMsg.ParsePayload(&p))
	assert.Equal(t, "NOT_FOUND", p.Code)
}

func TestOutputIsBroadcastToAllClients(t *testing.T) {
	g := newTestGateway(t, 5)
	id := g.registry.Register(registry.TerminalSession{Name: "shell-1"})

	connA := dial(t, g, testKey)
	connB := dial(t, g, testKey)
	for _, conn := range []*websocket.Conn{connA, connB} {
		readEnvelope(t, conn) // ack
	}

	require.Eventually(t, func() bool {
		return g.hub.ClientCount() == 2
	}, 3*time.Second, 20*time.Millisecond)

	g.registry.AppendOutput(id, "hello from shell")

	for _, conn := range []*websocket.Conn{connA, connB} {
		out := readUntil(t, conn, stream.TypeOutput)
		var p stream.OutputPayload
		require.NoError(t, out.ParsePayload(&p))
		assert.Equal(t, id, p.TerminalID)
		assert.Equal(t, "hello from shell", p.Data)
		assert.Equal(t, uint64(1), p.Seq)
	}
}

func TestShutdownClosesClientsWithReason(t *testing.T) {
	g := newTestGateway(t, 5)

	conn := dial(t, g, testKey)
	readEnvelope(t, conn) // ack
	readEnvelope(t, conn) // list

	g.cancel()

	// Keep poking the connection while it winds down; inbound traffic
	// during shutdown must never crash the hub, and the client ends with
	// a going-away close frame.
	ping, err := stream.New(stream.TypePing, nil)
	require.NoError(t, err)
	_ = conn.WriteJSON(ping)

	deadline := time.Now().Add(3 * time.Second)
	for {
		require.True(t, time.Now().Before(deadline), "no close frame before deadline")
		_ = conn.SetReadDeadline(time.Now().Add(time.Second))
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway),
			"expected going-away close, got %v", err)
		break
	}

	// A dial after shutdown is not admitted.
	header := http.Header{}
	header.Set(KeyHeader, testKey)
	late, resp, err := websocket.DefaultDialer.Dial(g.wsURL(), header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err == nil {
		t.Cleanup(func() { late.Close() })
		_ = late.SetReadDeadline(time.Now().Add(3 * time.Second))
		_, _, err = late.ReadMessage()
		assert.Error(t, err)
	}
}

func TestSelectBroadcastsListChange(t *testing.T) {
	g := newTestGateway(t, 5)
	id := g.registry.Register(registry.TerminalSession{Name: "shell-1"})

	conn := dial(t, g, testKey)
	readEnvelope(t, conn) // ack
	readEnvelope(t, conn) // list

	sel, err := stream.New(stream.TypeSelect, stream.SelectPayload{TerminalID: id})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(sel))

	list := readUntil(t, conn, stream.TypeList)
	var p stream.ListPayload
	require.NoError(t, list.ParsePayload(&p))
	assert.Equal(t, id, p.ActiveID)
}
