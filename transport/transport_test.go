package transport

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
	"github.com/gorilla/websocket"

	"tessera.dev/sync/assets"
	"tessera.dev/sync/protocol"
	"tessera.dev/sync/service"
)

func dialWs(t *testing.T, server *httptest.Server, tokenStr string) (*websocket.Conn, error) {
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?auth=" + tokenStr
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	return ws, err
}

func readFrame(t *testing.T, ws *websocket.Conn) *protocol.Frame {
	for {
		ws.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, message, err := ws.ReadMessage()
		assert.Equal(t, nil, err)
		if len(message) == 0 {
			// ping
			continue
		}
		frame := &protocol.Frame{}
		assert.Equal(t, nil, json.Unmarshal(message, frame))
		return frame
	}
}

func writeMessage(t *testing.T, ws *websocket.Conn, message any) {
	frame := protocol.RequireToFrame(message)
	b, err := json.Marshal(frame)
	assert.Equal(t, nil, err)
	ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
	assert.Equal(t, nil, ws.WriteMessage(websocket.TextMessage, b))
}

func TestTransport(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	secret := []byte("test secret")
	svc := service.NewServiceWithDefaults(ctx, nil, assets.DefaultKindSet())
	transport := NewTransportWithDefaults(ctx, svc, secret)

	server := httptest.NewServer(transport.Router())
	defer server.Close()

	// an unauthenticated upgrade is rejected
	_, err := dialWs(t, server, "bogus")
	assert.NotEqual(t, nil, err)

	tokenStr, err := MintClientJwt(secret, &ClientJwt{
		ClientId: "clientA",
		Name:     "Alice",
	}, 1*time.Hour)
	assert.Equal(t, nil, err)

	ws, err := dialWs(t, server, tokenStr)
	assert.Equal(t, nil, err)
	defer ws.Close()

	writeMessage(t, ws, &protocol.Subscribe{
		RequestId: "r1",
		EntityId:  service.EntityEntries,
	})
	frame := readFrame(t, ws)
	assert.Equal(t, protocol.MessageTypeMutationResult, frame.MessageType)

	writeMessage(t, ws, &protocol.EntryAdd{
		RequestId: "r2",
		EntityId:  service.EntityEntries,
		Values:    map[string]any{"name": "assets"},
	})

	// the subscribed connection receives both the mirror and the result
	var result *protocol.MutationResult
	var mirror *protocol.MirrorAdd
	var mirrorSeq uint64
	for result == nil || mirror == nil {
		frame := readFrame(t, ws)
		message, err := protocol.FromFrame(frame)
		assert.Equal(t, nil, err)
		switch v := message.(type) {
		case *protocol.MutationResult:
			result = v
		case *protocol.MirrorAdd:
			mirror = v
			mirrorSeq = frame.Seq
		}
	}
	assert.Equal(t, "r2", result.RequestId)
	assert.Equal(t, result.ItemId, mirror.ItemId)
	assert.Equal(t, "assets", mirror.Values["name"])
	// the first mirror on a fresh subscription is seq 1
	assert.Equal(t, uint64(1), mirrorSeq)

	// a bad request maps to an error result, not a dropped connection
	writeMessage(t, ws, &protocol.EntryRemove{
		RequestId: "r3",
		EntityId:  service.EntityEntries,
		EntryId:   "missing",
	})
	message, err := protocol.FromFrame(readFrame(t, ws))
	assert.Equal(t, nil, err)
	assert.Equal(t, "not_found", message.(*protocol.MutationErrorResult).Kind)
}

func TestTransportDisconnectCleanup(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	secret := []byte("test secret")
	svc := service.NewServiceWithDefaults(ctx, nil, assets.DefaultKindSet())
	transport := NewTransportWithDefaults(ctx, svc, secret)

	server := httptest.NewServer(transport.Router())
	defer server.Close()

	tokenStr, _ := MintClientJwt(secret, &ClientJwt{ClientId: "clientA"}, 1*time.Hour)
	ws, err := dialWs(t, server, tokenStr)
	assert.Equal(t, nil, err)

	writeMessage(t, ws, &protocol.Subscribe{
		RequestId: "r1",
		EntityId:  service.EntityEntries,
	})
	readFrame(t, ws)
	assert.Equal(t, 1, svc.Broker().SubscriberCount(service.EntityEntries))

	// dropping the socket removes the subscription
	ws.Close()
	deadline := time.Now().Add(5 * time.Second)
	for svc.Broker().SubscriberCount(service.EntityEntries) != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	assert.Equal(t, 0, svc.Broker().SubscriberCount(service.EntityEntries))
}
