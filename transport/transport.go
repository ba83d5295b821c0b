package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/golang/glog"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"tessera.dev/sync/protocol"
	"tessera.dev/sync/service"
	"tessera.dev/sync/state"
)

func DefaultTransportSettings() *TransportSettings {
	return &TransportSettings{
		WsHandshakeTimeout: 2 * time.Second,
		PingTimeout:        5 * time.Second,
		WriteTimeout:       5 * time.Second,
		ReadTimeout:        30 * time.Second,
		SendBufferSize:     32,
	}
}

type TransportSettings struct {
	WsHandshakeTimeout time.Duration
	PingTimeout        time.Duration
	WriteTimeout       time.Duration
	ReadTimeout        time.Duration
	SendBufferSize     int
}

// Transport exposes the service over websocket. One websocket connection is
// one client session: frames in are requests, frames out are results and
// mirror instructions.
type Transport struct {
	ctx context.Context

	service  *service.Service
	secret   []byte
	settings *TransportSettings

	upgrader *websocket.Upgrader
}

func NewTransportWithDefaults(ctx context.Context, svc *service.Service, secret []byte) *Transport {
	return NewTransport(ctx, svc, secret, DefaultTransportSettings())
}

func NewTransport(ctx context.Context, svc *service.Service, secret []byte, settings *TransportSettings) *Transport {
	return &Transport{
		ctx:      ctx,
		service:  svc,
		secret:   secret,
		settings: settings,
		upgrader: &websocket.Upgrader{
			HandshakeTimeout: settings.WsHandshakeTimeout,
		},
	}
}

func (self *Transport) Router() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/ws", self.serveWs)
	router.HandleFunc("/status", self.serveStatus)
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			metrics := httpsnoop.CaptureMetrics(next, w, r)
			glog.V(1).Infof("[th]%s %s %d %.3fs\n", r.Method, r.URL.Path, metrics.Code, metrics.Duration.Seconds())
		})
	})
	return router
}

func (self *Transport) serveStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"status":        "ok",
		"entries":       self.service.EntryTree().Len(),
		"loaded_assets": self.service.AssetRegistry().LoadedIds(),
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

func (self *Transport) serveWs(w http.ResponseWriter, r *http.Request) {
	tokenStr := r.URL.Query().Get("auth")
	if tokenStr == "" {
		tokenStr = r.Header.Get("Authorization")
	}
	clientJwt, err := ParseClientJwt(self.secret, tokenStr)
	if err != nil {
		glog.Infof("[th]auth error = %s\n", err)
		http.Error(w, "Unauthorized.", http.StatusUnauthorized)
		return
	}

	ws, err := self.upgrader.Upgrade(w, r, nil)
	if err != nil {
		glog.Infof("[th]upgrade error = %s\n", err)
		return
	}

	conn := newConnection(self.ctx, self, ws, clientJwt)
	go conn.run()
}

// connection pumps one websocket session. The send channel decouples the
// broker from the socket: a full channel drops the subscriber rather than
// blocking publishers.
type connection struct {
	ctx    context.Context
	cancel context.CancelFunc

	transport *Transport
	ws        *websocket.Conn
	clientJwt *ClientJwt
	// distinguishes reconnects of the same client in logs
	instanceId state.Id

	send chan *protocol.Frame
}

func newConnection(ctx context.Context, transport *Transport, ws *websocket.Conn, clientJwt *ClientJwt) *connection {
	cancelCtx, cancel := context.WithCancel(ctx)
	return &connection{
		ctx:        cancelCtx,
		cancel:     cancel,
		transport:  transport,
		ws:         ws,
		clientJwt:  clientJwt,
		instanceId: state.NewId(),
		send:       make(chan *protocol.Frame, transport.settings.SendBufferSize),
	}
}

// service.Subscriber
func (self *connection) Send(frame *protocol.Frame) bool {
	select {
	case <-self.ctx.Done():
		return false
	case self.send <- frame:
		return true
	default:
		return false
	}
}

// respond always enqueues, blocking until there is room. Results must not
// be dropped the way mirror frames can be.
func (self *connection) respond(frame *protocol.Frame) {
	select {
	case <-self.ctx.Done():
	case self.send <- frame:
	}
}

func (self *connection) run() {
	defer func() {
		self.cancel()
		self.ws.Close()
		self.transport.service.RemoveConnection(self.clientJwt.ClientId)
	}()

	clientId := self.clientJwt.ClientId
	settings := self.transport.settings
	glog.V(1).Infof("[tc]open %s (%s) instance=%s\n", clientId, self.clientJwt.Name, self.instanceId)

	go func() {
		defer self.cancel()

		for {
			select {
			case <-self.ctx.Done():
				return
			case frame := <-self.send:
				message, err := json.Marshal(frame)
				if err != nil {
					glog.Infof("[tc]%s-> encode error = %s\n", clientId, err)
					continue
				}
				self.ws.SetWriteDeadline(time.Now().Add(settings.WriteTimeout))
				if err := self.ws.WriteMessage(websocket.TextMessage, message); err != nil {
					// a websocket deadline timeout cannot be recovered
					glog.Infof("[tc]%s-> error = %s\n", clientId, err)
					return
				}
				glog.V(2).Infof("[tc]%s-> %s\n", clientId, frame.MessageType)
			case <-time.After(settings.PingTimeout):
				self.ws.SetWriteDeadline(time.Now().Add(settings.WriteTimeout))
				if err := self.ws.WriteMessage(websocket.TextMessage, make([]byte, 0)); err != nil {
					return
				}
			}
		}
	}()

	for {
		select {
		case <-self.ctx.Done():
			return
		default:
		}

		self.ws.SetReadDeadline(time.Now().Add(settings.ReadTimeout))
		messageType, message, err := self.ws.ReadMessage()
		if err != nil {
			glog.Infof("[tc]%s<- error = %s\n", clientId, err)
			return
		}

		switch messageType {
		case websocket.TextMessage, websocket.BinaryMessage:
			if 0 == len(message) {
				// ping
				glog.V(2).Infof("[tc]ping %s<-\n", clientId)
				continue
			}

			frame := &protocol.Frame{}
			if err := json.Unmarshal(message, frame); err != nil {
				glog.Infof("[tc]%s<- decode error = %s\n", clientId, err)
				continue
			}
			glog.V(2).Infof("[tc]%s<- %s\n", clientId, frame.MessageType)
			self.transport.service.HandleRequest(clientId, self, frame, self.respond)
		default:
			glog.V(2).Infof("[tc]other=%d %s<-\n", messageType, clientId)
		}
	}
}
