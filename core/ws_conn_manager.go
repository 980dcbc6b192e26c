package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 4096
)

type OnConnect func(*Conn)

type OnDisconnect func(*Conn)

// ConnManager upgrades authenticated requests to websocket connections, runs
// their read/write loops and delivers outbound events by connection id. It
// knows nothing about rooms; group bookkeeping belongs to Presence.
type ConnManager struct {
	conns   *SyncMap[int, *Conn]
	counter atomic.Int64
	connWg  *sync.WaitGroup
	context context.Context
	logger  *slog.Logger

	onConnect    OnConnect
	onDisconnect OnDisconnect

	receivedEvent chan *Event

	upgrader        websocket.Upgrader
	ReadStreamSize  int
	WriteStreamSize int
}

var defaultUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type ManagerOption func(*ConnManager)

func WithCheckOrigin(f func(r *http.Request) bool) ManagerOption {
	return func(m *ConnManager) {
		m.upgrader.CheckOrigin = f
	}
}

func NewConnManager(context context.Context, wg *sync.WaitGroup, logger *slog.Logger, opts ...ManagerOption) *ConnManager {
	m := &ConnManager{
		connWg:          wg,
		conns:           NewSyncMap[int, *Conn](),
		logger:          logger,
		context:         context,
		upgrader:        defaultUpgrader,
		ReadStreamSize:  100,
		WriteStreamSize: 100,
		onConnect:       func(*Conn) {},
		onDisconnect:    func(*Conn) {},
	}

	for _, opt := range opts {
		opt(m)
	}

	m.receivedEvent = make(chan *Event, m.ReadStreamSize)

	return m
}

func (m *ConnManager) Receive() <-chan *Event {
	return m.receivedEvent
}

func (m *ConnManager) OnConnect(f OnConnect) {
	m.onConnect = f
}

func (m *ConnManager) OnDisconnect(f OnDisconnect) {
	m.onDisconnect = f
}

// Connect upgrades the request and registers the connection under the identity
// the gateway resolved from the handshake token.
func (m *ConnManager) Connect(identity Identity, w http.ResponseWriter, r *http.Request) (*Conn, error) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}

	id := int(m.counter.Add(1))
	wsConn := &Conn{
		identity:    identity,
		id:          id,
		conn:        conn,
		context:     m.context,
		writeStream: make(chan *Event, m.WriteStreamSize),
		readStream:  m.receivedEvent,
		ticker:      time.NewTicker(pingPeriod),
		logger: m.logger.With(
			slog.String("connection", fmt.Sprintf("%s:%d", identity.UserID, id))),
		notifyDisconnect: func() {
			m.disconnect(id)
		},
	}
	m.conns.Store(id, wsConn)

	m.connWg.Add(1)
	go func() {
		defer m.connWg.Done()
		wsConn.readLoop()
	}()
	m.connWg.Add(1)
	go func() {
		defer m.connWg.Done()
		wsConn.writeLoop()
	}()

	m.onConnect(wsConn)

	return wsConn, nil
}

func (m *ConnManager) disconnect(id int) {
	conn, ok := m.conns.LoadAndDelete(id)
	if !ok {
		return
	}
	conn.close()
	m.onDisconnect(conn)
}

// Disconnect closes the connection with the given id, if it is still around.
func (m *ConnManager) Disconnect(id int) {
	m.disconnect(id)
}

// Len returns the number of live connections.
func (m *ConnManager) Len() int {
	return m.conns.Len()
}

// SendToConns queues an event for each of the given connections. Connections
// that disconnected since the target list was computed are skipped.
func (m *ConnManager) SendToConns(e *Event, connIDs ...int) {
	for _, id := range connIDs {
		conn, ok := m.conns.Load(id)
		if !ok {
			continue
		}
		if !conn.send(e) {
			m.logger.Debug(fmt.Sprintf("dropped event for connection %d", id))
		}
	}
}
