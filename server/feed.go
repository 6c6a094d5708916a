package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/wfunc/quizbattle/broadcast"
	"github.com/wfunc/quizbattle/logger"
	"github.com/wfunc/quizbattle/models"
	"github.com/wfunc/quizbattle/network"
	"github.com/wfunc/quizbattle/reconcile"
	"github.com/wfunc/quizbattle/session"
)

// Snapshotter is the part of the reconciliation loop the feed needs.
type Snapshotter interface {
	Snapshot() *models.SessionState
	AddSink(s reconcile.Sink)
}

// FeedServer pushes the local client's battle transitions to UI viewers over websocket.
type FeedServer struct {
	upgrader       websocket.Upgrader
	sessionManager *session.Manager
	broadcaster    *broadcast.TransitionBroadcaster
	source         Snapshotter
	heartbeat      time.Duration
	httpServer     *http.Server
	shutdownChan   chan struct{}
}

func NewFeedServer(addr string, source Snapshotter, heartbeat time.Duration) *FeedServer {
	s := &FeedServer{
		sessionManager: session.NewManager(),
		source:         source,
		heartbeat:      heartbeat,
		shutdownChan:   make(chan struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // 允许所有跨域请求
			},
		},
	}

	// 初始化广播器
	s.broadcaster = broadcast.NewTransitionBroadcaster(s.sessionManager)
	source.AddSink(s.broadcaster)

	s.httpServer = &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}
	return s
}

func (s *FeedServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	return mux
}

func (s *FeedServer) Viewers() int {
	return s.sessionManager.Count()
}

func (s *FeedServer) Start() error {
	if s.heartbeat > 0 {
		go s.reapIdle()
	}
	logger.Log.Infof("UI feed listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *FeedServer) Shutdown(ctx context.Context) error {
	close(s.shutdownChan)
	for _, viewer := range s.sessionManager.All() {
		viewer.Close()
	}
	return s.httpServer.Shutdown(ctx)
}

// reapIdle drops viewers that missed two heartbeats.
func (s *FeedServer) reapIdle() {
	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-s.shutdownChan:
			return
		case now := <-ticker.C:
			if n := s.sessionManager.CloseIdle(now.Add(-2 * s.heartbeat)); n > 0 {
				logger.Log.Infof("Closed %d idle viewers", n)
			}
		}
	}
}

func (s *FeedServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Log.Infof("Failed to upgrade connection: %v", err)
		return
	}
	s.handleConnection(conn)
}

func (s *FeedServer) handleConnection(conn *websocket.Conn) {
	wsConn := network.NewWSConnection(conn)
	if s.heartbeat > 0 {
		wsConn.SetHeartbeat(s.heartbeat)
	}
	sess := session.NewSession(uuid.New().String(), wsConn)
	s.sessionManager.Add(sess)

	logger.Log.Infof("New viewer from %s, session ID: %s", wsConn.RemoteAddr(), sess.GetID())

	defer func() {
		logger.Log.Infof("Viewer closed from %s, session ID: %s", wsConn.RemoteAddr(), sess.GetID())
		s.sessionManager.Remove(sess.GetID())
		wsConn.Close()
	}()

	s.sendSnapshot(sess)
	for {
		select {
		case <-s.shutdownChan:
			return
		default:
			packet, err := wsConn.ReadPacket()
			if err != nil {
				return
			}
			s.handlePacket(sess, packet)
		}
	}
}

func (s *FeedServer) handlePacket(sess *session.Session, packet *network.Packet) {
	switch packet.MsgID {
	case network.MsgTypeHeartbeat:
		sess.Touch()
	case network.MsgTypeSnapshotRequest:
		s.sendSnapshot(sess)
	default:
		logger.Log.Infof("Unknown message type: %d", packet.MsgID)
	}
}

func (s *FeedServer) sendSnapshot(sess *session.Session) {
	snapshot := s.source.Snapshot()
	if snapshot == nil {
		return
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		logger.Log.Errorf("Failed to encode snapshot: %v", err)
		return
	}
	if err := sess.Send(network.MsgTypeSnapshot, data); err != nil {
		logger.Log.Warnf("Failed to send snapshot to %s: %v", sess.GetID(), err)
	}
}
