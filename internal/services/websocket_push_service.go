package services

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"withdraw-backend/internal/metrics"
	"withdraw-backend/internal/models"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// origin is enforced by the CORS layer in front of the API
		return true
	},
}

// Connection one websocket client of a user
type Connection struct {
	ID          string          `json:"id"`
	UserAddress string          `json:"user_address"`
	Conn        *websocket.Conn `json:"-"`
	Send        chan []byte     `json:"-"`
	LastPing    time.Time       `json:"last_ping"`
}

// PushMessage envelope of every pushed message
type PushMessage struct {
	Type        string      `json:"type"`
	Timestamp   string      `json:"timestamp"`
	MessageID   string      `json:"message_id"`
	UserAddress string      `json:"user_address"`
	Data        interface{} `json:"data"`
}

// WithdrawalUpdateData payload of a withdrawal_update message
type WithdrawalUpdateData struct {
	WithdrawalID string       `json:"withdrawal_id,omitempty"`
	OldState     models.State `json:"old_state"`
	NewState     models.State `json:"new_state"`
	TxHash       string       `json:"tx_hash,omitempty"`
	UserMessage  string       `json:"user_message"`
	Progress     int          `json:"progress"`
	ErrorCode    string       `json:"error_code,omitempty"`
	ErrorMessage string       `json:"error_message,omitempty"`
}

// User-facing text per state
var withdrawalStateMessages = map[models.State]struct {
	Message  string
	Progress int
}{
	models.StateIdle:                 {"Ready for a new withdrawal", 0},
	models.StateValidating:           {"Checking your withdrawal details...", 5},
	models.StateCheckingAllowance:    {"Checking token approval...", 15},
	models.StateSigning:              {"Waiting for your signature...", 30},
	models.StateRelaying:             {"Submitting your withdrawal without gas...", 45},
	models.StateConfirmingOnChain:    {"Waiting for blockchain confirmation...", 60},
	models.StateRecordingInLedger:    {"Recording your withdrawal...", 80},
	models.StateAwaitingVerification: {"Withdrawal submitted, waiting for payout verification", 90},
	models.StateVerified:             {"Payout verified, funds are on the way to your bank", 100},
	models.StateFailed:               {"Withdrawal failed", 0},
	models.StateCancelled:            {"Withdrawal cancelled", 0},
}

// WebSocketPushService pushes orchestrator transitions to the affected user's
// websocket connections.
type WebSocketPushService struct {
	connections map[string]*Connection   // key: connection id
	userConns   map[string][]*Connection // key: lowercased user address
	mutex       sync.RWMutex
	logger      *logrus.Logger
}

// NewWebSocketPushService creates an empty hub
func NewWebSocketPushService(logger *logrus.Logger) *WebSocketPushService {
	return &WebSocketPushService{
		connections: make(map[string]*Connection),
		userConns:   make(map[string][]*Connection),
		logger:      logger,
	}
}

func userKey(address string) string {
	return strings.ToLower(address)
}

// RegisterConnection adds conn to the hub and greets it.
func (s *WebSocketPushService) RegisterConnection(conn *Connection) {
	s.mutex.Lock()
	s.connections[conn.ID] = conn
	key := userKey(conn.UserAddress)
	s.userConns[key] = append(s.userConns[key], conn)
	s.mutex.Unlock()

	metrics.WebSocketClients.Inc()
	s.logger.WithFields(logrus.Fields{
		"user":    conn.UserAddress,
		"conn_id": conn.ID,
	}).Debug("websocket connection registered")

	s.sendToConnection(conn, PushMessage{
		Type:        "connection_established",
		Timestamp:   time.Now().Format(time.RFC3339),
		MessageID:   uuid.NewString(),
		UserAddress: conn.UserAddress,
		Data: map[string]interface{}{
			"connection_id": conn.ID,
		},
	})
}

// UnregisterConnection removes conn and closes its send channel. Idempotent.
func (s *WebSocketPushService) UnregisterConnection(conn *Connection) {
	s.mutex.Lock()
	if _, ok := s.connections[conn.ID]; !ok {
		s.mutex.Unlock()
		return
	}
	delete(s.connections, conn.ID)

	key := userKey(conn.UserAddress)
	conns := s.userConns[key]
	for i, c := range conns {
		if c.ID == conn.ID {
			s.userConns[key] = append(conns[:i], conns[i+1:]...)
			break
		}
	}
	if len(s.userConns[key]) == 0 {
		delete(s.userConns, key)
	}
	close(conn.Send)
	s.mutex.Unlock()

	metrics.WebSocketClients.Dec()
	s.logger.WithFields(logrus.Fields{
		"user":    conn.UserAddress,
		"conn_id": conn.ID,
	}).Debug("websocket connection unregistered")
}

// OnTransition pushes the transition to the user's connections. Never blocks;
// a full connection buffer drops the message.
func (s *WebSocketPushService) OnTransition(ctx context.Context, t models.WithdrawalTransition) {
	info := withdrawalStateMessages[t.ToState]
	data := WithdrawalUpdateData{
		WithdrawalID: t.WithdrawalID,
		OldState:     t.FromState,
		NewState:     t.ToState,
		TxHash:       t.TxHash,
		UserMessage:  info.Message,
		Progress:     info.Progress,
		ErrorCode:    t.ErrorCode,
		ErrorMessage: t.Message,
	}
	s.Broadcast(PushMessage{
		Type:        "withdrawal_update",
		Timestamp:   t.CreatedAt.Format(time.RFC3339),
		MessageID:   t.ID,
		UserAddress: t.UserAddress,
		Data:        data,
	})
}

// Broadcast delivers message to every connection of message.UserAddress.
func (s *WebSocketPushService) Broadcast(message PushMessage) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	conns := s.userConns[userKey(message.UserAddress)]
	if len(conns) == 0 {
		return
	}

	data, err := json.Marshal(message)
	if err != nil {
		s.logger.WithError(err).Error("failed to marshal push message")
		return
	}

	dropped := 0
	for _, conn := range conns {
		select {
		case conn.Send <- data:
		default:
			dropped++
		}
	}
	if dropped > 0 {
		s.logger.WithFields(logrus.Fields{
			"user":    message.UserAddress,
			"type":    message.Type,
			"dropped": dropped,
		}).Warn("push message dropped for slow connections")
	}
}

func (s *WebSocketPushService) sendToConnection(conn *Connection, message PushMessage) {
	data, err := json.Marshal(message)
	if err != nil {
		s.logger.WithError(err).Error("failed to marshal push message")
		return
	}
	select {
	case conn.Send <- data:
	default:
		s.logger.WithField("conn_id", conn.ID).Warn("failed to send to connection")
	}
}

// UserConnections number of open connections of user
func (s *WebSocketPushService) UserConnections(userAddress string) int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.userConns[userKey(userAddress)])
}

// HandleWebSocket upgrades the request and serves the connection until the
// client goes away. userAddress must already be authenticated; snapshot, when
// set, is sent right after the greeting.
func (s *WebSocketPushService) HandleWebSocket(w http.ResponseWriter, r *http.Request, userAddress string, snapshot interface{}) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Warn("websocket upgrade failed")
		return
	}

	conn := &Connection{
		ID:          uuid.NewString(),
		UserAddress: userAddress,
		Conn:        ws,
		Send:        make(chan []byte, sendBuffer),
		LastPing:    time.Now(),
	}
	s.RegisterConnection(conn)
	if snapshot != nil {
		s.sendToConnection(conn, PushMessage{
			Type:        "withdrawal_snapshot",
			Timestamp:   time.Now().Format(time.RFC3339),
			MessageID:   uuid.NewString(),
			UserAddress: userAddress,
			Data:        snapshot,
		})
	}

	go s.writeLoop(conn)
	s.readLoop(conn)
}

func (s *WebSocketPushService) writeLoop(conn *Connection) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			conn.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				s.logger.WithField("conn_id", conn.ID).WithError(err).Debug("websocket write failed")
				return
			}
		case <-ticker.C:
			conn.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readLoop only consumes control frames; clients never send data.
func (s *WebSocketPushService) readLoop(conn *Connection) {
	defer s.UnregisterConnection(conn)

	conn.Conn.SetReadLimit(512)
	conn.Conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.Conn.SetPongHandler(func(string) error {
		conn.Conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.LastPing = time.Now()
		return nil
	})

	for {
		if _, _, err := conn.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.WithField("conn_id", conn.ID).WithError(err).Debug("websocket read error")
			}
			return
		}
	}
}
