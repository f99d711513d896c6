package player

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	sendChanBuf   = 256
	writeDeadline = 10 * time.Second
	readDeadline  = 60 * time.Second
	pingInterval  = 30 * time.Second // server-side WS ping
)

// Packet is the unified WS message envelope.
type Packet struct {
	Seq     uint64          `json:"seq"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// PlayerSession represents a connected player. It carries the identity,
// level, currency, and item holdings that quest objectives evaluate against,
// and implements objective.Player.
type PlayerSession struct {
	PlayerID  string // stable player identity, the progress record key
	AccountID int64
	Name      string

	Conn *websocket.Conn

	SendChan chan []byte
	Done     chan struct{}
	TraceID  string
	LastSeq  uint64

	mu     sync.Mutex
	level  int
	gold   int64
	items  map[string]int
	logger *zap.Logger
}

// NewPlayerSession creates a new PlayerSession with its write goroutine
// started. conn may be nil in tests; then no pump runs.
func NewPlayerSession(playerID string, accountID int64, conn *websocket.Conn, logger *zap.Logger) *PlayerSession {
	s := &PlayerSession{
		PlayerID:  playerID,
		AccountID: accountID,
		Conn:      conn,
		SendChan:  make(chan []byte, sendChanBuf),
		Done:      make(chan struct{}),
		level:     1,
		items:     make(map[string]int),
		logger:    logger,
	}
	if conn != nil {
		go s.writePump()
	}
	return s
}

// ---- objective.Player ----

func (s *PlayerSession) ID() string { return s.PlayerID }

func (s *PlayerSession) Level() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.level
}

func (s *PlayerSession) CountItem(itemType string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.items[itemType]
}

// RemoveItem removes up to n items and returns how many were removed.
func (s *PlayerSession) RemoveItem(itemType string, n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	held := s.items[itemType]
	if n > held {
		n = held
	}
	if n <= 0 {
		return 0
	}
	if held == n {
		delete(s.items, itemType)
	} else {
		s.items[itemType] = held - n
	}
	return n
}

// ---- state updates from the host game ----

// SetLevel records the player's current level.
func (s *PlayerSession) SetLevel(level int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.level = level
}

// AddItem adds n items of the given type to the session's holdings view.
func (s *PlayerSession) AddItem(itemType string, n int) {
	if n <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[itemType] += n
}

// Gold returns the session's currency balance.
func (s *PlayerSession) Gold() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gold
}

// SetGold records the currency balance.
func (s *PlayerSession) SetGold(g int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gold = g
}

// ---- WS plumbing ----

// writePump drains SendChan and writes to the WebSocket connection.
// Also sends periodic WebSocket pings to detect dead connections quickly.
func (s *PlayerSession) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer s.Conn.Close()
	for {
		select {
		case data, ok := <-s.SendChan:
			if !ok {
				return
			}
			_ = s.Conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := s.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.logger.Warn("ws write error",
					zap.String("player_id", s.PlayerID),
					zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = s.Conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := s.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.Done:
			_ = s.Conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// Send encodes pkt and sends it non-blocking. Drops if channel full or closed.
func (s *PlayerSession) Send(pkt *Packet) {
	if s.IsClosed() {
		return
	}
	data, err := json.Marshal(pkt)
	if err != nil {
		return
	}
	select {
	case s.SendChan <- data:
	case <-s.Done:
	default:
		if !s.IsClosed() {
			s.logger.Warn("send channel full, dropping packet",
				zap.String("player_id", s.PlayerID),
				zap.String("type", pkt.Type))
		}
	}
}

// SetReadDeadline pushes the read deadline forward.
func (s *PlayerSession) SetReadDeadline() {
	_ = s.Conn.SetReadDeadline(time.Now().Add(readDeadline))
}

// Close signals the writePump to shut down.
func (s *PlayerSession) Close() {
	select {
	case <-s.Done:
	default:
		close(s.Done)
	}
}

// IsClosed returns true if the session has been closed.
func (s *PlayerSession) IsClosed() bool {
	select {
	case <-s.Done:
		return true
	default:
		return false
	}
}
