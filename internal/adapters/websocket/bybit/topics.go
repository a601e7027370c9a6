package bybit

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"liqzones/pkg/errors"
	"liqzones/pkg/logger"
)

const (
	defaultPingInterval = 20 * time.Second
	readTimeout         = 30 * time.Second
	writeTimeout        = 5 * time.Second
)

// topicMessage is the v5 public push envelope shared by publicTrade and allLiquidation
type topicMessage struct {
	Topic string       `json:"topic"`
	Type  string       `json:"type"`
	TS    int64        `json:"ts"`
	Data  []topicEntry `json:"data"`
}

type topicEntry struct {
	Time   int64  `json:"T"`
	Symbol string `json:"s"`
	Side   string `json:"S"`
	Size   string `json:"v"`
	Price  string `json:"p"`
}

func (m topicMessage) isTrade() bool       { return strings.HasPrefix(m.Topic, "publicTrade.") }
func (m topicMessage) isLiquidation() bool { return strings.HasPrefix(m.Topic, "allLiquidation.") }

// topicStream is a single raw v5 connection subscribed to a fixed topic list
type topicStream struct {
	url          string
	topics       []string
	pingInterval time.Duration
	log          *logger.Logger

	writeMu sync.Mutex
	conn    *websocket.Conn
}

func newTopicStream(url string, topics []string, pingInterval time.Duration, log *logger.Logger) *topicStream {
	if pingInterval <= 0 {
		pingInterval = defaultPingInterval
	}
	return &topicStream{url: url, topics: topics, pingInterval: pingInterval, log: log}
}

func (s *topicStream) dial(ctx context.Context) error {
	dialer := websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second

	conn, _, err := dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return errors.Wrapf(err, "failed to connect to %s", s.url)
	}
	s.conn = conn

	if err := s.write(map[string]interface{}{"op": "subscribe", "args": s.topics}); err != nil {
		conn.Close()
		return errors.Wrap(err, "subscribe")
	}

	s.log.Infow("Subscribed to Bybit topics", "topics", s.topics)
	return nil
}

func (s *topicStream) write(v interface{}) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return s.conn.WriteJSON(v)
}

// run reads until the context ends or the connection fails
func (s *topicStream) run(ctx context.Context, fn func(topicMessage)) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go s.pingLoop(ctx)

	for {
		if err := s.conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			return err
		}
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return errors.Wrap(err, "read")
		}

		var msg topicMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.log.Debugw("Skipping undecodable message", "error", err)
			continue
		}
		if msg.Topic == "" {
			// pong and subscription acks
			continue
		}
		fn(msg)
	}
}

func (s *topicStream) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.write(map[string]string{"op": "ping"}); err != nil {
				s.log.Warnw("Bybit ping failed", "error", err)
				return
			}
		}
	}
}

func (s *topicStream) close() {
	if s.conn == nil {
		return
	}
	s.writeMu.Lock()
	_ = s.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	s.writeMu.Unlock()
	s.conn.Close()
}
