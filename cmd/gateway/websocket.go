package main

import (
	"io"
	"net"

	"github.com/gorilla/websocket"
)

// wsStream adapts a WebSocket connection to the byte stream the tunnel
// layer consumes. Writes become text messages; reads drain messages in
// arrival order, so message boundaries are invisible to the streaming
// instruction parser.
type wsStream struct {
	conn *websocket.Conn
	cur  io.Reader
}

func newWSStream(conn *websocket.Conn) *wsStream {
	return &wsStream{conn: conn}
}

func (s *wsStream) Read(p []byte) (int, error) {
	for {
		if s.cur == nil {
			_, r, err := s.conn.NextReader()
			if err != nil {
				if websocket.IsCloseError(err,
					websocket.CloseNormalClosure,
					websocket.CloseGoingAway,
					websocket.CloseNoStatusReceived) {
					return 0, io.EOF
				}
				return 0, err
			}
			s.cur = r
		}
		n, err := s.cur.Read(p)
		if err == io.EOF {
			s.cur = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (s *wsStream) Write(p []byte) (int, error) {
	if err := s.conn.WriteMessage(websocket.TextMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (s *wsStream) Close() error {
	return s.conn.Close()
}

// RemoteAddr surfaces the peer address for session records.
func (s *wsStream) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}
