package server

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"tacticarena/protocol"
)

var errTextMessage = errors.New("websocket: text messages are not part of the protocol")

// wsConn 浏览器接入：每条二进制 WS 消息恰好承载一个带长度前缀的帧
type wsConn struct {
	ws      *websocket.Conn
	maxSize int
}

func newWSConn(ws *websocket.Conn, maxSize int) *wsConn {
	ws.SetReadLimit(int64(maxSize + protocol.HeaderSize))
	return &wsConn{ws: ws, maxSize: maxSize}
}

func (c *wsConn) ReadFrame() ([]byte, error) {
	mt, data, err := c.ws.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return nil, io.EOF
		}
		return nil, err
	}
	if mt != websocket.BinaryMessage {
		return nil, errTextMessage
	}
	return protocol.SplitFrame(data, c.maxSize)
}

func (c *wsConn) WriteFrame(frame []byte) error {
	return c.ws.WriteMessage(websocket.BinaryMessage, frame)
}

func (c *wsConn) SetReadDeadline(t time.Time) error { return c.ws.SetReadDeadline(t) }
func (c *wsConn) SetWriteDeadline(t time.Time) error { return c.ws.SetWriteDeadline(t) }
func (c *wsConn) RemoteAddr() string { return c.ws.RemoteAddr().String() }
func (c *wsConn) Close() error { return c.ws.Close() }

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// 演示环境：允许所有来源（生产环境需严格限制）
		return true
	},
}

// HandleWS WebSocket 接入：与 TCP 走同一套会话状态机，请求在会话结束前不返回
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	ctx := s.baseContext()
	if ctx == nil {
		http.Error(w, "server not started", http.StatusServiceUnavailable)
		return
	}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		Log.Infof("upgrade error: %v", err)
		return
	}
	s.serveConn(ctx, newWSConn(ws, s.cfg.MaxFrameSize))
}
