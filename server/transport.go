package server

import (
	"bufio"
	"net"
	"time"

	"tacticarena/protocol"
)

// FrameConn 会话所需的双工帧连接。TCP 与 WebSocket 各有实现
type FrameConn interface {
	// ReadFrame 返回一帧的消息体；对端正常关闭时返回 io.EOF
	ReadFrame() ([]byte, error)
	// WriteFrame 写出一个已带长度前缀的完整帧
	WriteFrame(frame []byte) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	RemoteAddr() string
	Close() error
}

type tcpConn struct {
	c       net.Conn
	r       *bufio.Reader
	maxSize int
}

func newTCPConn(c net.Conn, maxSize int) *tcpConn {
	return &tcpConn{c: c, r: bufio.NewReader(c), maxSize: maxSize}
}

func (t *tcpConn) ReadFrame() ([]byte, error) {
	return protocol.ReadFrame(t.r, t.maxSize)
}

func (t *tcpConn) WriteFrame(frame []byte) error {
	_, err := t.c.Write(frame)
	return err
}

func (t *tcpConn) SetReadDeadline(d time.Time) error { return t.c.SetReadDeadline(d) }
func (t *tcpConn) SetWriteDeadline(d time.Time) error { return t.c.SetWriteDeadline(d) }
func (t *tcpConn) RemoteAddr() string { return t.c.RemoteAddr().String() }
func (t *tcpConn) Close() error { return t.c.Close() }
