package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// HeaderSize 帧头长度：u32 小端字节数
const HeaderSize = 4

// DefaultMaxFrameSize 单帧消息体上限（1MB）
const DefaultMaxFrameSize = 1 << 20

var (
	ErrEmptyMessage  = errors.New("protocol: empty message body")
	ErrUnknownKind   = errors.New("protocol: unknown message kind")
	ErrTrailingData  = errors.New("protocol: trailing bytes after message")
	ErrFrameTooLarge = errors.New("protocol: frame exceeds size limit")
	ErrBadFrame      = errors.New("protocol: length prefix does not match payload")
)

// Marshal 编码消息体：首字节为 Kind，其后为按字段顺序数组编码的 msgpack
func Marshal(m Message) ([]byte, error) {
	if m == nil {
		return nil, fmt.Errorf("protocol: marshal nil message")
	}
	var buf bytes.Buffer
	buf.WriteByte(byte(m.Kind()))
	enc := msgpack.NewEncoder(&buf)
	enc.UseArrayEncodedStructs(true)
	if err := enc.Encode(m); err != nil {
		return nil, fmt.Errorf("protocol: encode %s: %w", m.Kind(), err)
	}
	return buf.Bytes(), nil
}

// Unmarshal 解码消息体，按显式判别值分派
func Unmarshal(body []byte) (Message, error) {
	if len(body) == 0 {
		return nil, ErrEmptyMessage
	}
	k := Kind(body[0])
	r := bytes.NewReader(body[1:])
	dec := msgpack.NewDecoder(r)

	var m Message
	switch k {
	case KindConnect:
		m = &Connect{}
	case KindDisconnect:
		m = &Disconnect{}
	case KindMove:
		m = &Move{}
	case KindAttack:
		m = &Attack{}
	case KindEndTurn:
		m = &EndTurn{}
	case KindSync:
		m = &Sync{}
	case KindWelcome:
		m = &Welcome{}
	case KindResponse:
		m = &Response{}
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, body[0])
	}
	if err := dec.Decode(m); err != nil {
		return nil, fmt.Errorf("protocol: decode %s: %w", k, err)
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("%w: %d bytes in %s", ErrTrailingData, r.Len(), k)
	}
	return deref(m), nil
}

// deref 统一以值类型返回变体，便于 type switch
func deref(m Message) Message {
	switch v := m.(type) {
	case *Connect:
		return *v
	case *Disconnect:
		return *v
	case *Move:
		return *v
	case *Attack:
		return *v
	case *EndTurn:
		return *v
	case *Sync:
		return *v
	case *Welcome:
		return *v
	case *Response:
		return *v
	}
	return m
}

// EncodeFrame 编码消息并加上长度前缀，可直接写入连接
func EncodeFrame(m Message) ([]byte, error) {
	body, err := Marshal(m)
	if err != nil {
		return nil, err
	}
	frame := make([]byte, HeaderSize+len(body))
	binary.LittleEndian.PutUint32(frame, uint32(len(body)))
	copy(frame[HeaderSize:], body)
	return frame, nil
}

// WriteFrame 写出一帧（一次 Write 调用，前缀与消息体不拆开）
func WriteFrame(w io.Writer, body []byte) error {
	frame := make([]byte, HeaderSize+len(body))
	binary.LittleEndian.PutUint32(frame, uint32(len(body)))
	copy(frame[HeaderSize:], body)
	_, err := w.Write(frame)
	return err
}

// ReadFrame 读取一整帧。流结束或帧不完整时返回 io.EOF（视为正常关闭）
func ReadFrame(r io.Reader, maxSize int) ([]byte, error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, eofOnShortRead(err)
	}
	n := binary.LittleEndian.Uint32(hdr[:])
	if maxSize > 0 && uint64(n) > uint64(maxSize) {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, n, maxSize)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, eofOnShortRead(err)
	}
	return body, nil
}

// SplitFrame 校验一个完整帧（如一条 WebSocket 二进制消息）并返回消息体
func SplitFrame(frame []byte, maxSize int) ([]byte, error) {
	if len(frame) < HeaderSize {
		return nil, ErrBadFrame
	}
	n := binary.LittleEndian.Uint32(frame)
	if maxSize > 0 && uint64(n) > uint64(maxSize) {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, n, maxSize)
	}
	if uint64(n) != uint64(len(frame)-HeaderSize) {
		return nil, ErrBadFrame
	}
	return frame[HeaderSize:], nil
}

// WriteMessage 编码并写出一条消息
func WriteMessage(w io.Writer, m Message) error {
	body, err := Marshal(m)
	if err != nil {
		return err
	}
	return WriteFrame(w, body)
}

// ReadMessage 读取并解码一条消息
func ReadMessage(r io.Reader, maxSize int) (Message, error) {
	body, err := ReadFrame(r, maxSize)
	if err != nil {
		return nil, err
	}
	return Unmarshal(body)
}

func eofOnShortRead(err error) error {
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return io.EOF
	}
	return err
}
