package server

import (
	"context"
	"errors"
	"sync"

	"tacticarena/protocol"
)

var (
	errOutboxClosed = errors.New("outbox closed")
	errHubClosed    = errors.New("hub closed")
)

// Outbox 单个会话的发送队列，由写协程消费。关闭后不再接收任何帧
type Outbox struct {
	ch   chan []byte
	done chan struct{}
	once sync.Once
}

func NewOutbox(size int) *Outbox {
	return &Outbox{
		ch:   make(chan []byte, size),
		done: make(chan struct{}),
	}
}

// Offer 非阻塞投递；队列满或已关闭时返回 false
func (o *Outbox) Offer(frame []byte) bool {
	select {
	case <-o.done:
		return false
	default:
	}
	select {
	case o.ch <- frame:
		return true
	default:
		return false
	}
}

// Send 阻塞投递，用于不能丢弃的直接回复
func (o *Outbox) Send(ctx context.Context, frame []byte) error {
	select {
	case <-o.done:
		return errOutboxClosed
	default:
	}
	select {
	case o.ch <- frame:
		return nil
	case <-o.done:
		return errOutboxClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Outbox) Close() { o.once.Do(func() { close(o.done) }) }
func (o *Outbox) Frames() <-chan []byte { return o.ch }
func (o *Outbox) Done() <-chan struct{} { return o.done }

// Event 会话发布到广播协程的 (发送者, 原始消息)
type Event struct {
	Sender  protocol.PlayerID
	Message protocol.Message
}

// Snapshotter 广播时获取世界快照（game.Arena 实现）
type Snapshotter interface {
	Snapshot(ctx context.Context) (protocol.WorldState, error)
}

type subscription struct {
	id     protocol.PlayerID
	outbox *Outbox
}

// Hub 广播协程：独占按玩家 ID 索引的发送队列表，
// 每收到一批事件就取一次快照，向所有在线会话推送 Sync
type Hub struct {
	source  Snapshotter
	metrics *Metrics

	events    chan Event
	joinChan  chan subscription
	leaveChan chan protocol.PlayerID
	done      chan struct{}

	outboxes map[protocol.PlayerID]*Outbox
}

func NewHub(source Snapshotter, metrics *Metrics) *Hub {
	if metrics == nil {
		metrics = &Metrics{}
	}
	return &Hub{
		source:    source,
		metrics:   metrics,
		events:    make(chan Event, 256), // 足够缓冲，避免网络读被广播拖慢
		joinChan:  make(chan subscription),
		leaveChan: make(chan protocol.PlayerID, 64),
		done:      make(chan struct{}),
		outboxes:  make(map[protocol.PlayerID]*Outbox),
	}
}

// Run 广播主循环，直到 ctx 取消；退出时关闭所有发送队列
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		for id, ob := range h.outboxes {
			ob.Close()
			delete(h.outboxes, id)
		}
		close(h.done)
	}()
	for {
		select {
		case sub := <-h.joinChan:
			h.join(sub)
		case id := <-h.leaveChan:
			h.leave(id)
		case ev := <-h.events:
			n := 1 + h.drain()
			h.broadcast(ctx, ev, n)
		case <-ctx.Done():
			return
		}
	}
}

// Done 在 Run 退出后关闭
func (h *Hub) Done() <-chan struct{} { return h.done }

// Register 登记会话的发送队列；返回后该会话会收到之后的每一次广播
func (h *Hub) Register(ctx context.Context, id protocol.PlayerID, ob *Outbox) error {
	select {
	case h.joinChan <- subscription{id: id, outbox: ob}:
		return nil
	case <-h.done:
		return errHubClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Unregister 移除并关闭会话的发送队列（已被踢出时为 no-op）
func (h *Hub) Unregister(id protocol.PlayerID) {
	select {
	case h.leaveChan <- id:
	case <-h.done:
	}
}

// Publish 投递事件；广播协程繁忙时阻塞（不持有引擎）
func (h *Hub) Publish(ctx context.Context, ev Event) error {
	select {
	case <-h.done:
		return errHubClosed
	default:
	}
	select {
	case h.events <- ev:
		return nil
	case <-h.done:
		return errHubClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) join(sub subscription) {
	if old, ok := h.outboxes[sub.id]; ok && old != sub.outbox {
		old.Close()
	}
	h.outboxes[sub.id] = sub.outbox
}

func (h *Hub) leave(id protocol.PlayerID) {
	if ob, ok := h.outboxes[id]; ok {
		ob.Close()
		delete(h.outboxes, id)
	}
}

// drain 非阻塞地处理已排队的事件与进出请求，返回合并的事件数
func (h *Hub) drain() int {
	n := 0
	for {
		select {
		case sub := <-h.joinChan:
			h.join(sub)
		case id := <-h.leaveChan:
			h.leave(id)
		case <-h.events:
			n++
		default:
			return n
		}
	}
}

// broadcast 取一次快照并推送给所有会话（包括发送者）；队列满的会话被踢出
func (h *Hub) broadcast(ctx context.Context, last Event, batched int) {
	world, err := h.source.Snapshot(ctx)
	if err != nil {
		Log.Warnf("broadcast snapshot failed: %v", err)
		return
	}
	frame, err := protocol.EncodeFrame(protocol.Sync{World: world})
	if err != nil {
		Log.Errorf("encode sync: %v", err)
		return
	}
	for id, ob := range h.outboxes {
		if ob.Offer(frame) {
			continue
		}
		ob.Close()
		delete(h.outboxes, id)
		h.metrics.IncSlowEviction()
		Log.Warnw("evicting slow session", "player", id)
	}
	h.metrics.IncSync()
	Log.Debugw("sync broadcast", "trigger", kindOf(last.Message), "sender", last.Sender,
		"events", batched, "players", len(world.Players), "sessions", len(h.outboxes))
}
