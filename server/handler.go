package server

import (
	"context"
	"errors"
	"fmt"

	"tacticarena/game"
	"tacticarena/protocol"
)

var (
	// ErrIdentityMismatch 消息中的玩家 ID 与连接身份不符
	ErrIdentityMismatch = errors.New("identity mismatch")
	// ErrUnhandledMessage 该方向不接受此类消息
	ErrUnhandledMessage = errors.New("unhandled message")
)

// Engine 处理器依赖的引擎操作（game.Arena 实现）
type Engine interface {
	RemovePlayer(ctx context.Context, id protocol.PlayerID) (bool, error)
	MovePlayer(ctx context.Context, id protocol.PlayerID, target protocol.Position) error
	Attack(ctx context.Context, attackerID, targetID protocol.PlayerID) (uint32, error)
	EndTurn(ctx context.Context, id protocol.PlayerID) error
}

// Handler 把 (消息, 连接身份) 映射为一次引擎调用，至多产生一条直接回复
type Handler struct {
	engine  Engine
	metrics *Metrics
}

func NewHandler(engine Engine, metrics *Metrics) *Handler {
	if metrics == nil {
		metrics = &Metrics{}
	}
	return &Handler{engine: engine, metrics: metrics}
}

// Handle 返回的 error 只有两类：ErrIdentityMismatch/ErrUnhandledMessage（拒绝本次请求），
// 或引擎不可用等基础设施错误。规则校验失败以 Response{Success:false} 返回。
func (h *Handler) Handle(ctx context.Context, msg protocol.Message, sender protocol.PlayerID) (protocol.Message, error) {
	switch m := msg.(type) {
	case protocol.Move:
		if err := h.checkIdentity(m.PlayerID, sender); err != nil {
			return nil, err
		}
		err := h.engine.MovePlayer(ctx, sender, m.Target)
		return h.respond(err, "move accepted")

	case protocol.Attack:
		if err := h.checkIdentity(m.AttackerID, sender); err != nil {
			return nil, err
		}
		dmg, err := h.engine.Attack(ctx, sender, m.TargetID)
		return h.respond(err, fmt.Sprintf("attack hit for %d damage", dmg))

	case protocol.EndTurn:
		if err := h.checkIdentity(m.PlayerID, sender); err != nil {
			return nil, err
		}
		err := h.engine.EndTurn(ctx, sender)
		return h.respond(err, "turn ended")

	case protocol.Connect:
		// 身份在 accept 时分配
		return nil, nil

	case protocol.Disconnect:
		if err := h.checkIdentity(m.PlayerID, sender); err != nil {
			return nil, err
		}
		if _, err := h.engine.RemovePlayer(ctx, sender); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnhandledMessage, kindOf(msg))
}

func (h *Handler) checkIdentity(claimed, sender protocol.PlayerID) error {
	if claimed == sender {
		return nil
	}
	h.metrics.IncIdentityViolation()
	return fmt.Errorf("%w: player %d cannot act as %d", ErrIdentityMismatch, sender, claimed)
}

func (h *Handler) respond(err error, okText string) (protocol.Message, error) {
	switch {
	case err == nil:
		h.metrics.IncAccepted()
		return protocol.Response{Success: true, Message: okText}, nil
	case game.IsRejection(err):
		h.metrics.IncRejected()
		return protocol.Response{Success: false, Message: err.Error()}, nil
	default:
		return nil, err
	}
}

// IsRequestError 判断 Handle 的错误是否只是拒绝本次请求（连接可继续）
func IsRequestError(err error) bool {
	return errors.Is(err, ErrIdentityMismatch) || errors.Is(err, ErrUnhandledMessage)
}

func kindOf(msg protocol.Message) string {
	if msg == nil {
		return "nil"
	}
	return msg.Kind().String()
}
