package protocol

import "fmt"

// Kind 消息判别值，编码时作为消息体首字节
type Kind uint8

const (
	KindConnect Kind = iota + 1
	KindDisconnect
	KindMove
	KindAttack
	KindEndTurn
	KindSync
	KindWelcome
	KindResponse
)

var kindNames = map[Kind]string{
	KindConnect:    "connect",
	KindDisconnect: "disconnect",
	KindMove:       "move",
	KindAttack:     "attack",
	KindEndTurn:    "end_turn",
	KindSync:       "sync",
	KindWelcome:    "welcome",
	KindResponse:   "response",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Message 封闭的消息联合类型；只有本包内的变体实现它
type Message interface {
	Kind() Kind
	sealed()
}

// Connect 旧流程使用的接入通知；身份在 accept 时由服务端分配
type Connect struct {
	PlayerID   PlayerID `msgpack:"player_id"`
	PlayerName string   `msgpack:"player_name"`
}

// Disconnect 主动断开通知
type Disconnect struct {
	PlayerID PlayerID `msgpack:"player_id"`
}

// Move 移动请求
type Move struct {
	PlayerID PlayerID `msgpack:"player_id"`
	Target   Position `msgpack:"target_position"`
}

// Attack 攻击请求
type Attack struct {
	AttackerID PlayerID `msgpack:"attacker_id"`
	TargetID   PlayerID `msgpack:"target_id"`
}

// EndTurn 结束回合请求
type EndTurn struct {
	PlayerID PlayerID `msgpack:"player_id"`
}

// Sync 服务端广播的完整世界快照（整体替换，非增量）
type Sync struct {
	World WorldState `msgpack:"world_state"`
}

// Welcome 连接建立后发送的第一条消息
type Welcome struct {
	PlayerID PlayerID   `msgpack:"player_id"`
	World    WorldState `msgpack:"world_state"`
}

// Response 对引起变更尝试的消息的直接回复
type Response struct {
	Success bool   `msgpack:"success"`
	Message string `msgpack:"message"`
}

func (Connect) Kind() Kind { return KindConnect }
func (Disconnect) Kind() Kind { return KindDisconnect }
func (Move) Kind() Kind { return KindMove }
func (Attack) Kind() Kind { return KindAttack }
func (EndTurn) Kind() Kind { return KindEndTurn }
func (Sync) Kind() Kind { return KindSync }
func (Welcome) Kind() Kind { return KindWelcome }
func (Response) Kind() Kind { return KindResponse }

func (Connect) sealed() {}
func (Disconnect) sealed() {}
func (Move) sealed() {}
func (Attack) sealed() {}
func (EndTurn) sealed() {}
func (Sync) sealed() {}
func (Welcome) sealed() {}
func (Response) sealed() {}
