package protocol

// PlayerID 玩家唯一标识，由服务端在接入时单调分配，从 1 开始
type PlayerID uint32

// 新玩家与每回合开始时的默认数值
const (
	DefaultActionPoints   uint32 = 6
	DefaultMovementPoints uint32 = 3
	DefaultMaxHealth      uint32 = 100
)

// Position 网格坐标（不可变值类型）
type Position struct {
	X int32 `json:"x" msgpack:"x"`
	Y int32 `json:"y" msgpack:"y"`
}

// Pos 构造坐标的简写
func Pos(x, y int32) Position {
	return Position{X: x, Y: y}
}

// ManhattanDistance 曼哈顿距离 |dx| + |dy|，以 int64 计算，任意坐标都不会溢出
func (p Position) ManhattanDistance(q Position) int64 {
	return abs64(int64(p.X)-int64(q.X)) + abs64(int64(p.Y)-int64(q.Y))
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// PlayerState 玩家权威状态，仅能通过引擎的校验接口修改
type PlayerState struct {
	ID             PlayerID `json:"id" msgpack:"id"`
	Position       Position `json:"position" msgpack:"position"`
	ActionPoints   uint32   `json:"actionPoints" msgpack:"ap"`
	MovementPoints uint32   `json:"movementPoints" msgpack:"mp"`
	Health         uint32   `json:"health" msgpack:"hp"`
	MaxHealth      uint32   `json:"maxHealth" msgpack:"max_hp"`
	Alive          bool     `json:"alive" msgpack:"alive"`
}

// NewPlayerState 以默认数值创建玩家
func NewPlayerState(id PlayerID, pos Position) PlayerState {
	return PlayerState{
		ID:             id,
		Position:       pos,
		ActionPoints:   DefaultActionPoints,
		MovementPoints: DefaultMovementPoints,
		Health:         DefaultMaxHealth,
		MaxHealth:      DefaultMaxHealth,
		Alive:          true,
	}
}

// ResetTurn 回合开始时重置 AP/MP
func (p *PlayerState) ResetTurn() {
	p.ActionPoints = DefaultActionPoints
	p.MovementPoints = DefaultMovementPoints
}

// WorldState 整个对局的状态；Players 按加入顺序排列（仅用于广播遍历与轮转顺序）
type WorldState struct {
	Players     []PlayerState `json:"players" msgpack:"players"`
	CurrentTurn PlayerID      `json:"currentTurn" msgpack:"current_turn"`
	TurnNumber  uint32        `json:"turnNumber" msgpack:"turn_number"`
	MapWidth    int32         `json:"mapWidth" msgpack:"map_width"`
	MapHeight   int32         `json:"mapHeight" msgpack:"map_height"`
}

// NewWorldState 创建空世界，回合计数从 1 开始
func NewWorldState(width, height int32) WorldState {
	return WorldState{
		Players:    []PlayerState{},
		TurnNumber: 1,
		MapWidth:   width,
		MapHeight:  height,
	}
}

// Player 按 ID 查找玩家
func (w *WorldState) Player(id PlayerID) (*PlayerState, bool) {
	i := w.IndexOf(id)
	if i < 0 {
		return nil, false
	}
	return &w.Players[i], true
}

// IndexOf 返回玩家在 Players 中的下标，不存在时为 -1
func (w *WorldState) IndexOf(id PlayerID) int {
	for i := range w.Players {
		if w.Players[i].ID == id {
			return i
		}
	}
	return -1
}

// InBounds 坐标是否落在 [0,w) x [0,h) 内
func (w *WorldState) InBounds(p Position) bool {
	return p.X >= 0 && p.X < w.MapWidth && p.Y >= 0 && p.Y < w.MapHeight
}

// OccupiedBy 返回站在 p 上的存活玩家（排除 exclude）
func (w *WorldState) OccupiedBy(p Position, exclude PlayerID) (PlayerID, bool) {
	for i := range w.Players {
		pl := &w.Players[i]
		if pl.Alive && pl.ID != exclude && pl.Position == p {
			return pl.ID, true
		}
	}
	return 0, false
}
