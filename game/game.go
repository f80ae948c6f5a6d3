package game

import (
	"math/rand"

	"github.com/brunoga/deep/v2"

	"tacticarena/protocol"
)

const (
	// AttackDamage 每次攻击的固定伤害
	AttackDamage uint32 = 25
	// AttackRange 攻击的最大曼哈顿距离（相邻）
	AttackRange int64 = 1
)

// Game 权威状态机：独占一个 WorldState，所有修改都经过校验。
// Game 本身不做同步，只能被单个协程（Arena）持有。
type Game struct {
	world  protocol.WorldState
	nextID protocol.PlayerID
}

// New 创建固定尺寸的对局
func New(width, height int32) *Game {
	return &Game{
		world:  protocol.NewWorldState(width, height),
		nextID: 1,
	}
}

// AddPlayer 分配下一个 ID 并以默认数值加入玩家；第一个加入的玩家获得回合
func (g *Game) AddPlayer(pos protocol.Position) protocol.PlayerID {
	id := g.nextID
	g.nextID++
	g.world.Players = append(g.world.Players, protocol.NewPlayerState(id, pos))
	if g.world.CurrentTurn == 0 {
		g.world.CurrentTurn = id
	}
	return id
}

// RemovePlayer 移除玩家，返回是否真的移除（幂等）
func (g *Game) RemovePlayer(id protocol.PlayerID) bool {
	idx := g.world.IndexOf(id)
	if idx < 0 {
		return false
	}
	if g.world.CurrentTurn == id {
		g.handOver(idx)
	}
	g.world.Players = append(g.world.Players[:idx], g.world.Players[idx+1:]...)
	return true
}

// MovePlayer 校验顺序固定：存在 → 存活 → MP → 边界 → 占用
func (g *Game) MovePlayer(id protocol.PlayerID, target protocol.Position) error {
	p, ok := g.world.Player(id)
	if !ok {
		return ErrPlayerNotFound
	}
	if !p.Alive {
		return ErrPlayerDead
	}
	dist := p.Position.ManhattanDistance(target)
	if dist > int64(p.MovementPoints) {
		return ErrInsufficientMovement
	}
	if !g.world.InBounds(target) {
		return ErrInvalidPosition
	}
	if _, taken := g.world.OccupiedBy(target, id); taken {
		return ErrPositionOccupied
	}

	p.Position = target
	if dist >= int64(p.MovementPoints) {
		p.MovementPoints = 0
	} else {
		p.MovementPoints -= uint32(dist)
	}
	return nil
}

// Attack 对相邻目标造成固定伤害，消耗攻击者 1 AP，返回实际伤害
func (g *Game) Attack(attackerID, targetID protocol.PlayerID) (uint32, error) {
	if attackerID == targetID {
		return 0, ErrSelfAttack
	}
	attacker, ok := g.world.Player(attackerID)
	if !ok {
		return 0, ErrAttackerNotFound
	}
	if !attacker.Alive {
		return 0, ErrAttackerDead
	}
	if attacker.ActionPoints < 1 {
		return 0, ErrInsufficientActionPoints
	}
	target, ok := g.world.Player(targetID)
	if !ok {
		return 0, ErrTargetNotFound
	}
	if !target.Alive {
		return 0, ErrTargetAlreadyDead
	}
	if attacker.Position.ManhattanDistance(target.Position) > AttackRange {
		return 0, ErrTargetOutOfRange
	}

	if target.Health > AttackDamage {
		target.Health -= AttackDamage
	} else {
		target.Health = 0
		target.Alive = false
	}
	attacker.ActionPoints--

	if !target.Alive && g.world.CurrentTurn == targetID {
		g.handOver(g.world.IndexOf(targetID))
	}
	return AttackDamage, nil
}

// EndTurn 把回合交给调用者之后的下一个存活玩家（循环），回合数 +1
func (g *Game) EndTurn(id protocol.PlayerID) error {
	if g.world.CurrentTurn != id {
		return ErrNotYourTurn
	}
	idx := g.world.IndexOf(id)
	if idx < 0 {
		return ErrPlayerNotFound
	}
	// 没有存活玩家时不换人，但回合数照常增加
	if next, ok := g.nextLiving(idx, true); ok {
		g.world.CurrentTurn = g.world.Players[next].ID
		g.world.Players[next].ResetTurn()
	}
	g.world.TurnNumber++
	return nil
}

// handOver 当前回合持有者离场或死亡时移交回合；无存活者则清零
func (g *Game) handOver(idx int) {
	next, ok := g.nextLiving(idx, false)
	if !ok {
		g.world.CurrentTurn = 0
		return
	}
	g.world.CurrentTurn = g.world.Players[next].ID
	g.world.Players[next].ResetTurn()
	g.world.TurnNumber++
}

// nextLiving 从 idx 之后循环查找存活玩家；includeSelf 时最后检查 idx 本身
func (g *Game) nextLiving(idx int, includeSelf bool) (int, bool) {
	n := len(g.world.Players)
	for step := 1; step <= n; step++ {
		i := (idx + step) % n
		if i == idx && !includeSelf {
			break
		}
		if g.world.Players[i].Alive {
			return i, true
		}
	}
	return 0, false
}

// spawnAttempts 全图扫描前随机试探空闲格的次数
const spawnAttempts = 32

// SpawnPosition 选择出生点。avoidOccupied 时先随机试探，失败再在空闲格中均匀随机；
// 地图已满或不避让时退化为任意格（允许重叠）。不随地图大小分配内存
func (g *Game) SpawnPosition(r *rand.Rand, avoidOccupied bool) protocol.Position {
	w, h := g.world.MapWidth, g.world.MapHeight
	if avoidOccupied {
		for i := 0; i < spawnAttempts; i++ {
			p := protocol.Pos(r.Int31n(w), r.Int31n(h))
			if _, taken := g.world.OccupiedBy(p, 0); !taken {
				return p
			}
		}
		if p, ok := g.pickFreeCell(r); ok {
			return p
		}
	}
	return protocol.Pos(r.Int31n(w), r.Int31n(h))
}

// pickFreeCell 两遍扫描：先数空闲格，再取第 k 个
func (g *Game) pickFreeCell(r *rand.Rand) (protocol.Position, bool) {
	free := int64(0)
	g.eachFreeCell(func(protocol.Position) bool { free++; return true })
	if free == 0 {
		return protocol.Position{}, false
	}
	k := r.Int63n(free)
	var picked protocol.Position
	g.eachFreeCell(func(p protocol.Position) bool {
		if k == 0 {
			picked = p
			return false
		}
		k--
		return true
	})
	return picked, true
}

func (g *Game) eachFreeCell(fn func(protocol.Position) bool) {
	for y := int32(0); y < g.world.MapHeight; y++ {
		for x := int32(0); x < g.world.MapWidth; x++ {
			p := protocol.Pos(x, y)
			if _, taken := g.world.OccupiedBy(p, 0); taken {
				continue
			}
			if !fn(p) {
				return
			}
		}
	}
}

// Player 返回玩家状态副本
func (g *Game) Player(id protocol.PlayerID) (protocol.PlayerState, bool) {
	p, ok := g.world.Player(id)
	if !ok {
		return protocol.PlayerState{}, false
	}
	return *p, true
}

// Snapshot 深拷贝当前世界，可安全跨协程传递或序列化
func (g *Game) Snapshot() protocol.WorldState {
	return deep.MustCopy(g.world)
}
