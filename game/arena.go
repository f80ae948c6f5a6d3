package game

import (
	"context"
	"math/rand"

	"tacticarena/protocol"
)

// Arena 单一所有者协程：独占 Game，其他协程通过请求通道提交操作并等待结果
type Arena struct {
	game *Game
	rng  *rand.Rand
	ops  chan func(*Game)
	done chan struct{}
}

// NewArena 包装一个 Game；调用 Run 之前所有请求都会阻塞
func NewArena(g *Game, seed int64) *Arena {
	return &Arena{
		game: g,
		rng:  rand.New(rand.NewSource(seed)),
		ops:  make(chan func(*Game)),
		done: make(chan struct{}),
	}
}

// Run 处理请求直到 ctx 取消；返回后所有请求得到 ErrArenaClosed
func (a *Arena) Run(ctx context.Context) {
	defer close(a.done)
	for {
		select {
		case op := <-a.ops:
			op(a.game)
		case <-ctx.Done():
			return
		}
	}
}

// Done 在 Run 退出后关闭
func (a *Arena) Done() <-chan struct{} {
	return a.done
}

// do 把 fn 交给引擎协程执行并等待完成。通道无缓冲，被接收即保证执行
func (a *Arena) do(ctx context.Context, fn func(*Game)) error {
	finished := make(chan struct{})
	op := func(g *Game) {
		defer close(finished)
		fn(g)
	}
	select {
	case a.ops <- op:
	case <-a.done:
		return ErrArenaClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	<-finished
	return nil
}

func (a *Arena) AddPlayer(ctx context.Context, pos protocol.Position) (protocol.PlayerID, error) {
	var id protocol.PlayerID
	err := a.do(ctx, func(g *Game) { id = g.AddPlayer(pos) })
	return id, err
}

// Spawn 在同一次操作内挑选出生点并加入玩家，避免挑点与加入之间被插队
func (a *Arena) Spawn(ctx context.Context, avoidOccupied bool) (protocol.PlayerID, protocol.Position, error) {
	var (
		id  protocol.PlayerID
		pos protocol.Position
	)
	err := a.do(ctx, func(g *Game) {
		pos = g.SpawnPosition(a.rng, avoidOccupied)
		id = g.AddPlayer(pos)
	})
	return id, pos, err
}

func (a *Arena) RemovePlayer(ctx context.Context, id protocol.PlayerID) (bool, error) {
	var removed bool
	err := a.do(ctx, func(g *Game) { removed = g.RemovePlayer(id) })
	return removed, err
}

func (a *Arena) MovePlayer(ctx context.Context, id protocol.PlayerID, target protocol.Position) error {
	var res error
	if err := a.do(ctx, func(g *Game) { res = g.MovePlayer(id, target) }); err != nil {
		return err
	}
	return res
}

func (a *Arena) Attack(ctx context.Context, attackerID, targetID protocol.PlayerID) (uint32, error) {
	var (
		dmg uint32
		res error
	)
	if err := a.do(ctx, func(g *Game) { dmg, res = g.Attack(attackerID, targetID) }); err != nil {
		return 0, err
	}
	return dmg, res
}

func (a *Arena) EndTurn(ctx context.Context, id protocol.PlayerID) error {
	var res error
	if err := a.do(ctx, func(g *Game) { res = g.EndTurn(id) }); err != nil {
		return err
	}
	return res
}

// Snapshot 只在拷贝期间占用引擎协程
func (a *Arena) Snapshot(ctx context.Context) (protocol.WorldState, error) {
	var w protocol.WorldState
	err := a.do(ctx, func(g *Game) { w = g.Snapshot() })
	return w, err
}
