package game

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"tacticarena/protocol"
)

func startArena(t *testing.T, w, h int32) *Arena {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	a := NewArena(New(w, h), 7)
	go a.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-a.Done()
	})
	return a
}

func TestArenaConcurrentAdds(t *testing.T) {
	a := startArena(t, 10, 10)
	ctx := context.Background()

	const n = 50
	ids := make([]int, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := a.AddPlayer(ctx, protocol.Pos(0, 0))
			if err != nil {
				t.Errorf("add: %v", err)
			}
			ids[i] = int(id)
		}(i)
	}
	wg.Wait()
	sort.Ints(ids)
	for i, id := range ids {
		if id != i+1 {
			t.Fatalf("expected ids 1..%d, got %v", n, ids)
		}
	}
	w, err := a.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(w.Players) != n {
		t.Fatalf("expected %d players, got %d", n, len(w.Players))
	}
}

func TestArenaOperations(t *testing.T) {
	a := startArena(t, 10, 10)
	ctx := context.Background()

	p1, _ := a.AddPlayer(ctx, protocol.Pos(5, 5))
	p2, _ := a.AddPlayer(ctx, protocol.Pos(6, 5))

	if err := a.MovePlayer(ctx, p1, protocol.Pos(9, 9)); !errors.Is(err, ErrInsufficientMovement) {
		t.Fatalf("expected rejection, got %v", err)
	}
	if !IsRejection(a.MovePlayer(ctx, p1, protocol.Pos(6, 5))) {
		t.Fatalf("occupied move should be a rejection")
	}
	dmg, err := a.Attack(ctx, p1, p2)
	if err != nil || dmg != AttackDamage {
		t.Fatalf("attack: %d, %v", dmg, err)
	}
	if err := a.EndTurn(ctx, p2); !errors.Is(err, ErrNotYourTurn) {
		t.Fatalf("expected ErrNotYourTurn, got %v", err)
	}
	if err := a.EndTurn(ctx, p1); err != nil {
		t.Fatalf("end turn: %v", err)
	}
	removed, err := a.RemovePlayer(ctx, p2)
	if err != nil || !removed {
		t.Fatalf("remove: %v %v", removed, err)
	}
	w, _ := a.Snapshot(ctx)
	if w.CurrentTurn != p1 || w.TurnNumber != 3 {
		t.Fatalf("unexpected turn state %+v", w)
	}
}

func TestArenaSpawnAvoidsOccupied(t *testing.T) {
	a := startArena(t, 3, 3)
	ctx := context.Background()
	seen := map[protocol.Position]bool{}
	for i := 0; i < 9; i++ {
		_, pos, err := a.Spawn(ctx, true)
		if err != nil {
			t.Fatalf("spawn: %v", err)
		}
		if seen[pos] {
			t.Fatalf("duplicate spawn at %v", pos)
		}
		seen[pos] = true
	}
}

func TestArenaClosed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	a := NewArena(New(10, 10), 1)
	go a.Run(ctx)
	cancel()
	<-a.Done()
	if _, err := a.AddPlayer(context.Background(), protocol.Pos(0, 0)); !errors.Is(err, ErrArenaClosed) {
		t.Fatalf("expected ErrArenaClosed, got %v", err)
	}
	if err := a.EndTurn(context.Background(), 1); IsRejection(err) {
		t.Fatalf("closed arena must not look like a rule rejection")
	}
}

func TestArenaRequestCanceled(t *testing.T) {
	a := NewArena(New(10, 10), 1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := a.Snapshot(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded without a running arena, got %v", err)
	}
}
