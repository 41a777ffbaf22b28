package bot

import (
	"errors"
	"math/rand"

	"cycles/protocol"
)

var ErrNoValidMove = errors.New("bot: no valid move")

// Strategy 根据当前快照和自己的位置选择方向；可替换而不影响协议层
type Strategy interface {
	Decide(state *protocol.GameState, me protocol.Player) (protocol.Direction, error)
}

// StrategyFunc 函数形式的 Strategy
type StrategyFunc func(state *protocol.GameState, me protocol.Player) (protocol.Direction, error)

func (f StrategyFunc) Decide(state *protocol.GameState, me protocol.Player) (protocol.Direction, error) {
	return f(state, me)
}

// RandomWalk 带惯性的随机游走：提议值超出 [0,3] 时沿用上一方向
type RandomWalk struct {
	rng         *rand.Rand
	inertia     int
	previous    protocol.Direction
	hasPrevious bool
	MaxAttempts int
}

func NewRandomWalk(seed int64) *RandomWalk {
	rng := rand.New(rand.NewSource(seed))
	return &RandomWalk{
		rng:         rng,
		inertia:     rng.Intn(51),
		MaxAttempts: 200,
	}
}

func (w *RandomWalk) Decide(state *protocol.GameState, me protocol.Player) (protocol.Direction, error) {
	damping := 1.0
	for attempt := 0; attempt < w.MaxAttempts; attempt++ {
		proposal := w.rng.Intn(4 + int(float64(w.inertia)*damping))
		d := protocol.Direction(proposal)
		if proposal > 3 {
			if !w.hasPrevious {
				continue
			}
			d = w.previous
			// 上一方向无效时不再偏向它
			damping = 0
		}
		if ValidMove(state, me, d) {
			w.previous, w.hasPrevious = d, true
			return d, nil
		}
	}
	return 0, ErrNoValidMove
}

// ValidMove 目标格在网格内、为空且不与其他玩家的头部重合
func ValidMove(state *protocol.GameState, me protocol.Player, d protocol.Direction) bool {
	next := me.Position.Add(d)
	if !state.Inside(next) {
		return false
	}
	for _, p := range state.Players {
		if p.Position == next {
			return false
		}
	}
	return state.Empty(next)
}
