package game

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"

	"cycles/protocol"
)

var (
	ErrGameFull = errors.New("game: no free player id")
	ErrNoSpawn  = errors.New("game: no free spawn cell")
)

// Config 网格尺寸
type Config struct {
	Width  int32
	Height int32
	Seed   int64 // 0 表示使用随机种子
}

// palette 前几个玩家的固定颜色，超出后随机生成
var palette = []protocol.Color{
	{R: 0xe6, G: 0x19, B: 0x4b},
	{R: 0x3c, G: 0xb4, B: 0x4b},
	{R: 0xff, G: 0xe1, B: 0x19},
	{R: 0x43, G: 0x63, B: 0xd8},
	{R: 0xf5, G: 0x82, B: 0x31},
	{R: 0x91, G: 0x1e, B: 0xb4},
	{R: 0x46, G: 0xf0, B: 0xf0},
	{R: 0xf0, G: 0x32, B: 0xe6},
}

type cycle struct {
	protocol.Player
	dir protocol.Direction
}

// Game 光轮网格模拟：权威状态只在内存中，不做并发保护（由服务端的共享锁串行化）
type Game struct {
	width, height int32
	grid          []protocol.PlayerID
	players       map[protocol.PlayerID]*cycle
	frame         int32
	joined        int
	colorIdx      int
	rng           *rand.Rand
}

// New 创建空网格
func New(cfg Config) (*Game, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("game: invalid grid %dx%d", cfg.Width, cfg.Height)
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Int63()
	}
	return &Game{
		width:   cfg.Width,
		height:  cfg.Height,
		grid:    make([]protocol.PlayerID, int(cfg.Width)*int(cfg.Height)),
		players: make(map[protocol.PlayerID]*cycle),
		rng:     rand.New(rand.NewSource(seed)),
	}, nil
}

// AddPlayer 分配新 ID 与颜色，并在随机空格出生
func (g *Game) AddPlayer(name string) (protocol.PlayerID, protocol.Color, error) {
	id, ok := g.freeID()
	if !ok {
		return 0, protocol.Color{}, ErrGameFull
	}
	pos, ok := g.spawnCell()
	if !ok {
		return 0, protocol.Color{}, ErrNoSpawn
	}
	c := &cycle{
		Player: protocol.Player{
			ID:       id,
			Name:     name,
			Color:    g.nextColor(),
			Position: pos,
		},
		dir: protocol.Direction(g.rng.Intn(4)),
	}
	g.players[id] = c
	g.set(pos, id)
	g.joined++
	return id, c.Color, nil
}

// RemovePlayer 移除玩家并清空其轨迹；不存在时为空操作
func (g *Game) RemovePlayer(id protocol.PlayerID) {
	if _, ok := g.players[id]; !ok {
		return
	}
	delete(g.players, id)
	for i, cell := range g.grid {
		if cell == id {
			g.grid[i] = 0
		}
	}
}

// HasPlayer 玩家是否仍存活
func (g *Game) HasPlayer(id protocol.PlayerID) bool {
	_, ok := g.players[id]
	return ok
}

// Players 存活玩家数
func (g *Game) Players() int { return len(g.players) }

// SetFrame 标记当前帧号（随快照广播）
func (g *Game) SetFrame(frame int32) { g.frame = frame }

// MovePlayers 所有存活玩家前进一格：有输入的按新方向，没有的沿用上一方向。
// 出界、撞轨迹、迎面相撞的玩家被淘汰。
func (g *Game) MovePlayers(moves map[protocol.PlayerID]protocol.Direction) {
	targets := make(map[protocol.PlayerID]protocol.Position, len(g.players))
	heads := make(map[protocol.Position]int, len(g.players))
	for id, c := range g.players {
		if d, ok := moves[id]; ok && d.Valid() {
			c.dir = d
		}
		next := c.Position.Add(c.dir)
		targets[id] = next
		heads[next]++
	}

	var dead []protocol.PlayerID
	for _, id := range g.sortedIDs() {
		next := targets[id]
		if !g.inside(next) || g.at(next) != 0 || heads[next] > 1 {
			dead = append(dead, id)
		}
	}
	for _, id := range dead {
		delete(targets, id)
		g.RemovePlayer(id)
	}
	for id, next := range targets {
		g.players[id].Position = next
		g.set(next, id)
	}
}

// IsGameOver 有玩家加入后全部阵亡，或两人以上加入后只剩一人
func (g *Game) IsGameOver() bool {
	switch {
	case g.joined == 0:
		return false
	case g.joined == 1:
		return len(g.players) == 0
	default:
		return len(g.players) <= 1
	}
}

// Snapshot 生成当前帧的只读快照（玩家按 ID 排序）
func (g *Game) Snapshot() *protocol.GameState {
	s := &protocol.GameState{
		Width:   g.width,
		Height:  g.height,
		Frame:   g.frame,
		Players: make([]protocol.Player, 0, len(g.players)),
		Grid:    make([]protocol.PlayerID, len(g.grid)),
	}
	for _, id := range g.sortedIDs() {
		s.Players = append(s.Players, g.players[id].Player)
	}
	copy(s.Grid, g.grid)
	return s
}

func (g *Game) sortedIDs() []protocol.PlayerID {
	ids := make([]protocol.PlayerID, 0, len(g.players))
	for id := range g.players {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// freeID 复用最小的空闲 ID；被淘汰玩家的轨迹已清空，复用是安全的
func (g *Game) freeID() (protocol.PlayerID, bool) {
	for id := 1; id <= 255; id++ {
		if _, used := g.players[protocol.PlayerID(id)]; !used {
			return protocol.PlayerID(id), true
		}
	}
	return 0, false
}

func (g *Game) spawnCell() (protocol.Position, bool) {
	const attempts = 64
	for i := 0; i < attempts; i++ {
		p := protocol.Position{X: g.rng.Int31n(g.width), Y: g.rng.Int31n(g.height)}
		if g.at(p) == 0 {
			return p, true
		}
	}
	for i, cell := range g.grid {
		if cell == 0 {
			return protocol.Position{X: int32(i) % g.width, Y: int32(i) / g.width}, true
		}
	}
	return protocol.Position{}, false
}

func (g *Game) nextColor() protocol.Color {
	if g.colorIdx < len(palette) {
		c := palette[g.colorIdx]
		g.colorIdx++
		return c
	}
	return protocol.Color{
		R: byte(64 + g.rng.Intn(192)),
		G: byte(64 + g.rng.Intn(192)),
		B: byte(64 + g.rng.Intn(192)),
	}
}

func (g *Game) inside(p protocol.Position) bool {
	return p.X >= 0 && p.X < g.width && p.Y >= 0 && p.Y < g.height
}

func (g *Game) at(p protocol.Position) protocol.PlayerID {
	return g.grid[int(p.Y)*int(g.width)+int(p.X)]
}

func (g *Game) set(p protocol.Position, id protocol.PlayerID) {
	g.grid[int(p.Y)*int(g.width)+int(p.X)] = id
}
