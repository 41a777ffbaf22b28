package protocol

import "fmt"

// PlayerID 玩家唯一标识，由模拟层在握手时分配；0 保留给空格子
type PlayerID uint8

// Color 玩家颜色（握手时由服务端分配）
type Color struct {
	R, G, B byte
}

func (c Color) String() string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

// Direction 移动方向，线上编码为 int32
type Direction int32

const (
	North Direction = iota
	East
	South
	West
)

// Valid 报告方向是否落在枚举范围内
func (d Direction) Valid() bool {
	return d >= North && d <= West
}

// Vector 返回方向对应的单位位移
func (d Direction) Vector() (dx, dy int32) {
	switch d {
	case North:
		return 0, -1
	case East:
		return 1, 0
	case South:
		return 0, 1
	case West:
		return -1, 0
	}
	return 0, 0
}

func (d Direction) String() string {
	switch d {
	case North:
		return "north"
	case East:
		return "east"
	case South:
		return "south"
	case West:
		return "west"
	}
	return fmt.Sprintf("direction(%d)", int32(d))
}

// Position 格子坐标
type Position struct {
	X, Y int32
}

// Add 按方向移动一格
func (p Position) Add(d Direction) Position {
	dx, dy := d.Vector()
	return Position{X: p.X + dx, Y: p.Y + dy}
}

// Player 广播给客户端的玩家状态
type Player struct {
	ID       PlayerID
	Name     string
	Color    Color
	Position Position
}

// GameState 每帧广播的完整快照（只读）
//
// Grid 按行优先存储，长度为 Width*Height，每格为占据者的 PlayerID，0 表示空。
type GameState struct {
	Width   int32
	Height  int32
	Frame   int32
	Players []Player
	Grid    []PlayerID
}

// Inside 判断坐标是否在网格内
func (s *GameState) Inside(p Position) bool {
	return p.X >= 0 && p.X < s.Width && p.Y >= 0 && p.Y < s.Height
}

// Cell 返回坐标处的格子值；调用方需先确认 Inside
func (s *GameState) Cell(p Position) PlayerID {
	return s.Grid[int(p.Y)*int(s.Width)+int(p.X)]
}

// Empty 判断格子是否为空
func (s *GameState) Empty(p Position) bool {
	return s.Cell(p) == 0
}

// PlayerByName 按名字查找玩家
func (s *GameState) PlayerByName(name string) (Player, bool) {
	for _, p := range s.Players {
		if p.Name == name {
			return p, true
		}
	}
	return Player{}, false
}
