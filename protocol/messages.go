package protocol

import (
	"errors"
	"fmt"
)

// MaxNameLength 玩家名字节上限
const MaxNameLength = 64

var (
	ErrInvalidDirection = errors.New("protocol: invalid direction")
	ErrInvalidName      = errors.New("protocol: invalid player name")
	ErrGridMismatch     = errors.New("protocol: grid size mismatch")
)

// EncodeName 握手第一步：客户端 -> 服务端 name:string
func EncodeName(name string) []byte {
	var w Writer
	w.String(name)
	return w.Bytes()
}

// DecodeName 解析握手名字；空名或超长名视为非法
func DecodeName(payload []byte) (string, error) {
	r := NewReader(payload)
	name, err := r.String()
	if err != nil {
		return "", err
	}
	if err := r.Done(); err != nil {
		return "", err
	}
	if name == "" || len(name) > MaxNameLength {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return name, nil
}

// EncodeColor 握手第二步：服务端 -> 客户端 (r, g, b)
func EncodeColor(c Color) []byte {
	return []byte{c.R, c.G, c.B}
}

func DecodeColor(payload []byte) (Color, error) {
	r := NewReader(payload)
	var c Color
	var err error
	if c.R, err = r.Uint8(); err != nil {
		return Color{}, err
	}
	if c.G, err = r.Uint8(); err != nil {
		return Color{}, err
	}
	if c.B, err = r.Uint8(); err != nil {
		return Color{}, err
	}
	return c, r.Done()
}

// EncodeInput 每帧输入：客户端 -> 服务端 direction:int32
func EncodeInput(d Direction) []byte {
	var w Writer
	w.Int32(int32(d))
	return w.Bytes()
}

// DecodeInput 解析方向输入；越界枚举值为解析错误
func DecodeInput(payload []byte) (Direction, error) {
	r := NewReader(payload)
	v, err := r.Int32()
	if err != nil {
		return 0, err
	}
	if err := r.Done(); err != nil {
		return 0, err
	}
	d := Direction(v)
	if !d.Valid() {
		return 0, fmt.Errorf("%w: %d", ErrInvalidDirection, v)
	}
	return d, nil
}

// EncodeGameState 每帧广播，字段顺序固定：
// gridWidth, gridHeight, playerCount, 每个玩家 (x, y, r, g, b, name, id, frame)，随后是 width*height 个格子
func EncodeGameState(s *GameState) []byte {
	var w Writer
	w.Int32(s.Width)
	w.Int32(s.Height)
	w.Uint32(uint32(len(s.Players)))
	for _, p := range s.Players {
		w.Int32(p.Position.X)
		w.Int32(p.Position.Y)
		w.Uint8(p.Color.R)
		w.Uint8(p.Color.G)
		w.Uint8(p.Color.B)
		w.String(p.Name)
		w.Uint8(uint8(p.ID))
		w.Int32(s.Frame)
	}
	for _, cell := range s.Grid {
		w.Uint8(uint8(cell))
	}
	return w.Bytes()
}

// DecodeGameState 解析广播快照；帧号取自玩家条目（无玩家时为 0）
func DecodeGameState(payload []byte) (*GameState, error) {
	r := NewReader(payload)
	s := &GameState{}
	var err error
	if s.Width, err = r.Int32(); err != nil {
		return nil, err
	}
	if s.Height, err = r.Int32(); err != nil {
		return nil, err
	}
	if s.Width < 0 || s.Height < 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrGridMismatch, s.Width, s.Height)
	}
	count, err := r.Uint32()
	if err != nil {
		return nil, err
	}
	// 每个玩家条目至少 20 字节，先校验再分配
	if int64(count)*20 > int64(r.Remaining()) {
		return nil, fmt.Errorf("%w: %d players", ErrShortPacket, count)
	}
	s.Players = make([]Player, 0, count)
	for i := uint32(0); i < count; i++ {
		var p Player
		if p.Position.X, err = r.Int32(); err != nil {
			return nil, err
		}
		if p.Position.Y, err = r.Int32(); err != nil {
			return nil, err
		}
		if p.Color.R, err = r.Uint8(); err != nil {
			return nil, err
		}
		if p.Color.G, err = r.Uint8(); err != nil {
			return nil, err
		}
		if p.Color.B, err = r.Uint8(); err != nil {
			return nil, err
		}
		if p.Name, err = r.String(); err != nil {
			return nil, err
		}
		id, err := r.Uint8()
		if err != nil {
			return nil, err
		}
		p.ID = PlayerID(id)
		if s.Frame, err = r.Int32(); err != nil {
			return nil, err
		}
		s.Players = append(s.Players, p)
	}
	cells := int64(s.Width) * int64(s.Height)
	if cells != int64(r.Remaining()) {
		return nil, fmt.Errorf("%w: want %d cells, have %d bytes", ErrGridMismatch, cells, r.Remaining())
	}
	s.Grid = make([]PlayerID, cells)
	for i := range s.Grid {
		v, _ := r.Uint8()
		s.Grid[i] = PlayerID(v)
	}
	return s, nil
}
