package protocol

import "math"

// Position 实体位置（值类型）：X/Y 为水平坐标，Z 为高度，单位 1/32 方块；
// R 为水平朝向，L 为俯仰角
type Position struct {
	X, Y, Z int16
	R, L    uint8
}

// HiddenPosition 隐藏实体时使用的位置（地图下方极远处）
var HiddenPosition = Position{X: 0, Y: 0, Z: math.MinInt16}

// Delta 计算 p 到 next 的差值，坐标与角度均按二进制补码回绕
func (p Position) Delta(next Position) Position {
	return Position{
		X: next.X - p.X,
		Y: next.Y - p.Y,
		Z: next.Z - p.Z,
		R: next.R - p.R,
		L: next.L - p.L,
	}
}

// IsZero 差值是否表示“没有移动”
func (p Position) IsZero() bool {
	return p.X == 0 && p.Y == 0 && p.Z == 0 && p.R == 0 && p.L == 0
}

// PositionChanged 坐标分量是否变化
func (p Position) PositionChanged() bool {
	return p.X != 0 || p.Y != 0 || p.Z != 0
}

// RotationChanged 角度分量是否变化
func (p Position) RotationChanged() bool {
	return p.R != 0 || p.L != 0
}

// FitsIntoMoveRotate 差值能否用有符号单字节增量编码
func (p Position) FitsIntoMoveRotate() bool {
	return fitsInt8(p.X) && fitsInt8(p.Y) && fitsInt8(p.Z)
}

func fitsInt8(v int16) bool {
	return v >= math.MinInt8 && v <= math.MaxInt8
}

// WithRotation 保留坐标，替换角度
func (p Position) WithRotation(r, l uint8) Position {
	p.R, p.L = r, l
	return p
}

// DistanceSquaredTo 两点间三维距离的平方（不回绕，int 足以容纳）
func (p Position) DistanceSquaredTo(o Position) int {
	dx := int(p.X) - int(o.X)
	dy := int(p.Y) - int(o.Y)
	dz := int(p.Z) - int(o.Z)
	return dx*dx + dy*dy + dz*dz
}

// Pack 把位置打包进一个 uint64，便于跨协程原子发布
func (p Position) Pack() uint64 {
	return uint64(uint16(p.X)) |
		uint64(uint16(p.Y))<<16 |
		uint64(uint16(p.Z))<<32 |
		uint64(p.R)<<48 |
		uint64(p.L)<<56
}

// UnpackPosition Pack 的逆操作
func UnpackPosition(v uint64) Position {
	return Position{
		X: int16(uint16(v)),
		Y: int16(uint16(v >> 16)),
		Z: int16(uint16(v >> 32)),
		R: uint8(v >> 48),
		L: uint8(v >> 56),
	}
}

// ApplyMove 把增量移动报文（单字节坐标增量）应用到 p
func (p Position) ApplyMove(dx, dy, dz int8) Position {
	p.X += int16(dx)
	p.Y += int16(dy)
	p.Z += int16(dz)
	return p
}
