package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// SelfID 客户端把 ID 255（-1）视为自身
const SelfID byte = 255

// OpUserType 握手中标记管理员身份的取值
const OpUserType byte = 0x64

// MapChunkSize 地图分块的固定负载宽度
const MapChunkSize = 1024

// ErrChunkTooLarge 单个地图分块超过 1024 字节
var ErrChunkTooLarge = errors.New("protocol: map chunk larger than 1024 bytes")

// Packet 一条完整的出站报文（首字节为 opcode）
type Packet struct {
	Bytes []byte
}

// OpCode 报文类型
func (p Packet) OpCode() OpCode {
	if len(p.Bytes) == 0 {
		return OpCode(0xFF)
	}
	return OpCode(p.Bytes[0])
}

func newPacket(op OpCode) Packet {
	b := make([]byte, op.Size())
	b[0] = byte(op)
	return Packet{Bytes: b}
}

// Vector3 方块坐标：X/Y 水平，Z 为高度
type Vector3 struct {
	X, Y, Z int
}

func putInt16(b []byte, v int16) {
	binary.BigEndian.PutUint16(b, uint16(v))
}

// putPosition 按 X, Z, Y, R, L 的线上顺序写入
func putPosition(b []byte, pos Position) {
	putInt16(b[0:], pos.X)
	putInt16(b[2:], pos.Z)
	putInt16(b[4:], pos.Y)
	b[6] = pos.R
	b[7] = pos.L
}

// MakeHandshake 服务器信息（握手应答）
func MakeHandshake(serverName, motd string, isOp bool) Packet {
	p := newPacket(OpHandshake)
	p.Bytes[1] = Version
	PutString(p.Bytes[2:], serverName)
	PutString(p.Bytes[66:], motd)
	if isOp {
		p.Bytes[130] = OpUserType
	}
	return p
}

func MakePing() Packet     { return newPacket(OpPing) }
func MakeMapBegin() Packet { return newPacket(OpMapBegin) }

// MakeMapChunk 地图分块：声明长度 + 补零到 1024 字节 + 进度百分比
func MakeMapChunk(payload []byte, percent byte) (Packet, error) {
	if len(payload) > MapChunkSize {
		return Packet{}, ErrChunkTooLarge
	}
	p := newPacket(OpMapChunk)
	putInt16(p.Bytes[1:], int16(len(payload)))
	copy(p.Bytes[3:3+MapChunkSize], payload)
	p.Bytes[3+MapChunkSize] = percent
	return p, nil
}

// MakeMapEnd 地图传输结束，携带尺寸
func MakeMapEnd(width, height, length int) Packet {
	p := newPacket(OpMapEnd)
	putInt16(p.Bytes[1:], int16(width))
	putInt16(p.Bytes[3:], int16(height))
	putInt16(p.Bytes[5:], int16(length))
	return p
}

// MakeSetBlock 通知客户端某个方块变化
func MakeSetBlock(c Vector3, block byte) Packet {
	p := newPacket(OpSetBlockServer)
	putInt16(p.Bytes[1:], int16(c.X))
	putInt16(p.Bytes[3:], int16(c.Z))
	putInt16(p.Bytes[5:], int16(c.Y))
	p.Bytes[7] = block
	return p
}

func MakeAddEntity(id byte, name string, pos Position) Packet {
	p := newPacket(OpAddEntity)
	p.Bytes[1] = id
	PutString(p.Bytes[2:], name)
	putPosition(p.Bytes[66:], pos)
	return p
}

// MakeTeleport 绝对位置 + 绝对角度
func MakeTeleport(id byte, pos Position) Packet {
	p := newPacket(OpTeleport)
	p.Bytes[1] = id
	putPosition(p.Bytes[2:], pos)
	return p
}

func MakeSelfTeleport(pos Position) Packet {
	return MakeTeleport(SelfID, pos)
}

// MakeMoveRotate 增量坐标 + 绝对角度；delta 必须满足 FitsIntoMoveRotate
func MakeMoveRotate(id byte, delta Position, r, l uint8) Packet {
	p := newPacket(OpMoveRotate)
	p.Bytes[1] = id
	p.Bytes[2] = byte(int8(delta.X))
	p.Bytes[3] = byte(int8(delta.Z))
	p.Bytes[4] = byte(int8(delta.Y))
	p.Bytes[5] = r
	p.Bytes[6] = l
	return p
}

// MakeMove 仅增量坐标
func MakeMove(id byte, delta Position) Packet {
	p := newPacket(OpMove)
	p.Bytes[1] = id
	p.Bytes[2] = byte(int8(delta.X))
	p.Bytes[3] = byte(int8(delta.Z))
	p.Bytes[4] = byte(int8(delta.Y))
	return p
}

// MakeRotate 仅绝对角度
func MakeRotate(id byte, pos Position) Packet {
	p := newPacket(OpRotate)
	p.Bytes[1] = id
	p.Bytes[2] = pos.R
	p.Bytes[3] = pos.L
	return p
}

func MakeRemoveEntity(id byte) Packet {
	p := newPacket(OpRemoveEntity)
	p.Bytes[1] = id
	return p
}

// MakeMessage 聊天消息（单行，调用方负责折行）
func MakeMessage(text string) Packet {
	p := newPacket(OpMessage)
	PutString(p.Bytes[2:], text)
	return p
}

func MakeKick(reason string) Packet {
	p := newPacket(OpKick)
	PutString(p.Bytes[1:], reason)
	return p
}

// MessageText 消息报文的文本部分（原始字节）
func (p Packet) MessageText() []byte {
	if p.OpCode() != OpMessage || len(p.Bytes) < 2 {
		return nil
	}
	return p.Bytes[2:]
}

// ApplyEntityUpdate 以客户端视角把实体更新报文应用到 old，返回新位置。
// 支持 Teleport / MoveRotate / Move / Rotate 四种报文
func ApplyEntityUpdate(old Position, p Packet) (Position, error) {
	b := p.Bytes
	if len(b) != p.OpCode().Size() {
		return old, fmt.Errorf("protocol: malformed %s packet (%d bytes)", p.OpCode(), len(b))
	}
	switch p.OpCode() {
	case OpTeleport:
		return Position{
			X: int16(binary.BigEndian.Uint16(b[2:])),
			Z: int16(binary.BigEndian.Uint16(b[4:])),
			Y: int16(binary.BigEndian.Uint16(b[6:])),
			R: b[8],
			L: b[9],
		}, nil
	case OpMoveRotate:
		return old.ApplyMove(int8(b[2]), int8(b[4]), int8(b[3])).WithRotation(b[5], b[6]), nil
	case OpMove:
		return old.ApplyMove(int8(b[2]), int8(b[4]), int8(b[3])), nil
	case OpRotate:
		return old.WithRotation(b[2], b[3]), nil
	default:
		return old, fmt.Errorf("protocol: %s is not an entity update", p.OpCode())
	}
}
