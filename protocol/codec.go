package protocol

import (
	"encoding/binary"
	"io"
)

// Reader 从字节流读取定长入站报文的各个字段（无状态，仅复用缓冲）
type Reader struct {
	r   io.Reader
	buf [StringSize]byte
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

func (rd *Reader) ReadByte() (byte, error) {
	if _, err := io.ReadFull(rd.r, rd.buf[:1]); err != nil {
		return 0, err
	}
	return rd.buf[0], nil
}

func (rd *Reader) ReadInt16() (int16, error) {
	if _, err := io.ReadFull(rd.r, rd.buf[:2]); err != nil {
		return 0, err
	}
	return int16(binary.BigEndian.Uint16(rd.buf[:2])), nil
}

// ReadString 读取 64 字节定宽字符串
func (rd *Reader) ReadString() (string, error) {
	if _, err := io.ReadFull(rd.r, rd.buf[:StringSize]); err != nil {
		return "", err
	}
	return ParseString(rd.buf[:StringSize]), nil
}

func (rd *Reader) ReadBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rd.r, b); err != nil {
		return nil, err
	}
	return b, nil
}

// Handshake 客户端握手（opcode 之后的部分）
type Handshake struct {
	Version         byte
	Name            string
	VerificationKey string
}

// ReadHandshake 在已读出 opcode 之后读取握手剩余字段
func (rd *Reader) ReadHandshake() (Handshake, error) {
	var h Handshake
	var err error
	if h.Version, err = rd.ReadByte(); err != nil {
		return h, err
	}
	if h.Name, err = rd.ReadString(); err != nil {
		return h, err
	}
	if h.VerificationKey, err = rd.ReadString(); err != nil {
		return h, err
	}
	_, err = rd.ReadByte() // unused
	return h, err
}

// ReadMessage 聊天消息：一个未使用字节 + 字符串
func (rd *Reader) ReadMessage() (string, error) {
	if _, err := rd.ReadByte(); err != nil {
		return "", err
	}
	return rd.ReadString()
}

// ReadMovement 移动报文：未使用字节，X/Z/Y，朝向，俯仰
func (rd *Reader) ReadMovement() (Position, error) {
	var pos Position
	if _, err := rd.ReadByte(); err != nil {
		return pos, err
	}
	if _, err := io.ReadFull(rd.r, rd.buf[:8]); err != nil {
		return pos, err
	}
	pos.X = int16(binary.BigEndian.Uint16(rd.buf[0:]))
	pos.Z = int16(binary.BigEndian.Uint16(rd.buf[2:]))
	pos.Y = int16(binary.BigEndian.Uint16(rd.buf[4:]))
	pos.R = rd.buf[6]
	pos.L = rd.buf[7]
	return pos, nil
}

// SetBlock 客户端方块操作
type SetBlock struct {
	Coords Vector3
	Build  bool
	Block  byte
}

// ReadSetBlock X/Z/Y，动作（1=放置），方块类型
func (rd *Reader) ReadSetBlock() (SetBlock, error) {
	var sb SetBlock
	if _, err := io.ReadFull(rd.r, rd.buf[:8]); err != nil {
		return sb, err
	}
	sb.Coords.X = int(int16(binary.BigEndian.Uint16(rd.buf[0:])))
	sb.Coords.Z = int(int16(binary.BigEndian.Uint16(rd.buf[2:])))
	sb.Coords.Y = int(int16(binary.BigEndian.Uint16(rd.buf[4:])))
	sb.Build = rd.buf[6] == 1
	sb.Block = rd.buf[7]
	return sb, nil
}

// MapChunks 把压缩地图切成 1024 字节的分块报文依次交给 emit。
// 进度 = 100*offset/total（整除），最后一块固定为 100
func MapChunks(data []byte, emit func(Packet) error) error {
	total := len(data)
	for offset := 0; offset < total; offset += MapChunkSize {
		end := offset + MapChunkSize
		if end > total {
			end = total
		}
		percent := byte(100 * offset / total)
		if end == total {
			percent = 100
		}
		p, err := MakeMapChunk(data[offset:end], percent)
		if err != nil {
			return err
		}
		if err := emit(p); err != nil {
			return err
		}
	}
	return nil
}

// EncodeHandshake 客户端侧的握手报文，供测试与机器人客户端使用
func EncodeHandshake(version byte, name, key string) []byte {
	b := make([]byte, OpHandshake.Size())
	b[0] = byte(OpHandshake)
	b[1] = version
	PutString(b[2:], name)
	PutString(b[66:], key)
	return b
}

// EncodeMovement 客户端侧的移动报文
func EncodeMovement(pos Position) []byte {
	b := make([]byte, 10)
	b[0] = byte(OpTeleport)
	b[1] = SelfID
	putPosition(b[2:], pos)
	return b
}

// EncodeMessage 客户端侧的聊天报文
func EncodeMessage(text string) []byte {
	b := make([]byte, OpMessage.Size())
	b[0] = byte(OpMessage)
	b[1] = SelfID
	PutString(b[2:], text)
	return b
}

// EncodeSetBlock 客户端侧的方块操作报文
func EncodeSetBlock(c Vector3, build bool, block byte) []byte {
	b := make([]byte, OpSetBlockClient.Size())
	b[0] = byte(OpSetBlockClient)
	putInt16(b[1:], int16(c.X))
	putInt16(b[3:], int16(c.Z))
	putInt16(b[5:], int16(c.Y))
	if build {
		b[7] = 1
	}
	b[8] = block
	return b
}
