package server

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/gzip"

	"minicraft/protocol"
)

// ErrMapTooLarge 地图数据超出协议可表示的范围
var ErrMapTooLarge = errors.New("map: dimensions too large")

// Map 方块地图：X/Y 为水平尺寸（Width/Length），Z 为高度。
// 压缩副本按需生成并缓存，方块变化后失效
type Map struct {
	Width, Length, Height int
	Spawn                 protocol.Position

	mu         sync.RWMutex
	blocks     []byte
	compressed []byte
}

// NewMap 创建全空气地图
func NewMap(width, length, height int) (*Map, error) {
	if width <= 0 || length <= 0 || height <= 0 || width > 1024 || length > 1024 || height > 1024 {
		return nil, fmt.Errorf("%w: %dx%dx%d", ErrMapTooLarge, width, length, height)
	}
	m := &Map{
		Width:  width,
		Length: length,
		Height: height,
		blocks: make([]byte, width*length*height),
	}
	m.Spawn = protocol.Position{
		X: int16(width * 16),
		Y: int16(length * 16),
		Z: int16(height * 16),
	}
	return m, nil
}

// NewFlatMap 平地：底层基岩，中线以下泥土，中线为草地，出生点在草地上方
func NewFlatMap(width, length, height int) (*Map, error) {
	m, err := NewMap(width, length, height)
	if err != nil {
		return nil, err
	}
	ground := height / 2
	for z := 0; z < ground; z++ {
		block := BlockDirt
		switch {
		case z == 0:
			block = BlockBedrock
		case z == ground-1:
			block = BlockGrass
		}
		start := z * length * width
		layer := m.blocks[start : start+length*width]
		for i := range layer {
			layer[i] = block
		}
	}
	m.Spawn = protocol.Position{
		X: int16(width * 16),
		Y: int16(length * 16),
		Z: int16((ground + 2) * 32),
	}
	return m, nil
}

func (m *Map) index(c protocol.Vector3) int {
	return (c.Z*m.Length+c.Y)*m.Width + c.X
}

// InBounds 坐标是否在地图内
func (m *Map) InBounds(c protocol.Vector3) bool {
	return c.X >= 0 && c.X < m.Width && c.Y >= 0 && c.Y < m.Length && c.Z >= 0 && c.Z < m.Height
}

// GetBlock 越界返回空气
func (m *Map) GetBlock(c protocol.Vector3) byte {
	if !m.InBounds(c) {
		return BlockAir
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.blocks[m.index(c)]
}

// SetBlock 写入方块，返回是否发生了变化
func (m *Map) SetBlock(c protocol.Vector3, block byte) bool {
	if !m.InBounds(c) {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.index(c)
	if m.blocks[i] == block {
		return false
	}
	m.blocks[i] = block
	m.compressed = nil
	return true
}

// CompressedCopy gzip(大端 int32 方块数 + 方块数组)，即客户端期望的地图格式。
// 返回的切片为只读共享副本
func (m *Map) CompressedCopy() ([]byte, error) {
	m.mu.RLock()
	if m.compressed != nil {
		c := m.compressed
		m.mu.RUnlock()
		return c, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.compressed != nil {
		return m.compressed, nil
	}
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(m.blocks)))
	if _, err := zw.Write(header[:]); err != nil {
		return nil, err
	}
	if _, err := zw.Write(m.blocks); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	m.compressed = buf.Bytes()
	return m.compressed, nil
}

// DecompressMap 解析 CompressedCopy 的输出，返回方块数组
func DecompressMap(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	var header [4]byte
	if _, err := io.ReadFull(zr, header[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(header[:])
	blocks := make([]byte, n)
	if _, err := io.ReadFull(zr, blocks); err != nil {
		return nil, err
	}
	return blocks, nil
}
