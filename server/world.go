package server

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"minicraft/config"
	"minicraft/protocol"
)

// ErrWorldFull 世界人数已满
var ErrWorldFull = errors.New("world is full")

// World 世界：权威方块状态维护在内存，方块更新由单线程 Tick 推进
type World struct {
	Name     string
	Greeting string

	cfg        config.WorldConfig
	maxPlayers int
	hidden     bool
	locked     atomic.Bool

	mu      sync.RWMutex
	players map[*Session]struct{}
	m       *Map

	updMu   sync.Mutex
	updates []BlockUpdate

	tickerStarted bool
	stop          chan struct{}
}

// NewWorld 创建世界，地图在首次访问时生成
func NewWorld(cfg config.WorldConfig, maxPlayers int) *World {
	w := &World{
		Name:       cfg.Name,
		Greeting:   cfg.Greeting,
		cfg:        cfg,
		maxPlayers: maxPlayers,
		hidden:     cfg.Hidden,
		players:    make(map[*Session]struct{}),
		stop:       make(chan struct{}),
	}
	w.locked.Store(cfg.Locked)
	return w
}

// NewWorldWithMap 使用现成地图创建世界（测试与导入场景）
func NewWorldWithMap(name string, m *Map, maxPlayers int) *World {
	w := NewWorld(config.WorldConfig{Name: name, Width: m.Width, Length: m.Length, Height: m.Height}, maxPlayers)
	w.m = m
	return w
}

func (w *World) IsLocked() bool     { return w.locked.Load() }
func (w *World) SetLocked(v bool)   { w.locked.Store(v) }
func (w *World) IsHidden() bool     { return w.hidden }
func (w *World) ClassyName() string { return "&f" + w.Name }

// LoadMap 返回地图，未加载时按配置生成
func (w *World) LoadMap() (*Map, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.loadMapLocked()
}

func (w *World) loadMapLocked() (*Map, error) {
	if w.m != nil {
		return w.m, nil
	}
	m, err := NewFlatMap(w.cfg.Width, w.cfg.Length, w.cfg.Height)
	if err != nil {
		return nil, fmt.Errorf("world %s: %w", w.Name, err)
	}
	w.m = m
	return m, nil
}

// Map 当前已加载的地图，可能为 nil
func (w *World) Map() *Map {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.m
}

// AcceptPlayer 将玩家加入世界并返回地图
func (w *World) AcceptPlayer(s *Session, announce bool) (*Map, error) {
	w.mu.Lock()
	if _, ok := w.players[s]; !ok && w.maxPlayers > 0 && len(w.players) >= w.maxPlayers {
		w.mu.Unlock()
		return nil, ErrWorldFull
	}
	m, err := w.loadMapLocked()
	if err != nil {
		w.mu.Unlock()
		return nil, err
	}
	w.players[s] = struct{}{}
	w.mu.Unlock()

	if announce {
		w.Message(fmt.Sprintf("&SPlayer %s&S joined %s", s.ClassyName(), w.ClassyName()), s)
	}
	return m, nil
}

// ReleasePlayer 将玩家移出世界；世界不认识该玩家时返回 false
func (w *World) ReleasePlayer(s *Session) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.players[s]; !ok {
		return false
	}
	delete(w.players, s)
	return true
}

// Players 当前玩家快照
func (w *World) Players() []*Session {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]*Session, 0, len(w.players))
	for s := range w.players {
		out = append(out, s)
	}
	return out
}

func (w *World) PlayerCount() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.players)
}

// Message 向世界内所有玩家（except 除外）发送消息
func (w *World) Message(text string, except *Session) {
	for _, s := range w.Players() {
		if s != except {
			s.Message(text)
		}
	}
}

// QueueUpdate 排队方块更新，等下一次 Tick 处理
func (w *World) QueueUpdate(u BlockUpdate) {
	w.updMu.Lock()
	w.updates = append(w.updates, u)
	w.updMu.Unlock()
}

// GenerateWoMConfig 状态查询扩展返回的世界配置文本
func (w *World) GenerateWoMConfig(serverName, motd string, firstTime bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "server.name = %s\n", serverName)
	fmt.Fprintf(&b, "server.detail = %s\n", motd)
	fmt.Fprintf(&b, "user.detail = World %s\n", w.Name)
	if firstTime {
		b.WriteString("server.sendwomid = true\n")
	}
	b.WriteString("environment.level = ")
	fmt.Fprintf(&b, "%d\n", w.cfg.Height/2)
	return b.String()
}

// sendBlock 把方块变化推送给除 origin 外的所有玩家（低优先队列）
func (w *World) sendBlock(c protocol.Vector3, block byte, origin *Session) {
	p := protocol.MakeSetBlock(c, block)
	for _, s := range w.Players() {
		if s != origin {
			s.SendLowPriority(p)
		}
	}
}
