package server

import (
	"strings"
	"sync"

	"minicraft/config"
)

// WorldManager 管理多个世界的生命周期
type WorldManager struct {
	mu     sync.RWMutex
	worlds map[string]*World
	main   *World

	defaults   config.WorldConfig
	maxPlayers int
}

// NewWorldManager 按配置创建世界，并确保开始 Tick
func NewWorldManager(cfgs []config.WorldConfig, maxPlayersPerWorld int) *WorldManager {
	m := &WorldManager{
		worlds:     make(map[string]*World),
		maxPlayers: maxPlayersPerWorld,
		defaults:   config.WorldConfig{Width: 64, Length: 64, Height: 64},
	}
	for _, c := range cfgs {
		w := m.add(c)
		if c.Main {
			m.main = w
			m.defaults = c
		}
	}
	return m
}

func (m *WorldManager) add(c config.WorldConfig) *World {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := strings.ToLower(c.Name)
	if w, ok := m.worlds[key]; ok {
		return w
	}
	w := NewWorld(c, m.maxPlayers)
	m.worlds[key] = w
	w.StartTicker()
	return w
}

// AddWorld 注册已有世界（例如自带地图的世界）
func (m *WorldManager) AddWorld(w *World, main bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.worlds[strings.ToLower(w.Name)] = w
	if main || m.main == nil {
		m.main = w
	}
	w.StartTicker()
}

// GetOrCreateWorld 获取或创建世界（尺寸沿用主世界配置）
func (m *WorldManager) GetOrCreateWorld(name string) *World {
	if w := m.FindWorldExact(name); w != nil {
		return w
	}
	c := m.defaults
	c.Name, c.Main, c.Greeting = name, false, ""
	return m.add(c)
}

// FindWorldExact 按名字查找（不区分大小写）
func (m *WorldManager) FindWorldExact(name string) *World {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.worlds[strings.ToLower(name)]
}

// MainWorld 新连接的默认世界
func (m *WorldManager) MainWorld() *World {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.main
}

func (m *WorldManager) Worlds() []*World {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*World, 0, len(m.worlds))
	for _, w := range m.worlds {
		out = append(out, w)
	}
	return out
}

// StopAll 停止所有世界的 Tick
func (m *WorldManager) StopAll() {
	for _, w := range m.Worlds() {
		w.StopTicker()
	}
}
