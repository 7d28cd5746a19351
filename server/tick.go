package server

import (
	"time"
)

const (
	// TicksPerSecond 世界推进频率（20 TPS）
	TicksPerSecond = 20
)

var tickInterval = time.Duration(1000/TicksPerSecond) * time.Millisecond // 50ms

// StartTicker 启动世界的 Tick 循环（单线程应用方块更新）
func (w *World) StartTicker() {
	w.mu.Lock()
	if w.tickerStarted {
		w.mu.Unlock()
		return
	}
	w.tickerStarted = true
	stop := w.stop
	w.mu.Unlock()
	go func() {
		ticker := time.NewTicker(tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
			}
			// 核心循环：取出排队更新 → 写入地图 → 广播结果
			start := time.Now()
			w.tick()
			metricWorldTick.WithLabelValues(w.Name).Observe(time.Since(start).Seconds())
		}
	}()
}

// StopTicker 结束 Tick 协程
func (w *World) StopTicker() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.tickerStarted {
		return
	}
	w.tickerStarted = false
	close(w.stop)
	w.stop = make(chan struct{})
}

func (w *World) tick() {
	defer func() {
		if r := recover(); r != nil {
			LogAndReportCrash("World.tick: "+w.Name, panicError(r))
		}
	}()
	m := w.Map()
	if m == nil {
		return
	}
	w.processUpdates(m)
}

// processUpdates 处理当前帧的全部排队更新（非阻塞 drain）
func (w *World) processUpdates(m *Map) int {
	w.updMu.Lock()
	pending := w.updates
	w.updates = nil
	w.updMu.Unlock()

	applied := 0
	for _, u := range pending {
		if !m.SetBlock(u.Coords, u.Block) {
			continue
		}
		applied++
		w.sendBlock(u.Coords, u.Block, u.Origin)
	}
	if applied > 0 {
		metricBlockUpdates.WithLabelValues(w.Name).Add(float64(applied))
	}
	return applied
}
