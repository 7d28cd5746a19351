package server

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// BandwidthMode 实体同步的带宽档位：可见距离、增量编码与更新频率
type BandwidthMode int

const (
	BandwidthDefault BandwidthMode = iota // 使用服务器配置
	BandwidthVeryLow
	BandwidthLow
	BandwidthNormal
	BandwidthHigh
	BandwidthVeryHigh
)

var bandwidthNames = [...]string{
	BandwidthDefault:  "default",
	BandwidthVeryLow:  "verylow",
	BandwidthLow:      "low",
	BandwidthNormal:   "normal",
	BandwidthHigh:     "high",
	BandwidthVeryHigh: "veryhigh",
}

func (m BandwidthMode) String() string {
	if m < 0 || int(m) >= len(bandwidthNames) {
		return fmt.Sprintf("bandwidth(%d)", int(m))
	}
	return bandwidthNames[m]
}

// ParseBandwidthMode 解析配置/命令中的档位名（不区分大小写）
func ParseBandwidthMode(s string) (BandwidthMode, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	for i, name := range bandwidthNames {
		if name == key {
			return BandwidthMode(i), nil
		}
	}
	return BandwidthDefault, fmt.Errorf("unknown bandwidth mode %q", s)
}

// bandwidthProfile 某个档位下的可见性参数。距离为 1/32 单位下的平方
type bandwidthProfile struct {
	showDistanceSq  int
	hideDistanceSq  int
	partialUpdates  bool
	skipUpdates     bool
	visibleInterval time.Duration
}

func blocksSquared(blocks int) int {
	return (blocks * 32) * (blocks * 32)
}

// profileFor 未知档位与 Default 一律按 Normal 处理（调用方先解析 Default）
func profileFor(m BandwidthMode) bandwidthProfile {
	switch m {
	case BandwidthVeryLow:
		return bandwidthProfile{blocksSquared(40), blocksSquared(42), true, true, 100 * time.Millisecond}
	case BandwidthLow:
		return bandwidthProfile{blocksSquared(50), blocksSquared(52), true, true, 50 * time.Millisecond}
	case BandwidthHigh:
		return bandwidthProfile{blocksSquared(128), blocksSquared(130), true, false, 50 * time.Millisecond}
	case BandwidthVeryHigh:
		return bandwidthProfile{math.MaxInt, math.MaxInt, false, false, 25 * time.Millisecond}
	default:
		return bandwidthProfile{blocksSquared(68), blocksSquared(70), true, false, 50 * time.Millisecond}
	}
}

// bandwidthMeter 按测量间隔计算收发速率（字节/秒）
type bandwidthMeter struct {
	lastAt       time.Time
	lastSent     int64
	lastReceived int64
}

func (b *bandwidthMeter) measure(now time.Time, sent, received int64) (sendRate, recvRate int64) {
	if b.lastAt.IsZero() {
		b.lastAt, b.lastSent, b.lastReceived = now, sent, received
		return 0, 0
	}
	elapsed := now.Sub(b.lastAt).Seconds()
	if elapsed <= 0 {
		return 0, 0
	}
	sendRate = int64(float64(sent-b.lastSent) / elapsed)
	recvRate = int64(float64(received-b.lastReceived) / elapsed)
	b.lastAt, b.lastSent, b.lastReceived = now, sent, received
	return sendRate, recvRate
}
