package accounts

import (
	"net"
	"sync"
	"time"
)

// Account 玩家的持久化记录。会话只持有非拥有引用，字段读写都经过锁
type Account struct {
	mu sync.RWMutex

	name          string
	rank          string
	firstLogin    time.Time
	lastLogin     time.Time
	lastIP        string
	timesVisited  int
	failedLogins  int
	timesKicked   int
	banned        bool
	bannedBy      string
	banReason     string
	banDate       time.Time
	ipBanExempt   bool
	mutedUntil    time.Time
	mutedBy       string
	frozen        bool
	frozenBy      string
	frozenOn      time.Time
	hidden        bool
	bandwidthMode int
	blocksBuilt   int64
	blocksDeleted int64
}

func (a *Account) Name() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.name
}

func (a *Account) Rank() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.rank
}

// LastIP 上一次成功登录的地址；从未登录过时为 nil
func (a *Account) LastIP() net.IP {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return net.ParseIP(a.lastIP)
}

func (a *Account) TimesVisited() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.timesVisited
}

func (a *Account) FailedLogins() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.failedLogins
}

func (a *Account) TimesKicked() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.timesKicked
}

func (a *Account) IsBanned() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.banned
}

// BanInfo 封禁详情：操作者、原因、时间
func (a *Account) BanInfo() (by, reason string, at time.Time) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.bannedBy, a.banReason, a.banDate
}

func (a *Account) IsIPBanExempt() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.ipBanExempt
}

// MuteInfo 禁言截止时间与操作者
func (a *Account) MuteInfo() (until time.Time, by string) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.mutedUntil, a.mutedBy
}

func (a *Account) IsMuted(now time.Time) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.mutedUntil.After(now)
}

func (a *Account) IsFrozen() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.frozen
}

// FreezeInfo 冻结操作者与时间（时间可能为零值）
func (a *Account) FreezeInfo() (by string, on time.Time) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.frozenBy, a.frozenOn
}

func (a *Account) IsHidden() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.hidden
}

func (a *Account) BandwidthMode() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.bandwidthMode
}

// BlockStats 累计放置/删除方块数
func (a *Account) BlockStats() (built, deleted int64) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.blocksBuilt, a.blocksDeleted
}

// RecordBlock 只更新内存计数，登出时随记录一起落盘
func (a *Account) RecordBlock(built bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if built {
		a.blocksBuilt++
	} else {
		a.blocksDeleted++
	}
}

// IPBan 地址封禁记录
type IPBan struct {
	IP       string
	BannedBy string
	Reason   string
	BanDate  time.Time
	Attempts int
}
