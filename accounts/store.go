package accounts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// ErrEmptyPath 未指定数据库路径
var ErrEmptyPath = errors.New("accounts: empty db path")

const schema = `
CREATE TABLE IF NOT EXISTS players (
	name           TEXT PRIMARY KEY COLLATE NOCASE,
	rank           TEXT NOT NULL,
	first_login    INTEGER NOT NULL DEFAULT 0,
	last_login     INTEGER NOT NULL DEFAULT 0,
	last_ip        TEXT NOT NULL DEFAULT '',
	times_visited  INTEGER NOT NULL DEFAULT 0,
	failed_logins  INTEGER NOT NULL DEFAULT 0,
	times_kicked   INTEGER NOT NULL DEFAULT 0,
	banned         INTEGER NOT NULL DEFAULT 0,
	banned_by      TEXT NOT NULL DEFAULT '',
	ban_reason     TEXT NOT NULL DEFAULT '',
	ban_date       INTEGER NOT NULL DEFAULT 0,
	ipban_exempt   INTEGER NOT NULL DEFAULT 0,
	muted_until    INTEGER NOT NULL DEFAULT 0,
	muted_by       TEXT NOT NULL DEFAULT '',
	frozen         INTEGER NOT NULL DEFAULT 0,
	frozen_by      TEXT NOT NULL DEFAULT '',
	frozen_on      INTEGER NOT NULL DEFAULT 0,
	hidden         INTEGER NOT NULL DEFAULT 0,
	bandwidth_mode INTEGER NOT NULL DEFAULT 0,
	blocks_built   INTEGER NOT NULL DEFAULT 0,
	blocks_deleted INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS players_last_ip ON players(last_ip);
CREATE TABLE IF NOT EXISTS ip_bans (
	ip        TEXT PRIMARY KEY,
	banned_by TEXT NOT NULL DEFAULT '',
	reason    TEXT NOT NULL DEFAULT '',
	ban_date  INTEGER NOT NULL DEFAULT 0,
	attempts  INTEGER NOT NULL DEFAULT 0
);`

const playerColumns = `name, rank, first_login, last_login, last_ip, times_visited, failed_logins,
	times_kicked, banned, banned_by, ban_reason, ban_date, ipban_exempt, muted_until, muted_by,
	frozen, frozen_by, frozen_on, hidden, bandwidth_mode, blocks_built, blocks_deleted`

// Store 基于 SQLite 的玩家库。记录在内存中按名字缓存，
// 同名账号在进程内始终是同一个 *Account
type Store struct {
	db          *sql.DB
	defaultRank string

	mu    sync.Mutex
	cache map[string]*Account

	now func() time.Time
}

// Open 打开（必要时创建）数据库
func Open(path, defaultRank string) (*Store, error) {
	if path == "" {
		return nil, ErrEmptyPath
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// sqlite 单写者
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("accounts: init schema: %w", err)
	}
	return &Store{
		db:          db,
		defaultRank: defaultRank,
		cache:       make(map[string]*Account),
		now:         time.Now,
	}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func toUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnix(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(0, v)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*Account, error) {
	var (
		a                                          Account
		first, last, banDate, mutedUntil, frozenOn int64
		banned, exempt, frozen, hidden             bool
	)
	err := row.Scan(&a.name, &a.rank, &first, &last, &a.lastIP, &a.timesVisited, &a.failedLogins,
		&a.timesKicked, &banned, &a.bannedBy, &a.banReason, &banDate, &exempt, &mutedUntil, &a.mutedBy,
		&frozen, &a.frozenBy, &frozenOn, &hidden, &a.bandwidthMode, &a.blocksBuilt, &a.blocksDeleted)
	if err != nil {
		return nil, err
	}
	a.firstLogin, a.lastLogin = fromUnix(first), fromUnix(last)
	a.banDate, a.mutedUntil, a.frozenOn = fromUnix(banDate), fromUnix(mutedUntil), fromUnix(frozenOn)
	a.banned, a.ipBanExempt, a.frozen, a.hidden = banned, exempt, frozen, hidden
	return &a, nil
}

// save 整行写回（UPSERT）
func (s *Store) save(ctx context.Context, a *Account) error {
	a.mu.RLock()
	args := []any{a.name, a.rank, toUnix(a.firstLogin), toUnix(a.lastLogin), a.lastIP, a.timesVisited,
		a.failedLogins, a.timesKicked, a.banned, a.bannedBy, a.banReason, toUnix(a.banDate), a.ipBanExempt,
		toUnix(a.mutedUntil), a.mutedBy, a.frozen, a.frozenBy, toUnix(a.frozenOn), a.hidden,
		a.bandwidthMode, a.blocksBuilt, a.blocksDeleted}
	a.mu.RUnlock()
	_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO players (`+playerColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...)
	if err != nil {
		return fmt.Errorf("accounts: save %s: %w", a.name, err)
	}
	return nil
}

// Find 按名字查找（不区分大小写）；不存在时返回 nil, nil
func (s *Store) Find(ctx context.Context, name string) (*Account, error) {
	key := strings.ToLower(name)
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.cache[key]; ok {
		return a, nil
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+playerColumns+` FROM players WHERE name = ?`, name)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("accounts: find %s: %w", name, err)
	}
	s.cache[key] = a
	return a, nil
}

// FindOrCreate 查找账号，不存在则以默认等级创建
func (s *Store) FindOrCreate(ctx context.Context, name string, ip net.IP) (*Account, error) {
	a, err := s.Find(ctx, name)
	if err != nil || a != nil {
		return a, err
	}
	key := strings.ToLower(name)
	s.mu.Lock()
	if existing, ok := s.cache[key]; ok {
		s.mu.Unlock()
		return existing, nil
	}
	a = &Account{name: name, rank: s.defaultRank, firstLogin: s.now()}
	s.cache[key] = a
	s.mu.Unlock()
	if err := s.save(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// FindByIP 最后一次从该地址登录的所有账号
func (s *Store) FindByIP(ctx context.Context, ip net.IP) ([]*Account, error) {
	if ip == nil {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM players WHERE last_ip = ?`, ip.String())
	if err != nil {
		return nil, fmt.Errorf("accounts: find by ip: %w", err)
	}
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			_ = rows.Close()
			return nil, err
		}
		names = append(names, n)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	out := make([]*Account, 0, len(names))
	for _, n := range names {
		a, err := s.Find(ctx, n)
		if err != nil {
			return nil, err
		}
		if a != nil {
			out = append(out, a)
		}
	}
	return out, nil
}

// Size 已知账号总数
func (s *Store) Size(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM players`).Scan(&n)
	return n, err
}

// ProcessLogin 记录一次成功登录
func (s *Store) ProcessLogin(ctx context.Context, a *Account, ip net.IP) error {
	a.mu.Lock()
	a.timesVisited++
	a.lastIP = ipString(ip)
	a.lastLogin = s.now()
	a.mu.Unlock()
	return s.save(ctx, a)
}

// ProcessFailedLogin 记录一次被拒绝的登录
func (s *Store) ProcessFailedLogin(ctx context.Context, a *Account, ip net.IP) error {
	a.mu.Lock()
	a.failedLogins++
	a.mu.Unlock()
	return s.save(ctx, a)
}

// ProcessLogout 会话结束时落盘（含内存中的方块统计）
func (s *Store) ProcessLogout(ctx context.Context, a *Account) error {
	return s.save(ctx, a)
}

func (s *Store) ProcessKick(ctx context.Context, a *Account, by, reason string) error {
	a.mu.Lock()
	a.timesKicked++
	a.mu.Unlock()
	return s.save(ctx, a)
}

func (s *Store) Ban(ctx context.Context, a *Account, by, reason string) error {
	a.mu.Lock()
	a.banned, a.bannedBy, a.banReason, a.banDate = true, by, reason, s.now()
	a.mu.Unlock()
	return s.save(ctx, a)
}

func (s *Store) Unban(ctx context.Context, a *Account) error {
	a.mu.Lock()
	a.banned, a.bannedBy, a.banReason, a.banDate = false, "", "", time.Time{}
	a.mu.Unlock()
	return s.save(ctx, a)
}

// Mute 禁言 d 时长
func (s *Store) Mute(ctx context.Context, a *Account, by string, d time.Duration) error {
	a.mu.Lock()
	a.mutedUntil, a.mutedBy = s.now().Add(d), by
	a.mu.Unlock()
	return s.save(ctx, a)
}

func (s *Store) Freeze(ctx context.Context, a *Account, by string) error {
	a.mu.Lock()
	a.frozen, a.frozenBy, a.frozenOn = true, by, s.now()
	a.mu.Unlock()
	return s.save(ctx, a)
}

func (s *Store) Unfreeze(ctx context.Context, a *Account) error {
	a.mu.Lock()
	a.frozen, a.frozenBy, a.frozenOn = false, "", time.Time{}
	a.mu.Unlock()
	return s.save(ctx, a)
}

func (s *Store) SetRank(ctx context.Context, a *Account, rank string) error {
	a.mu.Lock()
	a.rank = rank
	a.mu.Unlock()
	return s.save(ctx, a)
}

func (s *Store) SetHidden(ctx context.Context, a *Account, hidden bool) error {
	a.mu.Lock()
	a.hidden = hidden
	a.mu.Unlock()
	return s.save(ctx, a)
}

func (s *Store) SetIPBanExempt(ctx context.Context, a *Account, exempt bool) error {
	a.mu.Lock()
	a.ipBanExempt = exempt
	a.mu.Unlock()
	return s.save(ctx, a)
}

func (s *Store) SetBandwidthMode(ctx context.Context, a *Account, mode int) error {
	a.mu.Lock()
	a.bandwidthMode = mode
	a.mu.Unlock()
	return s.save(ctx, a)
}

// BanIP 封禁地址
func (s *Store) BanIP(ctx context.Context, ip net.IP, by, reason string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO ip_bans (ip, banned_by, reason, ban_date, attempts) VALUES (?, ?, ?, ?, 0)`,
		ip.String(), by, reason, toUnix(s.now()))
	return err
}

// IPBan 查询地址封禁；未封禁返回 nil, nil
func (s *Store) IPBan(ctx context.Context, ip net.IP) (*IPBan, error) {
	if ip == nil {
		return nil, nil
	}
	var (
		b    IPBan
		date int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT ip, banned_by, reason, ban_date, attempts FROM ip_bans WHERE ip = ?`, ip.String()).
		Scan(&b.IP, &b.BannedBy, &b.Reason, &date, &b.Attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("accounts: ip ban lookup: %w", err)
	}
	b.BanDate = fromUnix(date)
	return &b, nil
}

// RecordIPBanAttempt 被封地址再次尝试登录
func (s *Store) RecordIPBanAttempt(ctx context.Context, ip net.IP) error {
	_, err := s.db.ExecContext(ctx, `UPDATE ip_bans SET attempts = attempts + 1 WHERE ip = ?`, ip.String())
	return err
}

// ipString 未知地址（例如内存管道）记为空串
func ipString(ip net.IP) string {
	if ip == nil {
		return ""
	}
	return ip.String()
}
