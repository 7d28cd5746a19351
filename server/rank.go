package server

import (
	"strings"

	"minicraft/config"
)

// Permission 等级权限标识（与配置文件中的字符串一致）
type Permission string

const (
	PermChat       Permission = "chat"
	PermBuild      Permission = "build"
	PermDelete     Permission = "delete"
	PermSpeedHack  Permission = "speedhack"
	PermColors     Permission = "colors"
	PermHide       Permission = "hide"
	PermKick       Permission = "kick"
	PermSeeHidden  Permission = "hidden_view"
	PermLockBypass Permission = "lock_bypass"
)

// Rank 玩家等级。Index 越大等级越高
type Rank struct {
	Name             string
	Color            string
	Prefix           string
	Index            int
	AntiGriefBlocks  int
	AntiGriefSeconds int

	perms map[Permission]bool
}

func (r *Rank) Can(p Permission) bool {
	return r != nil && r.perms[p]
}

// CanSee 能否看到隐身的 other 等级玩家
func (r *Rank) CanSee(other *Rank) bool {
	return r.Can(PermSeeHidden) && (other == nil || r.Index >= other.Index)
}

// ClassyName 带颜色与前缀的显示名
func (r *Rank) ClassyName() string {
	return r.Color + r.Prefix + r.Name
}

// RankSet 配置中的全部等级
type RankSet struct {
	ranks  []*Rank
	byName map[string]*Rank
	def    *Rank
}

// NewRankSet 按配置顺序建立等级（越靠后越高）
func NewRankSet(cfgs []config.RankConfig, defaultRank string) *RankSet {
	rs := &RankSet{byName: make(map[string]*Rank, len(cfgs))}
	for i, c := range cfgs {
		r := &Rank{
			Name:             c.Name,
			Color:            c.Color,
			Prefix:           c.Prefix,
			Index:            i,
			AntiGriefBlocks:  c.AntiGriefBlocks,
			AntiGriefSeconds: c.AntiGriefSeconds,
			perms:            make(map[Permission]bool, len(c.Permissions)),
		}
		for _, p := range c.Permissions {
			r.perms[Permission(strings.ToLower(p))] = true
		}
		rs.ranks = append(rs.ranks, r)
		rs.byName[strings.ToLower(c.Name)] = r
	}
	rs.def = rs.byName[strings.ToLower(defaultRank)]
	if rs.def == nil && len(rs.ranks) > 0 {
		rs.def = rs.ranks[0]
	}
	return rs
}

// Find 按名字查找，未知名字退回默认等级
func (rs *RankSet) Find(name string) *Rank {
	if r, ok := rs.byName[strings.ToLower(name)]; ok {
		return r
	}
	return rs.def
}

func (rs *RankSet) Default() *Rank { return rs.def }

func (rs *RankSet) Highest() *Rank {
	if len(rs.ranks) == 0 {
		return nil
	}
	return rs.ranks[len(rs.ranks)-1]
}
