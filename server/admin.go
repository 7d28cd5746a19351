package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// AdminRouter 管理与监控接口：
// GET  /healthz
// GET  /metrics            Prometheus 指标
// GET  /ws                 WebSocket 客户端接入
// GET  /admin/config       当前限流与带宽配置
// POST /admin/config       以 JSON 载荷更新部分字段（热更新）
// GET  /admin/sessions     在线会话列表
// POST /admin/kick         {"name": "...", "reason": "..."}
func (srv *Server) AdminRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ws", srv.HandleWS)

	r.Route("/admin", func(r chi.Router) {
		r.Get("/config", srv.handleGetConfig)
		r.Post("/config", srv.handlePostConfig)
		r.Get("/sessions", srv.handleSessions)
		r.Post("/kick", srv.handleKick)
	})
	return r
}

type adminConfig struct {
	MessageCount    *int    `json:"antispamMessageCount,omitempty"`
	IntervalSeconds *int    `json:"antispamIntervalSeconds,omitempty"`
	MaxWarnings     *int    `json:"antispamMaxWarnings,omitempty"`
	MuteSeconds     *int    `json:"antispamMuteSeconds,omitempty"`
	BandwidthMode   *string `json:"bandwidthMode,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (srv *Server) currentAdminConfig() adminConfig {
	as := srv.Antispam()
	mode := srv.BandwidthMode().String()
	return adminConfig{
		MessageCount:    &as.MessageCount,
		IntervalSeconds: &as.IntervalSeconds,
		MaxWarnings:     &as.MaxWarnings,
		MuteSeconds:     &as.MuteSeconds,
		BandwidthMode:   &mode,
	}
}

func (srv *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, srv.currentAdminConfig())
}

func (srv *Server) handlePostConfig(w http.ResponseWriter, r *http.Request) {
	var body adminConfig
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	as := srv.Antispam()
	if body.MessageCount != nil {
		as.MessageCount = *body.MessageCount
	}
	if body.IntervalSeconds != nil {
		as.IntervalSeconds = *body.IntervalSeconds
	}
	if body.MaxWarnings != nil {
		as.MaxWarnings = *body.MaxWarnings
	}
	if body.MuteSeconds != nil {
		as.MuteSeconds = *body.MuteSeconds
	}
	if as.MessageCount < 0 || as.IntervalSeconds < 0 || as.MaxWarnings < 0 || as.MuteSeconds < 0 {
		http.Error(w, "antispam values must not be negative", http.StatusBadRequest)
		return
	}
	if body.BandwidthMode != nil {
		m, err := ParseBandwidthMode(*body.BandwidthMode)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		srv.SetBandwidthMode(m)
	}
	srv.SetAntispam(as)
	SystemActivity().Infof("config updated: antispam=%d/%ds warnings=%d mute=%ds bandwidth=%s",
		as.MessageCount, as.IntervalSeconds, as.MaxWarnings, as.MuteSeconds, srv.BandwidthMode())
	writeJSON(w, http.StatusOK, srv.currentAdminConfig())
}

type sessionInfo struct {
	ID            string `json:"id"`
	Name          string `json:"name,omitempty"`
	IP            string `json:"ip,omitempty"`
	State         string `json:"state"`
	World         string `json:"world,omitempty"`
	Verified      bool   `json:"verified"`
	Bandwidth     string `json:"bandwidth"`
	BytesSent     int64  `json:"bytesSent"`
	BytesReceived int64  `json:"bytesReceived"`
	SendRate      int64  `json:"sendRate"`
	ReceiveRate   int64  `json:"receiveRate"`
}

func (srv *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	sessions := srv.Sessions()
	out := make([]sessionInfo, 0, len(sessions))
	for _, s := range sessions {
		info := sessionInfo{
			ID:            s.ID,
			Name:          s.Name(),
			State:         s.State().String(),
			Verified:      s.IsVerified(),
			Bandwidth:     s.EffectiveBandwidthMode().String(),
			BytesSent:     s.BytesSent(),
			BytesReceived: s.BytesReceived(),
			SendRate:      s.SendRate(),
			ReceiveRate:   s.ReceiveRate(),
		}
		if s.IP() != nil {
			info.IP = s.IP().String()
		}
		if wd := s.World(); wd != nil {
			info.World = wd.Name
		}
		out = append(out, info)
	}
	writeJSON(w, http.StatusOK, out)
}

func (srv *Server) handleKick(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name   string `json:"name"`
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Name == "" {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	target := srv.FindPlayerExact(body.Name)
	if target == nil {
		http.Error(w, "no such player", http.StatusNotFound)
		return
	}
	msg := "You were kicked by the console"
	if body.Reason != "" {
		msg += ": " + body.Reason
	}
	target.Kick(msg, LeaveKick)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
