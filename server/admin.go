package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/cors"
)

// Handler 管理与监控接口；ws 非空时挂载 /ws 接入
func (s *Server) Handler(ws *WSListener) http.Handler {
	mux := http.NewServeMux()
	if ws != nil {
		mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
			// 暂停接入时不做升级，直接拒绝
			if !s.Accepting() {
				http.Error(w, "not accepting clients", http.StatusServiceUnavailable)
				return
			}
			ws.ServeHTTP(w, r)
		})
	}
	mux.HandleFunc("/admin/config", s.HandleAdminConfig)
	mux.HandleFunc("/metrics", s.HandleMetrics)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	return cors.Default().Handler(mux)
}

// HandleAdminConfig 运行期配置的读取与更新
// GET /admin/config  返回当前配置
// POST /admin/config 以 JSON 载荷更新部分字段，如 {"deadlineMs":80,"accepting":false}
func (s *Server) HandleAdminConfig(w http.ResponseWriter, r *http.Request) {
	type cfg struct {
		DeadlineMs *int64 `json:"deadlineMs,omitempty"`
		Accepting  *bool  `json:"accepting,omitempty"`
	}

	switch r.Method {
	case http.MethodGet:
		deadline := s.sync.Deadline().Milliseconds()
		accepting := s.Accepting()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(cfg{DeadlineMs: &deadline, Accepting: &accepting})
		return
	case http.MethodPost:
		var body cfg
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if body.DeadlineMs != nil {
			if *body.DeadlineMs <= 0 {
				http.Error(w, "deadlineMs must be positive", http.StatusBadRequest)
				return
			}
			s.sync.SetDeadline(time.Duration(*body.DeadlineMs) * time.Millisecond)
		}
		if body.Accepting != nil {
			s.SetAccepting(*body.Accepting)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
		Log.Infof("config updated: deadline=%s accepting=%v", s.sync.Deadline(), s.Accepting())
		return
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
}

// HandleMetrics 输出运行指标
// GET /metrics
func (s *Server) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{
		"frame":     s.Frame(),
		"players":   s.PlayerCount(),
		"accepting": s.Accepting(),
		"metrics":   s.metrics.Snapshot(),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}
