package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/invopop/jsonschema"

	"tacticarena/protocol"
)

// HTTPHandler 汇总 WebSocket 网关与管理、监控接口
func (s *Server) HTTPHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.HandleWS)
	mux.HandleFunc("/admin/config", s.HandleAdminConfig)
	mux.HandleFunc("/admin/state", s.HandleState)
	mux.HandleFunc("/admin/sessions", s.HandleSessions)
	mux.HandleFunc("/admin/schema", HandleSchema)
	mux.HandleFunc("/metrics", s.HandleMetrics)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// HandleAdminConfig 读取与热更新运行期参数
// GET  /admin/config  返回当前配置
// POST /admin/config  以 JSON 载荷更新部分字段
func (s *Server) HandleAdminConfig(w http.ResponseWriter, r *http.Request) {
	type cfg struct {
		MapWidth           *int32 `json:"mapWidth,omitempty"`
		MapHeight          *int32 `json:"mapHeight,omitempty"`
		OutboundQueue      *int   `json:"outboundQueue,omitempty"`
		IdleTimeoutMs      *int64 `json:"idleTimeoutMs,omitempty"`
		SpawnAvoidOccupied *bool  `json:"spawnAvoidOccupied,omitempty"`
	}

	switch r.Method {
	case http.MethodGet:
		idle := s.knobs.IdleTimeout().Milliseconds()
		avoid := s.knobs.SpawnAvoidOccupied()
		cur := cfg{
			MapWidth:           &s.cfg.MapWidth,
			MapHeight:          &s.cfg.MapHeight,
			OutboundQueue:      &s.cfg.OutboundQueue,
			IdleTimeoutMs:      &idle,
			SpawnAvoidOccupied: &avoid,
		}
		writeJSON(w, cur)
		return
	case http.MethodPost:
		var body cfg
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if body.MapWidth != nil || body.MapHeight != nil || body.OutboundQueue != nil {
			http.Error(w, "map size and queue size are fixed at startup", http.StatusBadRequest)
			return
		}
		if body.IdleTimeoutMs != nil {
			if *body.IdleTimeoutMs < 0 {
				http.Error(w, "idleTimeoutMs must not be negative", http.StatusBadRequest)
				return
			}
			s.knobs.idleTimeout.Store(int64(time.Duration(*body.IdleTimeoutMs) * time.Millisecond))
		}
		if body.SpawnAvoidOccupied != nil {
			s.knobs.spawnAvoidOccupied.Store(*body.SpawnAvoidOccupied)
		}
		writeJSON(w, map[string]any{"ok": true})
		Log.Infof("config updated: idleTimeout=%s spawnAvoidOccupied=%v",
			s.knobs.IdleTimeout(), s.knobs.SpawnAvoidOccupied())
		return
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
}

// HandleMetrics 输出运行指标
// GET /metrics
func (s *Server) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.metrics.Snapshot())
}

// HandleState 以 JSON 输出当前世界快照
func (s *Server) HandleState(w http.ResponseWriter, r *http.Request) {
	world, err := s.Snapshot(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, world)
}

// HandleSessions 列出在线会话
func (s *Server) HandleSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Sessions())
}

// HandleSchema 输出 WorldState 的 JSON Schema，供客户端与工具校验 /admin/state
func HandleSchema(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, jsonschema.Reflect(&protocol.WorldState{}))
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
