package server

import (
	"sync/atomic"
)

// Metrics 记录服务运行期的关键指标（用于监控与调试）
type Metrics struct {
	SessionsOpened     int64 // 累计接入的会话
	SessionsActive     int64 // 当前在线会话
	FramesIn           int64 // 收到的帧
	FramesOut          int64 // 写出的帧
	ActionsAccepted    int64 // 引擎接受的操作
	ActionsRejected    int64 // 被规则拒绝的操作
	IdentityViolations int64 // 冒用他人身份的请求
	DecodeErrors       int64 // 解码失败（会话随之关闭）
	SyncsBroadcast     int64 // 广播批次
	SlowEvictions      int64 // 因发送队列满被踢出的会话
}

func (m *Metrics) IncSessionOpened() {
	atomic.AddInt64(&m.SessionsOpened, 1)
	atomic.AddInt64(&m.SessionsActive, 1)
}
func (m *Metrics) IncSessionClosed() { atomic.AddInt64(&m.SessionsActive, -1) }
func (m *Metrics) IncFrameIn() { atomic.AddInt64(&m.FramesIn, 1) }
func (m *Metrics) IncFrameOut() { atomic.AddInt64(&m.FramesOut, 1) }
func (m *Metrics) IncAccepted() { atomic.AddInt64(&m.ActionsAccepted, 1) }
func (m *Metrics) IncRejected() { atomic.AddInt64(&m.ActionsRejected, 1) }
func (m *Metrics) IncIdentityViolation() { atomic.AddInt64(&m.IdentityViolations, 1) }
func (m *Metrics) IncDecodeError() { atomic.AddInt64(&m.DecodeErrors, 1) }
func (m *Metrics) IncSync() { atomic.AddInt64(&m.SyncsBroadcast, 1) }
func (m *Metrics) IncSlowEviction() { atomic.AddInt64(&m.SlowEvictions, 1) }

// Snapshot 返回只读副本，便于 HTTP 输出
func (m *Metrics) Snapshot() map[string]any {
	return map[string]any{
		"sessions_opened":     atomic.LoadInt64(&m.SessionsOpened),
		"sessions_active":     atomic.LoadInt64(&m.SessionsActive),
		"frames_in":           atomic.LoadInt64(&m.FramesIn),
		"frames_out":          atomic.LoadInt64(&m.FramesOut),
		"actions_accepted":    atomic.LoadInt64(&m.ActionsAccepted),
		"actions_rejected":    atomic.LoadInt64(&m.ActionsRejected),
		"identity_violations": atomic.LoadInt64(&m.IdentityViolations),
		"decode_errors":       atomic.LoadInt64(&m.DecodeErrors),
		"syncs_broadcast":     atomic.LoadInt64(&m.SyncsBroadcast),
		"slow_evictions":      atomic.LoadInt64(&m.SlowEvictions),
	}
}
