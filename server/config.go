package server

import (
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"tacticarena/protocol"
)

// Config 服务端配置；默认值见 DefaultConfig
type Config struct {
	Addr          string // TCP 游戏端口
	HTTPAddr      string // WebSocket 网关 + 管理接口
	MapWidth      int32
	MapHeight     int32
	IdleTimeout   time.Duration // 读空闲超时，0 表示不限制
	WriteTimeout  time.Duration
	OutboundQueue int // 每个会话的发送队列容量
	MaxFrameSize  int
	// SpawnAvoidOccupied 出生时尽量避开已被占用的格子
	SpawnAvoidOccupied bool
	LogFile            string
}

func DefaultConfig() Config {
	return Config{
		Addr:               ":8080",
		HTTPAddr:           ":8081",
		MapWidth:           10,
		MapHeight:          10,
		IdleTimeout:        2 * time.Minute,
		WriteTimeout:       5 * time.Second,
		OutboundQueue:      64,
		MaxFrameSize:       protocol.DefaultMaxFrameSize,
		SpawnAvoidOccupied: true,
		LogFile:            "app.log",
	}
}

// ApplyEnv 用环境变量覆盖配置；非法值记录日志后忽略
func (c *Config) ApplyEnv(getenv func(string) string) {
	if raw := getenv("PORT"); raw != "" {
		if _, err := strconv.Atoi(raw); err == nil {
			c.Addr = ":" + raw
		} else {
			Log.Warnf("invalid PORT=%q: %v", raw, err)
		}
	}
	if raw := getenv("HTTP_PORT"); raw != "" {
		if _, err := strconv.Atoi(raw); err == nil {
			c.HTTPAddr = ":" + raw
		} else {
			Log.Warnf("invalid HTTP_PORT=%q: %v", raw, err)
		}
	}
	if raw := getenv("MAP_WIDTH"); raw != "" {
		if v, err := ParseMapSide(raw); err == nil {
			c.MapWidth = v
		} else {
			Log.Warnf("invalid MAP_WIDTH=%q: %v", raw, err)
		}
	}
	if raw := getenv("MAP_HEIGHT"); raw != "" {
		if v, err := ParseMapSide(raw); err == nil {
			c.MapHeight = v
		} else {
			Log.Warnf("invalid MAP_HEIGHT=%q: %v", raw, err)
		}
	}
	if raw := getenv("IDLE_TIMEOUT"); raw != "" {
		if v, err := time.ParseDuration(raw); err == nil {
			c.IdleTimeout = v
		} else {
			Log.Warnf("invalid IDLE_TIMEOUT=%q: %v", raw, err)
		}
	}
	if raw := getenv("LOG_FILE"); raw != "" {
		c.LogFile = raw
	}
}

// MaxMapSide 地图边长上限
const MaxMapSide = 4096

// ParseMapSide 解析地图边长；超出 int32 的值报错而不是截断
func ParseMapSide(raw string) (int32, error) {
	v, err := strconv.ParseInt(raw, 10, 32)
	if err != nil {
		return 0, err
	}
	if v <= 0 || v > MaxMapSide {
		return 0, fmt.Errorf("map side %d out of range 1..%d", v, MaxMapSide)
	}
	return int32(v), nil
}

// Validate 检查配置是否可用
func (c Config) Validate() error {
	if c.MapWidth <= 0 || c.MapHeight <= 0 {
		return fmt.Errorf("config: map size must be positive, got %dx%d", c.MapWidth, c.MapHeight)
	}
	if c.MapWidth > MaxMapSide || c.MapHeight > MaxMapSide {
		return fmt.Errorf("config: map side must not exceed %d, got %dx%d", MaxMapSide, c.MapWidth, c.MapHeight)
	}
	if c.OutboundQueue <= 0 {
		return fmt.Errorf("config: outbound queue must be positive, got %d", c.OutboundQueue)
	}
	if c.MaxFrameSize <= protocol.HeaderSize {
		return fmt.Errorf("config: max frame size too small: %d", c.MaxFrameSize)
	}
	if c.IdleTimeout < 0 || c.WriteTimeout < 0 {
		return fmt.Errorf("config: timeouts must not be negative")
	}
	return nil
}

// runtimeKnobs 可通过 /admin/config 热更新的参数
type runtimeKnobs struct {
	idleTimeout        atomic.Int64 // ns
	spawnAvoidOccupied atomic.Bool
}

func newRuntimeKnobs(c Config) *runtimeKnobs {
	k := &runtimeKnobs{}
	k.idleTimeout.Store(int64(c.IdleTimeout))
	k.spawnAvoidOccupied.Store(c.SpawnAvoidOccupied)
	return k
}

func (k *runtimeKnobs) IdleTimeout() time.Duration { return time.Duration(k.idleTimeout.Load()) }
func (k *runtimeKnobs) SpawnAvoidOccupied() bool { return k.spawnAvoidOccupied.Load() }
