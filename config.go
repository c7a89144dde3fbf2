package virtualizer

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/joeshaw/envdecode"

	"github.com/ggoodman/proxy-virtualizer-go/connections/redisstore"
	"github.com/ggoodman/proxy-virtualizer-go/host"
	"github.com/ggoodman/proxy-virtualizer-go/internal/logctx"
	"github.com/ggoodman/proxy-virtualizer-go/protocol"
	"github.com/ggoodman/proxy-virtualizer-go/servers"
	"github.com/ggoodman/proxy-virtualizer-go/signals/redisrelay"
)

// Config is the environment-driven engine configuration.
type Config struct {
	// TargetProtocol is the protocol version servers are launched for.
	// ENV: VSERVER_TARGET_PROTOCOL
	TargetProtocol int `env:"VSERVER_TARGET_PROTOCOL,default=769"`
	// RedisAddr enables the Redis session storage when set. ENV: VSERVER_REDIS_ADDR
	RedisAddr string `env:"VSERVER_REDIS_ADDR"`
	// ConnectionsKeyPrefix namespaces session keys in Redis.
	// ENV: VSERVER_CONNECTIONS_KEY_PREFIX
	ConnectionsKeyPrefix string `env:"VSERVER_CONNECTIONS_KEY_PREFIX,default=vserver:connections:"`
	// SignalStream enables forwarding of signals to this Redis stream when
	// set together with RedisAddr. ENV: VSERVER_SIGNAL_STREAM
	SignalStream string `env:"VSERVER_SIGNAL_STREAM"`
	// SignalStreamMaxLen caps the stream length. ENV: VSERVER_SIGNAL_STREAM_MAXLEN
	SignalStreamMaxLen int64 `env:"VSERVER_SIGNAL_STREAM_MAXLEN,default=10000"`
	// RulesFile is a packet rules file to watch. ENV: VSERVER_RULES_FILE
	RulesFile string `env:"VSERVER_RULES_FILE"`
	// LogLevel is one of debug, info, warn, error. ENV: VSERVER_LOG_LEVEL
	LogLevel string `env:"VSERVER_LOG_LEVEL,default=info"`
	// ReturnOnDisconnectAll sends clients home on DisconnectAll.
	// ENV: VSERVER_RETURN_ON_DISCONNECT_ALL
	ReturnOnDisconnectAll bool `env:"VSERVER_RETURN_ON_DISCONNECT_ALL,default=false"`
}

// ConfigFromEnv decodes Config from the environment.
func ConfigFromEnv() (Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Config{}, fmt.Errorf("decode virtualizer config: %w", err)
	}
	if cfg.TargetProtocol == 0 {
		cfg.TargetProtocol = protocol.ProtocolVersion1_21_4
	}
	return cfg, nil
}

// Level parses LogLevel. Unknown values fall back to info.
func (c Config) Level() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(c.LogLevel))); err != nil {
		return slog.LevelInfo
	}
	return l
}

// NewLogger returns a JSON logger writing to w at the configured level, with
// client, server and command context attached to every record.
func (c Config) NewLogger(w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	return logctx.NewLogger(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: c.Level()}))
}

// NewFromConfig assembles an engine from cfg. Redis-backed storage and
// signal forwarding are enabled when configured. opts are applied after the
// ones derived from cfg.
// Without WithLogger, the logger comes from cfg.NewLogger(os.Stderr).
func NewFromConfig(proxy host.Proxy, writer host.PacketWriter, cfg Config, opts ...Option) (*Virtualizer, error) {
	var probe settings
	for _, o := range opts {
		o(&probe)
	}
	log := probe.log
	if log == nil {
		log = cfg.NewLogger(os.Stderr)
	}

	registry := servers.NewRegistry()
	base := []Option{
		WithLogger(log),
		WithRegistry(registry),
		WithTargetProtocol(cfg.TargetProtocol),
		WithReturnOnDisconnectAll(cfg.ReturnOnDisconnectAll),
	}

	var closers, opened []io.Closer
	closeAll := func() {
		for _, c := range opened {
			_ = c.Close()
		}
	}

	if cfg.RedisAddr != "" {
		store, err := redisstore.New(redisstore.Config{
			RedisAddr: cfg.RedisAddr,
			KeyPrefix: cfg.ConnectionsKeyPrefix,
		}, registry)
		if err != nil {
			return nil, fmt.Errorf("redis session storage: %w", err)
		}
		closers = append(closers, store)
		opened = append(opened, store)
		base = append(base, WithStorage(store))

		if cfg.SignalStream != "" {
			relay, err := redisrelay.New(redisrelay.Config{
				RedisAddr: cfg.RedisAddr,
				Stream:    cfg.SignalStream,
				MaxLen:    cfg.SignalStreamMaxLen,
			}, redisrelay.WithLogger(log))
			if err != nil {
				closeAll()
				return nil, fmt.Errorf("signal relay: %w", err)
			}
			opened = append(opened, relay)
			base = append(base, WithSignalRelay(relay))
		}
	}
	base = append(base, func(s *settings) { s.closers = append(s.closers, closers...) })

	v, err := New(proxy, writer, append(base, opts...)...)
	if err != nil {
		closeAll()
		return nil, err
	}
	return v, nil
}
