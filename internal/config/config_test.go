package config

import (
	"log/slog"
	"strings"
	"testing"
	"time"
)

func lookupFromMap(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load(lookupFromMap(nil), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.ListenAddr != DefaultListenAddr {
		t.Errorf("ListenAddr=%q, want %q", cfg.ListenAddr, DefaultListenAddr)
	}
	if cfg.Mode != ModeDev {
		t.Errorf("Mode=%q, want %q", cfg.Mode, ModeDev)
	}
	if cfg.LogFormat != LogFormatText {
		t.Errorf("LogFormat=%q, want %q (dev default)", cfg.LogFormat, LogFormatText)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel=%v, want debug (dev default)", cfg.LogLevel)
	}
	if cfg.RedisAddr != DefaultRedisAddr {
		t.Errorf("RedisAddr=%q, want %q", cfg.RedisAddr, DefaultRedisAddr)
	}
	if cfg.RoomCapacity != 0 {
		t.Errorf("RoomCapacity=%d, want 0 (unlimited)", cfg.RoomCapacity)
	}
	if cfg.PublisherLossPolicy != PublisherLossClose {
		t.Errorf("PublisherLossPolicy=%q, want %q", cfg.PublisherLossPolicy, PublisherLossClose)
	}
	if cfg.SignalingJoinTimeout != DefaultJoinTimeout {
		t.Errorf("SignalingJoinTimeout=%v, want %v", cfg.SignalingJoinTimeout, DefaultJoinTimeout)
	}
	if cfg.MaxSignalingMessageBytes != DefaultMaxSignalingMessageBytes {
		t.Errorf("MaxSignalingMessageBytes=%d, want %d", cfg.MaxSignalingMessageBytes, DefaultMaxSignalingMessageBytes)
	}
	if cfg.MaxMalformedMessages != DefaultMaxMalformedMessages {
		t.Errorf("MaxMalformedMessages=%d, want %d", cfg.MaxMalformedMessages, DefaultMaxMalformedMessages)
	}
	if cfg.WebRTCUDPPortRange != nil {
		t.Errorf("WebRTCUDPPortRange=%v, want nil", cfg.WebRTCUDPPortRange)
	}
	if err := cfg.ICEConfigError(); err != nil {
		t.Errorf("ICEConfigError=%v, want nil", err)
	}
}

func TestLoad_ProdModeSwitchesLogDefaults(t *testing.T) {
	cfg, err := load(lookupFromMap(map[string]string{
		"ROOMCAST_MODE": "prod",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogFormat != LogFormatJSON {
		t.Errorf("LogFormat=%q, want %q (prod default)", cfg.LogFormat, LogFormatJSON)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel=%v, want info (prod default)", cfg.LogLevel)
	}
}

func TestLoad_FlagsOverrideEnv(t *testing.T) {
	cfg, err := load(lookupFromMap(map[string]string{
		"ROOMCAST_LISTEN_ADDR": "127.0.0.1:9999",
		"ROOM_CAPACITY":        "4",
	}), []string{"--listen-addr=0.0.0.0:8081", "--room-capacity=8"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != "0.0.0.0:8081" {
		t.Errorf("ListenAddr=%q, want flag value", cfg.ListenAddr)
	}
	if cfg.RoomCapacity != 8 {
		t.Errorf("RoomCapacity=%d, want 8", cfg.RoomCapacity)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		args []string
		want string
	}{
		{
			name: "bad mode",
			args: []string{"--mode=staging"},
			want: "invalid mode",
		},
		{
			name: "bad publisher loss policy",
			env:  map[string]string{"PUBLISHER_LOSS_POLICY": "reelect"},
			want: "PUBLISHER_LOSS_POLICY",
		},
		{
			name: "bad join timeout",
			env:  map[string]string{"SIGNALING_JOIN_TIMEOUT": "soon"},
			want: "SIGNALING_JOIN_TIMEOUT",
		},
		{
			name: "ping interval >= idle timeout",
			env: map[string]string{
				"SIGNALING_WS_IDLE_TIMEOUT":  "10s",
				"SIGNALING_WS_PING_INTERVAL": "10s",
			},
			want: "must be <",
		},
		{
			name: "negative room capacity",
			env:  map[string]string{"ROOM_CAPACITY": "-1"},
			want: "ROOM_CAPACITY",
		},
		{
			name: "port min without max",
			env:  map[string]string{"WEBRTC_UDP_PORT_MIN": "50000"},
			want: "must be set together",
		},
		{
			name: "port min > max",
			env: map[string]string{
				"WEBRTC_UDP_PORT_MIN": "50010",
				"WEBRTC_UDP_PORT_MAX": "50000",
			},
			want: "must be <=",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := load(lookupFromMap(tt.env), tt.args)
			if err == nil {
				t.Fatalf("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error %q does not contain %q", err, tt.want)
			}
		})
	}
}

func TestLoad_UDPPortRange(t *testing.T) {
	cfg, err := load(lookupFromMap(map[string]string{
		"WEBRTC_UDP_PORT_MIN": "50000",
		"WEBRTC_UDP_PORT_MAX": "50100",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.WebRTCUDPPortRange == nil {
		t.Fatalf("WebRTCUDPPortRange is nil")
	}
	if cfg.WebRTCUDPPortRange.Min != 50000 || cfg.WebRTCUDPPortRange.Max != 50100 {
		t.Errorf("port range = %+v, want 50000..50100", cfg.WebRTCUDPPortRange)
	}
}

func TestLoad_ICEConfigErrorIsNonFatal(t *testing.T) {
	cfg, err := load(lookupFromMap(map[string]string{
		"ROOMCAST_ICE_SERVERS_JSON": `[{"urls":"http://not-ice.example"}]`,
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ICEConfigError() == nil {
		t.Fatalf("expected ICE config error to be recorded")
	}
	if len(cfg.ICEServers) != 0 {
		t.Errorf("ICEServers=%v, want empty on config error", cfg.ICEServers)
	}
}

func TestLoad_DurationsFromEnv(t *testing.T) {
	cfg, err := load(lookupFromMap(map[string]string{
		"SIGNALING_JOIN_TIMEOUT":    "3s",
		"ROOMCAST_SHUTDOWN_TIMEOUT": "30s",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.SignalingJoinTimeout != 3*time.Second {
		t.Errorf("SignalingJoinTimeout=%v, want 3s", cfg.SignalingJoinTimeout)
	}
	if cfg.ShutdownTimeout != 30*time.Second {
		t.Errorf("ShutdownTimeout=%v, want 30s", cfg.ShutdownTimeout)
	}
}
