package main

import (
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name: "defaults are valid",
			cfg:  Config{port: 8080, sweepInterval: 10 * time.Second, sendBuffer: 32},
		},
		{
			name:    "port too low",
			cfg:     Config{port: 0, sweepInterval: 10 * time.Second, sendBuffer: 32},
			wantErr: true,
		},
		{
			name:    "port too high",
			cfg:     Config{port: 70000, sweepInterval: 10 * time.Second, sendBuffer: 32},
			wantErr: true,
		},
		{
			name:    "tls cert without key",
			cfg:     Config{port: 8080, sweepInterval: 10 * time.Second, sendBuffer: 32, tlsCert: "cert.pem"},
			wantErr: true,
		},
		{
			name:    "sweep interval too short",
			cfg:     Config{port: 8080, sweepInterval: 100 * time.Millisecond, sendBuffer: 32},
			wantErr: true,
		},
		{
			name:    "send buffer zero",
			cfg:     Config{port: 8080, sweepInterval: 10 * time.Second, sendBuffer: 0},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfigScheme(t *testing.T) {
	cfg := Config{}
	if cfg.scheme() != "http" {
		t.Errorf("Expected http without TLS, got %s", cfg.scheme())
	}

	cfg.tlsCert, cfg.tlsKey = "cert.pem", "key.pem"
	if cfg.scheme() != "https" {
		t.Errorf("Expected https with TLS, got %s", cfg.scheme())
	}
}

func TestNewCmdDefaults(t *testing.T) {
	cfg := &Config{}
	cmd := newCmd(cfg)

	if err := cmd.ParseFlags(nil); err != nil {
		t.Fatalf("Failed to parse default flags: %v", err)
	}

	if cfg.port != 8080 {
		t.Errorf("Expected default port 8080, got %d", cfg.port)
	}
	if cfg.sweepInterval != 10*time.Second {
		t.Errorf("Expected default sweep interval 10s, got %s", cfg.sweepInterval)
	}
	if cfg.sendBuffer != 32 {
		t.Errorf("Expected default send buffer 32, got %d", cfg.sendBuffer)
	}
	if err := cfg.validate(); err != nil {
		t.Errorf("Default configuration failed validation: %v", err)
	}
}
