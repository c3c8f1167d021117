// Package config loads server configuration from defaults, an optional JSON
// file, and validation, generalizing the teacher's internal/config.Config
// (a plain nested struct with Default/Load/Save/Ensure helpers) to the
// streaming core's own settings.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/magicmirror/mmcore/internal/util"
)

type Config struct {
	Listen    Listen    `json:"listen"`
	GPU       GPU       `json:"gpu"`
	Session   Session   `json:"session"`
	Transport Transport `json:"transport"`
	Encode    Encode    `json:"encode"`
	Diag      Diag      `json:"diag"`
}

type Listen struct {
	// Addr is the UDP address the QUIC server binds, e.g. "0.0.0.0:9443".
	Addr string `json:"addr"`
	// ALPN is the QUIC ALPN protocol identifier, e.g. "mm/1".
	ALPN string `json:"alpn"`
	// CertFile / KeyFile name TLS material produced by the out-of-scope
	// certificate-generation collaborator; only paths live here.
	CertFile string `json:"cert_file"`
	KeyFile  string `json:"key_file"`
	// Workers is the size of the stream-handler thread pool.
	Workers int `json:"workers"`
}

type GPU struct {
	// RenderNode is the DRM render node device path, e.g. "/dev/dri/renderD128".
	RenderNode string `json:"render_node"`
	// PreferDiscrete scores discrete GPUs above integrated ones during selection.
	PreferDiscrete bool `json:"prefer_discrete"`
}

type Session struct {
	// IdleTimeout is how long a session with zero attachments survives
	// before the Reactor tears it down.
	IdleTimeout time.Duration `json:"idle_timeout"`
	// ReadyTimeout bounds how long a child process has to present a first
	// surface before it is killed and the launch fails.
	ReadyTimeout time.Duration `json:"ready_timeout"`
	// RefreshMinInterval is defaulted and validated with the rest of the
	// config, but the reactor does not read it: it rate-limits forced
	// keyframes per stream with its own fixed 10 s interval.
	RefreshMinInterval time.Duration `json:"refresh_min_interval"`
}

type Transport struct {
	// RingTargetDepth is a target in-progress-packet depth for the Packet
	// Ring (open question in spec.md §9: hard-coded at 5 in the reference).
	// Nothing in this repository reads it; packetring.New takes its depth
	// as an argument.
	RingTargetDepth int `json:"ring_target_depth"`
	// ChunkHeaderBudget is bytes reserved per chunk for protocol/QUIC overhead.
	ChunkHeaderBudget int `json:"chunk_header_budget"`
	// MTU bounds the usable payload size per datagram chunk.
	MTU int `json:"mtu"`
	// AttachmentKeepalive is the max silence before an attachment is ended.
	AttachmentKeepalive time.Duration `json:"attachment_keepalive"`
	// FECRatios maps hierarchical layer index to parity/data shard ratio.
	FECRatios map[int]float64 `json:"fec_ratios"`
}

type Encode struct {
	// Codec names the default video codec new sessions encode with
	// ("h264", "hevc", "av1"); an attachment's own VideoParams.Codec may
	// override it once per-attachment codec negotiation is implemented.
	Codec string `json:"codec"`
	// GOPSize is the keyframe interval in frames.
	GOPSize int `json:"gop_size"`
	// GOPLayers is the hierarchical-P layer count (spec §4.A "GOPStructure").
	GOPLayers int `json:"gop_layers"`
	// DPBSlots sizes the decoded-picture-buffer reference pool.
	DPBSlots int `json:"dpb_slots"`
}

type Diag struct {
	// BugReportDir, if non-empty, enables per-attachment raw bitstream and
	// child stdio capture to disk.
	BugReportDir string `json:"bug_report_dir"`
}

func Default() Config {
	return Config{
		Listen: Listen{
			Addr:    "0.0.0.0:9443",
			ALPN:    "mm/1",
			Workers: 8,
		},
		GPU: GPU{
			RenderNode:     "/dev/dri/renderD128",
			PreferDiscrete: true,
		},
		Session: Session{
			IdleTimeout:        60 * time.Second,
			ReadyTimeout:       10 * time.Second,
			RefreshMinInterval: 10 * time.Second,
		},
		Transport: Transport{
			RingTargetDepth:     5,
			ChunkHeaderBudget:   128,
			MTU:                 1350,
			AttachmentKeepalive: 30 * time.Second,
			FECRatios: map[int]float64{
				0: 0.5,
				1: 0.25,
			},
		},
		Encode: Encode{
			Codec:     "h264",
			GOPSize:   60,
			GOPLayers: 2,
			DPBSlots:  4,
		},
	}
}

func (c *Config) Validate() error {
	if c.Listen.Addr == "" {
		return errors.New("listen.addr is required")
	}
	if c.Listen.ALPN == "" {
		return errors.New("listen.alpn is required")
	}
	if c.Listen.Workers <= 0 {
		return errors.New("listen.workers must be > 0")
	}
	if c.Transport.RingTargetDepth <= 0 {
		return errors.New("transport.ring_target_depth must be > 0")
	}
	if c.Transport.MTU <= c.Transport.ChunkHeaderBudget {
		return errors.New("transport.mtu must exceed transport.chunk_header_budget")
	}
	if c.Session.RefreshMinInterval <= 0 {
		return errors.New("session.refresh_min_interval must be > 0")
	}
	if c.Encode.GOPSize <= 0 {
		return errors.New("encode.gop_size must be > 0")
	}
	if c.Encode.DPBSlots <= 0 {
		return errors.New("encode.dpb_slots must be > 0")
	}
	for layer, ratio := range c.Transport.FECRatios {
		if ratio < 0 || ratio > 1 {
			return fmt.Errorf("transport.fec_ratios[%d] must be in [0,1]", layer)
		}
	}
	return nil
}

// Load reads Default(), then overlays a JSON file at path, validating the
// result. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func Save(path string, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	return util.WriteJSONFile(path, cfg)
}

// Ensure loads config from path if present; otherwise writes and returns
// the default configuration. Returns (cfg, createdNew, err).
func Ensure(path string) (Config, bool, error) {
	if _, err := os.Stat(path); err == nil {
		cfg, err := Load(path)
		return cfg, false, err
	} else if !os.IsNotExist(err) {
		return Config{}, false, err
	}

	cfg := Default()
	if err := Save(path, cfg); err != nil {
		return Config{}, false, fmt.Errorf("create default config: %w", err)
	}
	return cfg, true, nil
}
