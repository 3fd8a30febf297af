package models

import (
	"gorm.io/gorm"

	"github.com/jmylchreest/streamforge/internal/urlutil"
)

// PlatformKind identifies which streaming platform a PlatformConfig governs.
type PlatformKind string

const (
	// PlatformKindTwitch requires EXT-X-TWITCH-PREFETCH preprocessing and
	// supports batched liveness checks.
	PlatformKindTwitch PlatformKind = "twitch"
	// PlatformKindYouTube is a generic HLS platform without batch checks.
	PlatformKindYouTube PlatformKind = "youtube"
	// PlatformKindKick is a generic HLS platform without batch checks.
	PlatformKindKick PlatformKind = "kick"
	// PlatformKindGenericHLS covers any RFC 8216 endpoint with no
	// platform-specific preprocessing.
	PlatformKindGenericHLS PlatformKind = "generic_hls"
)

// valid reports whether k is one of the recognized platform kinds.
func (k PlatformKind) valid() bool {
	switch k {
	case PlatformKindTwitch, PlatformKindYouTube, PlatformKindKick, PlatformKindGenericHLS:
		return true
	default:
		return false
	}
}

// PlatformConfig governs the check cadence, batching behavior, and error
// thresholds every Streamer assigned to it inherits. One PlatformActor
// exists per PlatformConfig at runtime.
type PlatformConfig struct {
	BaseModel

	// Name is a human-readable label, e.g. "twitch.tv".
	Name string `gorm:"not null;size:255" json:"name"`

	// Kind selects platform-specific preprocessing and capabilities.
	Kind PlatformKind `gorm:"not null;size:20" json:"kind"`

	// SupportsBatchCheck enables the PlatformActor batch-accumulation path;
	// when false, every streamer ticks and checks independently.
	SupportsBatchCheck bool `gorm:"default:false" json:"supports_batch_check"`

	// MaxBatchSize is the pending-request count that forces immediate
	// batch execution.
	MaxBatchSize int `gorm:"default:20" json:"max_batch_size"`

	// BatchWindowMs is the maximum time a request waits in the pending
	// buffer before the batch executes regardless of size.
	BatchWindowMs int64 `gorm:"default:500" json:"batch_window_ms"`

	// RequiresTwitchPreprocessing enables EXT-X-TWITCH-PREFETCH rewriting
	// and ad daterange stripping in the HLS playlist engine.
	RequiresTwitchPreprocessing bool `gorm:"default:false" json:"requires_twitch_preprocessing"`

	// BaseCheckIntervalMs is the starting tick interval for a NotLive,
	// non-batch-capable streamer.
	BaseCheckIntervalMs int64 `gorm:"default:60000" json:"base_check_interval_ms"`

	// OfflineCheckCount debounces a Live -> NotLive transition: the
	// consecutive NotLive count must exceed it before the streamer leaves
	// Live.
	OfflineCheckCount uint32 `gorm:"default:2" json:"offline_check_count"`

	// ErrorThreshold is the consecutive-error count that trips a streamer
	// into StreamerStateError with a computed DisabledUntil.
	ErrorThreshold uint32 `gorm:"default:5" json:"error_threshold"`

	// APIBaseURL is the platform API root used for batch liveness checks.
	APIBaseURL string `gorm:"size:2048" json:"api_base_url,omitempty"`

	// ExtraHeaders carries platform-specific HTTP headers (e.g. Client-ID)
	// required on every outbound request.
	ExtraHeaders JSON `gorm:"type:text" json:"extra_headers,omitempty"`
}

// TableName returns the table name for PlatformConfig.
func (PlatformConfig) TableName() string {
	return "platform_configs"
}

// Validate performs basic validation on the platform config and
// normalizes APIBaseURL for consistent path joining.
func (p *PlatformConfig) Validate() error {
	if p.Name == "" {
		return ErrNameRequired
	}
	p.APIBaseURL = urlutil.NormalizeBaseURL(p.APIBaseURL)
	if p.Kind == "" {
		return ErrPlatformKindRequired
	}
	if !p.Kind.valid() {
		return ErrInvalidPlatformKind
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the config and generates a ULID.
func (p *PlatformConfig) BeforeCreate(tx *gorm.DB) error {
	if err := p.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return p.Validate()
}

// BeforeUpdate is a GORM hook that validates the config before update.
func (p *PlatformConfig) BeforeUpdate(tx *gorm.DB) error {
	return p.Validate()
}
