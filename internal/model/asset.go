package model

import "time"

// Module identifies one of the four independent analysis operations.
type Module string

const (
	ModuleEnhancement    Module = "enhancement"
	ModuleExplainability Module = "explainability"
	ModuleQuality        Module = "aqi"
	ModuleForensics      Module = "forensics"
)

// Modules lists every module in the order RunAll reports them.
var Modules = []Module{ModuleEnhancement, ModuleExplainability, ModuleQuality, ModuleForensics}

// ParseModule accepts the canonical names plus the route aliases used by the
// HTTP surface and CLI ("enhance", "explain", "quality").
func ParseModule(s string) (Module, bool) {
	switch s {
	case "enhancement", "enhance":
		return ModuleEnhancement, true
	case "explainability", "explain":
		return ModuleExplainability, true
	case "aqi", "quality":
		return ModuleQuality, true
	case "forensics":
		return ModuleForensics, true
	default:
		return "", false
	}
}

// Asset is one uploaded audio file and everything the modules produced for it.
// SourcePath and EnhancedPath are blob storage keys.
type Asset struct {
	ID              string          `json:"id"`
	Filename        string          `json:"filename"`
	SourcePath      string          `json:"sourcePath"`
	Format          string          `json:"format"`
	DurationSeconds *float64        `json:"duration"`
	SampleRate      *int            `json:"sampleRate"`
	Channels        *int            `json:"channels"`
	FileSize        int64           `json:"fileSize"`
	BitrateKbps     *int            `json:"bitrate"`
	CreatedAt       time.Time       `json:"uploadDate"`
	EnhancedPath    *string         `json:"enhancedPath"`
	Processing      ProcessingState `json:"processing"`
	Results         Results         `json:"results"`
}

// ProcessingState holds the headline outcome of each module. A field here is
// set exactly when the matching entry in Results is non-nil.
type ProcessingState struct {
	EnhancementComplete    bool  `json:"enhancementComplete"`
	ExplainabilityComplete bool  `json:"explainabilityComplete"`
	AQIScore               *int  `json:"aqiScore"`
	AuthenticityScore      *int  `json:"authenticityScore"`
	TamperingDetected      *bool `json:"tamperingDetected"`
}

// Registration is the input for registering a freshly written upload.
type Registration struct {
	Filename        string   `json:"filename"`
	SourcePath      string   `json:"sourcePath"`
	FileSize        int64    `json:"fileSizeBytes"`
	Format          string   `json:"format,omitempty"`
	DurationSeconds *float64 `json:"durationSeconds,omitempty"`
	SampleRate      *int     `json:"sampleRateHz,omitempty"`
	Channels        *int     `json:"channels,omitempty"`
	BitrateKbps     *int     `json:"bitrateKbps,omitempty"`
}

// Metadata is what the metadata extractor reports for a file. Every field is
// optional; an extraction failure yields the zero value.
type Metadata struct {
	Format          string
	DurationSeconds *float64
	SampleRate      *int
	Channels        *int
	BitrateKbps     *int
}

// Apply copies probed metadata onto the registration, keeping any format the
// caller already supplied when the probe did not report one.
func (r *Registration) Apply(m Metadata) {
	if m.Format != "" {
		r.Format = m.Format
	}
	r.DurationSeconds = m.DurationSeconds
	r.SampleRate = m.SampleRate
	r.Channels = m.Channels
	r.BitrateKbps = m.BitrateKbps
}
