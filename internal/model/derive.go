package model

import (
	"fmt"
	"math"
	"time"

	"github.com/dustin/go-humanize"
)

// Derived values are computed on read and never stored.

// ClampScore limits a score to [0, 100].
func ClampScore(s Score) Score {
	switch {
	case s < 0:
		return 0
	case s > 100:
		return 100
	default:
		return s
	}
}

// AQIBand maps a quality score to Good, Fair or Poor.
func AQIBand(score int) string {
	switch {
	case score >= 71:
		return "Good"
	case score >= 41:
		return "Fair"
	default:
		return "Poor"
	}
}

// AuthenticityBand maps an authenticity score to its verdict label.
func AuthenticityBand(score int) string {
	switch {
	case score >= 86:
		return "AUTHENTIC"
	case score >= 71:
		return "SUSPICIOUS"
	case score >= 41:
		return "MODIFIED"
	default:
		return "SEVERELY MODIFIED"
	}
}

// DurationFormatted renders seconds as M:SS. Unknown durations render as 0:00.
func DurationFormatted(seconds *float64) string {
	if seconds == nil || *seconds <= 0 {
		return "0:00"
	}
	total := int(math.Floor(*seconds))
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}

// FileSizeFormatted renders a byte count with a human-scaled unit.
func FileSizeFormatted(size int64) string {
	if size < 0 {
		size = 0
	}
	return humanize.Bytes(uint64(size))
}

// ChannelLabel names a channel layout.
func ChannelLabel(channels *int) string {
	if channels == nil || *channels <= 0 {
		return "Unknown"
	}
	switch *channels {
	case 1:
		return "Mono"
	case 2:
		return "Stereo"
	default:
		return fmt.Sprintf("Surround (%dch)", *channels)
	}
}

// AssetSummary is the caller-facing view of an asset.
type AssetSummary struct {
	ID                string            `json:"id"`
	Filename          string            `json:"filename"`
	Format            string            `json:"format"`
	Duration          *float64          `json:"duration"`
	DurationFormatted string            `json:"durationFormatted"`
	SampleRate        *int              `json:"sampleRate"`
	Channels          *int              `json:"channels"`
	ChannelLabel      string            `json:"channelLabel"`
	FileSize          int64             `json:"fileSize"`
	FileSizeFormatted string            `json:"fileSizeFormatted"`
	Bitrate           *int              `json:"bitrate"`
	UploadDate        time.Time         `json:"uploadDate"`
	OriginalURL       string            `json:"originalUrl"`
	EnhancedURL       string            `json:"enhancedUrl,omitempty"`
	Processing        ProcessingState   `json:"processing"`
	Bands             map[string]string `json:"bands,omitempty"`
}

// Summarize builds the summary for a, resolving storage keys with fileURL.
func Summarize(a *Asset, fileURL func(key string) string) AssetSummary {
	s := AssetSummary{
		ID:                a.ID,
		Filename:          a.Filename,
		Format:            a.Format,
		Duration:          a.DurationSeconds,
		DurationFormatted: DurationFormatted(a.DurationSeconds),
		SampleRate:        a.SampleRate,
		Channels:          a.Channels,
		ChannelLabel:      ChannelLabel(a.Channels),
		FileSize:          a.FileSize,
		FileSizeFormatted: FileSizeFormatted(a.FileSize),
		Bitrate:           a.BitrateKbps,
		UploadDate:        a.CreatedAt,
		OriginalURL:       fileURL(a.SourcePath),
		Processing:        a.Processing,
	}
	if a.EnhancedPath != nil {
		s.EnhancedURL = fileURL(*a.EnhancedPath)
	}
	if a.Processing.AQIScore != nil || a.Processing.AuthenticityScore != nil {
		s.Bands = make(map[string]string, 2)
		if a.Processing.AQIScore != nil {
			s.Bands["aqi"] = AQIBand(*a.Processing.AQIScore)
		}
		if a.Processing.AuthenticityScore != nil {
			s.Bands["authenticity"] = AuthenticityBand(*a.Processing.AuthenticityScore)
		}
	}
	return s
}
