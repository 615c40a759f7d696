// Package probe extracts audio metadata with ffprobe.
package probe

import (
	"context"
	"encoding/json"
	"math"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/soundguard-ai/soundguard/internal/model"
)

// Result is the subset of ffprobe's JSON output we read.
type Result struct {
	Streams []Stream `json:"streams"`
	Format  Format   `json:"format"`
}

// Stream describes a single stream in the container.
type Stream struct {
	Index      int    `json:"index"`
	CodecName  string `json:"codec_name"`
	CodecType  string `json:"codec_type"`
	Duration   string `json:"duration"`
	BitRate    string `json:"bit_rate"`
	SampleRate string `json:"sample_rate"`
	Channels   int    `json:"channels"`
}

// Format captures container-level metadata.
type Format struct {
	Filename   string `json:"filename"`
	Duration   string `json:"duration"`
	Size       string `json:"size"`
	BitRate    string `json:"bit_rate"`
	FormatName string `json:"format_name"`
}

// Runner executes a command and returns its combined output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Prober runs ffprobe against local files.
type Prober struct {
	binary  string
	timeout time.Duration
	run     Runner
}

// Option configures a Prober.
type Option func(*Prober)

// WithRunner replaces the command runner.
func WithRunner(r Runner) Option {
	return func(p *Prober) { p.run = r }
}

// New returns a Prober. An empty binary means "ffprobe" on PATH.
func New(binary string, timeout time.Duration, opts ...Option) *Prober {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = "ffprobe"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	p := &Prober{binary: binary, timeout: timeout, run: execRunner}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Inspect runs ffprobe and decodes its output.
func (p *Prober) Inspect(ctx context.Context, path string) (Result, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Result{}, eris.New("probe: empty path")
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	output, err := p.run(ctx, p.binary, "-v", "error", "-hide_banner", "-show_format", "-show_streams", "-of", "json", "--", path)
	if err != nil {
		return Result{}, eris.Wrapf(err, "probe: ffprobe %s: %s", path, strings.TrimSpace(string(output)))
	}

	var result Result
	if err := json.Unmarshal(output, &result); err != nil {
		return Result{}, eris.Wrap(err, "probe: parse ffprobe output")
	}
	return result, nil
}

// Extract returns the metadata of path. Any failure is logged and yields
// empty metadata, with the format falling back to the file extension.
func (p *Prober) Extract(ctx context.Context, path string) model.Metadata {
	fallback := model.Metadata{Format: ExtensionFormat(path)}
	res, err := p.Inspect(ctx, path)
	if err != nil {
		zap.L().Warn("probe: metadata extraction failed, continuing without metadata",
			zap.String("path", path), zap.Error(err))
		return fallback
	}
	md := res.Metadata()
	if md.Format == "" {
		md.Format = fallback.Format
	}
	return md
}

// Metadata converts an ffprobe result into asset metadata.
func (r Result) Metadata() model.Metadata {
	var md model.Metadata
	md.Format = containerName(r.Format.FormatName)

	audio := r.firstAudio()
	duration := parseFloat(r.Format.Duration)
	if duration <= 0 && audio != nil {
		duration = parseFloat(audio.Duration)
	}
	if duration > 0 {
		md.DurationSeconds = &duration
	}

	if audio != nil {
		if sr := int(parseFloat(audio.SampleRate)); sr > 0 {
			md.SampleRate = &sr
		}
		if audio.Channels > 0 {
			ch := audio.Channels
			md.Channels = &ch
		}
	}

	rate := parseFloat(r.Format.BitRate)
	if rate <= 0 && audio != nil {
		rate = parseFloat(audio.BitRate)
	}
	if rate > 0 {
		kbps := int(math.Round(rate / 1000))
		md.BitrateKbps = &kbps
	}
	return md
}

func (r Result) firstAudio() *Stream {
	for i := range r.Streams {
		if strings.EqualFold(r.Streams[i].CodecType, "audio") {
			return &r.Streams[i]
		}
	}
	return nil
}

// containerName picks the first of ffprobe's comma separated demuxer names.
func containerName(formatName string) string {
	name, _, _ := strings.Cut(strings.TrimSpace(formatName), ",")
	return name
}

// ExtensionFormat returns the lower-case extension of path without the dot.
func ExtensionFormat(path string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
}

func parseFloat(value string) float64 {
	cleaned := strings.TrimSpace(value)
	if cleaned == "" || cleaned == "N/A" {
		return 0
	}
	parsed, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || math.IsNaN(parsed) {
		return 0
	}
	return parsed
}
