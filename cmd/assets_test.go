package main

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/soundguard-ai/soundguard/internal/config"
	"github.com/soundguard-ai/soundguard/internal/model"
	"github.com/soundguard-ai/soundguard/internal/orchestrator"
)

func intPtr(v int) *int { return &v }

func TestFormatAssetsList(t *testing.T) {
	now := time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)
	dur := 75.4
	assets := []model.Asset{
		{
			ID:              "abc12345-6789-0000-0000-000000000000",
			Filename:        "interview.wav",
			Format:          "WAV",
			DurationSeconds: &dur,
			FileSize:        2048,
			CreatedAt:       now,
			Processing: model.ProcessingState{
				EnhancementComplete: true,
				AQIScore:            intPtr(87),
				AuthenticityScore:   intPtr(60),
			},
		},
		{
			ID:        "def12345-6789-0000-0000-000000000000",
			Filename:  "a very long recording name that will not fit.mp3",
			Format:    "MP3",
			CreatedAt: now.Add(-time.Hour),
		},
	}

	var buf bytes.Buffer
	formatAssetsList(&buf, assets)

	out := buf.String()
	assert.Contains(t, out, "FILENAME")
	assert.Contains(t, out, "AUTHENTICITY")
	assert.Contains(t, out, "interview.wav")
	assert.Contains(t, out, "1:15")
	assert.Contains(t, out, "2.0 kB")
	assert.Contains(t, out, "87 Good")
	assert.Contains(t, out, "60 MODIFIED")
	assert.Contains(t, out, "2025-06-15 10:30")
	assert.Contains(t, out, "a very long recording name th...")
	assert.Contains(t, out, "0:00")
}

func TestFormatAssetDetail(t *testing.T) {
	enhanced := "enhanced/abc_enhanced.wav"
	tampered := true
	a := &model.Asset{
		ID:           "abc",
		Filename:     "call.wav",
		SourcePath:   "uploads/abc.wav",
		Format:       "WAV",
		SampleRate:   intPtr(44100),
		Channels:     intPtr(2),
		EnhancedPath: &enhanced,
		Processing: model.ProcessingState{
			AuthenticityScore: intPtr(30),
			TamperingDetected: &tampered,
		},
	}

	var buf bytes.Buffer
	formatAssetDetail(&buf, a)

	out := buf.String()
	assert.Contains(t, out, "uploads/abc.wav")
	assert.Contains(t, out, "44100 Hz")
	assert.Contains(t, out, "Stereo")
	assert.Contains(t, out, enhanced)
	assert.Contains(t, out, "30 SEVERELY MODIFIED")
	assert.Regexp(t, `Tampering:\s+yes`, out)
	assert.Regexp(t, `AQI:\s+-`, out)
}

func TestFormatOutcomes(t *testing.T) {
	outcomes := []orchestrator.Outcome{
		{Module: model.ModuleEnhancement, Result: &model.EnhancementResult{Model: "CleanUNet", EnhancedFilePath: "enhanced/x.wav"}},
		{Module: model.ModuleExplainability, Err: errors.New("explain failed")},
		{Module: model.ModuleQuality, Result: &model.QualityResult{AQIScore: 87, AQIBand: "Good"}},
		{Module: model.ModuleForensics, Result: &model.ForensicsResult{AuthenticityScore: 92, Band: "AUTHENTIC"}},
	}

	var buf bytes.Buffer
	formatOutcomes(&buf, outcomes)

	out := buf.String()
	assert.Contains(t, out, "MODULE")
	assert.Contains(t, out, "model CleanUNet, enhanced/x.wav")
	assert.Regexp(t, `explainability\s+error\s+explain failed`, out)
	assert.Contains(t, out, "aqi 87 (Good)")
	assert.Contains(t, out, "authenticity 92 (AUTHENTIC), tampering no")
}

func TestFormatHealth(t *testing.T) {
	var buf bytes.Buffer
	ok := formatHealth(&buf, map[string]error{"store": nil, "analysis": errors.New("connection refused")})

	assert.False(t, ok)
	out := buf.String()
	assert.Regexp(t, `analysis\s+FAIL\s+connection refused`, out)
	assert.Regexp(t, `store\s+ok`, out)
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("analysis")), bytes.Index(buf.Bytes(), []byte("store")))

	buf.Reset()
	assert.True(t, formatHealth(&buf, map[string]error{"store": nil}))
}

func TestProgressPrinter(t *testing.T) {
	var buf bytes.Buffer
	p := &progressPrinter{out: &buf}

	p.Emit(model.NewProgressEvent("a1", model.ModuleQuality, model.StatusProcessing, ""))
	p.Emit(model.NewProgressEvent("a1", model.ModuleQuality, model.StatusError, "aqi timed out"))

	assert.Equal(t, "[a1] aqi: processing\n[a1] aqi: error (aqi timed out)\n", buf.String())
}

func TestWriteConfig_RedactsSecrets(t *testing.T) {
	c := &config.Config{
		Store: config.StoreConfig{Driver: "postgres", DatabaseURL: "postgres://sg:hunter2@db:5432/soundguard"},
		Storage: config.StorageConfig{
			Driver: "azure",
			Azure:  config.AzureConfig{Account: "acct", Key: "secret-key", Container: "audio"},
			SFTP:   config.RemoteDirConfig{Password: "pw"},
		},
	}

	var buf bytes.Buffer
	assert.NoError(t, writeConfig(&buf, c))

	out := buf.String()
	assert.NotContains(t, out, "hunter2")
	assert.NotContains(t, out, "secret-key")
	assert.Contains(t, out, "account: acct")
	assert.Contains(t, out, "sg:xxxxx@db:5432")
	assert.Contains(t, out, redacted)
	// The caller's config is untouched.
	assert.Equal(t, "secret-key", c.Storage.Azure.Key)
}
