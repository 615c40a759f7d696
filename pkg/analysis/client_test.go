package analysis

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundguard-ai/soundguard/internal/apperr"
	"github.com/soundguard-ai/soundguard/internal/model"
	"github.com/soundguard-ai/soundguard/internal/resilience"
)

func memFile(name, content string) File {
	return File{
		Name: name,
		Open: func() (io.ReadCloser, error) { return io.NopCloser(strings.NewReader(content)), nil },
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestEnhance_SendsMultipartForm(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/enhance", r.URL.Path)
		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			return
		}

		assert.Equal(t, "CleanUNet", r.FormValue("model"))
		assert.Equal(t, "65", r.FormValue("noiseReductionStrength"))
		assert.Equal(t, "false", r.FormValue("preserveSpeech"))
		assert.Equal(t, "Quality", r.FormValue("processingMode"))

		f, hdr, err := r.FormFile("audio")
		if !assert.NoError(t, err) {
			return
		}
		defer f.Close()
		data, _ := io.ReadAll(f)
		assert.Equal(t, "clip.wav", hdr.Filename)
		assert.Equal(t, "RIFF....", string(data))

		writeJSON(w, http.StatusOK, map[string]any{
			"success":          true,
			"enhancedFilePath": "/srv/enhanced/clip_enhanced.wav",
			"enhancedUrl":      "/download/clip_enhanced.wav",
			"metrics": map[string]any{
				"noiseReduced":   "72%",
				"snrImprovement": "+12.4 dB",
				"speechClarity":  "94%",
				"processingTime": 3.2,
			},
		})
	}))
	defer srv.Close()

	client := NewClient(WithBaseURL(srv.URL))
	settings := model.EnhancementSettings{NoiseReductionStrength: 65, PreserveSpeech: false, ProcessingMode: "Quality"}
	got, err := client.Enhance(context.Background(), memFile("clip.wav", "RIFF...."), "CleanUNet", settings)

	require.NoError(t, err)
	assert.Equal(t, "CleanUNet", got.Model)
	assert.Equal(t, "/srv/enhanced/clip_enhanced.wav", got.EnhancedFilePath)
	assert.Equal(t, "/download/clip_enhanced.wav", got.EnhancedURL)
	assert.Equal(t, model.Text("+12.4 dB"), got.Metrics.SNRImprovement)
	assert.Equal(t, model.Text("3.2"), got.Metrics.ProcessingTime)
	assert.Equal(t, settings, got.Settings)
}

func TestExplain_OptionalEnhancedPart(t *testing.T) {
	t.Parallel()

	var sawEnhanced atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			return
		}
		_, _, err := r.FormFile("original")
		assert.NoError(t, err)
		if _, _, err := r.FormFile("enhanced"); err == nil {
			sawEnhanced.Store(true)
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"noiseDetections": []map[string]any{
				{"id": "n1", "label": "Hum", "type": "hum", "frequencyRange": "50-60 Hz", "timeRange": "0:00-0:12", "reduction": 88.5, "confidence": 0.93},
				{"id": "n2", "label": "Hiss", "type": "hiss", "frequencyRange": "4-8 kHz", "timeRange": "0:03-0:09"},
				{"id": "n3", "label": "Click", "type": "click", "frequencyRange": "broadband", "timeRange": "0:07"},
			},
			"spectrograms": map[string]any{"original": "data:image/png;base64,AAA"},
			"report":       map[string]any{"processingTime": 1.7, "detectionCount": 3},
		})
	}))
	defer srv.Close()

	client := NewClient(WithBaseURL(srv.URL))
	got, err := client.Explain(context.Background(), memFile("clip.wav", "a"), nil)
	require.NoError(t, err)
	assert.False(t, sawEnhanced.Load())
	require.Len(t, got.NoiseDetections, 3)
	assert.Nil(t, got.NoiseDetections[1].Reduction)
	assert.Nil(t, got.Spectrograms.Enhanced)
	require.NotNil(t, got.Report)
	assert.Equal(t, 3, got.Report.DetectionCount)

	enhanced := memFile("clip_enhanced.wav", "b")
	_, err = client.Explain(context.Background(), memFile("clip.wav", "a"), &enhanced)
	require.NoError(t, err)
	assert.True(t, sawEnhanced.Load())
}

func TestScoreQuality_NormalizesMetricKeys(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/aqi", r.URL.Path)
		writeJSON(w, http.StatusOK, map[string]any{
			"success":  true,
			"aqiScore": 86.6,
			"aqiBand":  "Good",
			"metrics": map[string]any{
				"snr":       "35.2 dB",
				"frequency": map[string]any{"id": "frequency", "name": "Frequency Response", "value": "20 Hz - 18 kHz", "statusOk": true},
				"dynamic":   "42 dB",
			},
		})
	}))
	defer srv.Close()

	got, err := NewClient(WithBaseURL(srv.URL)).ScoreQuality(context.Background(), memFile("clip.wav", "x"))
	require.NoError(t, err)
	assert.Equal(t, model.Score(87), got.AQIScore)
	require.NotNil(t, got.Metrics.SNR)
	assert.Equal(t, "35.2 dB", got.Metrics.SNR.Value)
	require.NotNil(t, got.Metrics.FrequencyResponse)
	assert.Equal(t, "Frequency Response", got.Metrics.FrequencyResponse.Name)
	require.NotNil(t, got.Metrics.DynamicRange)
	assert.Equal(t, "42 dB", got.Metrics.DynamicRange.Value)
}

func TestDetectTampering_Success(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/forensics", r.URL.Path)
		writeJSON(w, http.StatusOK, map[string]any{
			"success":           true,
			"authenticityScore": 64,
			"tamperingDetected": true,
			"detections": []map[string]any{
				{"id": "d1", "type": "splice", "title": "Splice point", "location": 12.4, "confidence": 0.91, "severity": "high", "description": "Phase discontinuity", "method": "ENF"},
			},
			"summary":  map[string]any{"conclusion": "Likely edited", "detectionCount": 1, "tamperedDuration": "0.8s", "processingTime": 2.1},
			"timeline": []map[string]any{{"start": 0, "end": 12.4, "status": "authentic"}},
		})
	}))
	defer srv.Close()

	got, err := NewClient(WithBaseURL(srv.URL)).DetectTampering(context.Background(), memFile("clip.wav", "x"))
	require.NoError(t, err)
	assert.Equal(t, model.Score(64), got.AuthenticityScore)
	assert.True(t, got.TamperingDetected)
	require.Len(t, got.Detections, 1)
	assert.Equal(t, "splice", got.Detections[0].Type)
	assert.Equal(t, model.Text("2.1"), got.Summary.ProcessingTime)
	assert.Len(t, got.Timeline, 1)
}

func TestPost_UpstreamError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"success": false, "message": "unsupported sample rate"})
	}))
	defer srv.Close()

	_, err := NewClient(WithBaseURL(srv.URL)).ScoreQuality(context.Background(), memFile("clip.wav", "x"))
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindUpstream))
	assert.False(t, apperr.Retryable(err))
	assert.Contains(t, err.Error(), "422")
	assert.Contains(t, err.Error(), "unsupported sample rate")

	var ae *apperr.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, http.StatusUnprocessableEntity, ae.Status)
	assert.Equal(t, OpQuality, ae.Op)
}

func TestPost_PlainTextErrorBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("Traceback: model crashed"))
	}))
	defer srv.Close()

	_, err := NewClient(WithBaseURL(srv.URL)).DetectTampering(context.Background(), memFile("clip.wav", "x"))
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindUpstream))
	assert.Contains(t, err.Error(), "model crashed")
}

func TestPost_SuccessFalseEnvelope(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "message": "no speech found"})
	}))
	defer srv.Close()

	_, err := NewClient(WithBaseURL(srv.URL)).Explain(context.Background(), memFile("clip.wav", "x"), nil)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindUpstream))
	assert.Contains(t, err.Error(), "no speech found")
}

func TestPost_MalformedJSON(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("{not json"))
	}))
	defer srv.Close()

	_, err := NewClient(WithBaseURL(srv.URL)).ScoreQuality(context.Background(), memFile("clip.wav", "x"))
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindUpstream))
	assert.Contains(t, err.Error(), "malformed response")
}

func TestPost_Timeout(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	client := NewClient(WithBaseURL(srv.URL), WithTimeouts(Timeouts{Forensics: 50 * time.Millisecond}))
	_, err := client.DetectTampering(context.Background(), memFile("clip.wav", "x"))

	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindTimeout))
	assert.True(t, apperr.Retryable(err))
	assert.Contains(t, err.Error(), "forensics timed out")
}

func closedAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return "http://" + addr
}

func TestPost_ConnectionRefused(t *testing.T) {
	t.Parallel()

	base := closedAddr(t)
	_, err := NewClient(WithBaseURL(base)).ScoreQuality(context.Background(), memFile("clip.wav", "x"))

	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindServiceUnavailable))
	assert.Contains(t, err.Error(), base+"/aqi")
}

func TestPost_OpenFileFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "aqiScore": 50})
	}))
	defer srv.Close()

	broken := File{Name: "gone.wav", Open: func() (io.ReadCloser, error) { return nil, io.ErrUnexpectedEOF }}
	_, err := NewClient(WithBaseURL(srv.URL)).ScoreQuality(context.Background(), broken)
	require.Error(t, err)
}

func TestBreaker_RejectsAfterRepeatedOutages(t *testing.T) {
	t.Parallel()

	base := closedAddr(t)
	b := NewBreaker(2, time.Minute, nil)
	client := NewClient(WithBaseURL(base), WithBreaker(b))

	for range 2 {
		_, err := client.ScoreQuality(context.Background(), memFile("clip.wav", "x"))
		require.True(t, apperr.Is(err, apperr.KindServiceUnavailable))
	}
	assert.Equal(t, resilience.Open, b.State())

	_, err := client.ScoreQuality(context.Background(), memFile("clip.wav", "x"))
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindServiceUnavailable))
	assert.ErrorIs(t, err, resilience.ErrOpen)
}

func TestBreaker_IgnoresUpstreamErrors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	b := NewBreaker(1, time.Minute, nil)
	client := NewClient(WithBaseURL(srv.URL), WithBreaker(b))
	for range 3 {
		_, _ = client.ScoreQuality(context.Background(), memFile("clip.wav", "x"))
	}
	assert.Equal(t, resilience.Closed, b.State())
}

func TestDownload_ResolvesRelativeRef(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/download/clip_enhanced.wav" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"success":false,"message":"file not found"}`))
			return
		}
		_, _ = w.Write([]byte("enhanced-bytes"))
	}))
	defer srv.Close()

	client := NewClient(WithBaseURL(srv.URL))
	rc, err := client.Download(context.Background(), "/download/clip_enhanced.wav")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "enhanced-bytes", string(data))

	_, err = client.Download(context.Background(), "download/missing.wav")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindUpstream))
	assert.Contains(t, err.Error(), "file not found")

	_, err = client.Download(context.Background(), "ftp://elsewhere/x.wav")
	require.Error(t, err)
}

func TestHealth(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	}))
	defer srv.Close()

	client := NewClient(WithBaseURL(srv.URL + "/"))
	assert.Equal(t, srv.URL, client.BaseURL())
	assert.NoError(t, client.Health(context.Background()))

	err := NewClient(WithBaseURL(closedAddr(t))).Health(context.Background())
	assert.True(t, apperr.Is(err, apperr.KindServiceUnavailable))
}

func TestWithRateLimit(t *testing.T) {
	t.Parallel()

	c := NewClient(WithRateLimit(5)).(*httpClient)
	require.NotNil(t, c.limiter)
	assert.InDelta(t, 5.0, float64(c.limiter.Limit()), 0.001)

	c = NewClient(WithRateLimit(0)).(*httpClient)
	assert.Nil(t, c.limiter)
}
