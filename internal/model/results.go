package model

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
)

// Results holds the full payload of the most recent successful run of each
// module, keyed by module.
type Results struct {
	Enhancement    *EnhancementResult    `json:"enhancement"`
	Explainability *ExplainabilityResult `json:"explainability"`
	AQI            *QualityResult        `json:"aqi"`
	Forensics      *ForensicsResult      `json:"forensics"`
}

// Text is a display value the provider sends either as a string or a number.
type Text string

// UnmarshalJSON accepts strings, numbers and null.
func (t *Text) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*t = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*t = Text(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*t = Text(n.String())
	return nil
}

// Score is a headline score. Fractional values from the provider are rounded.
type Score int

const scoreLimit = 1e6

// UnmarshalJSON accepts integers and floats. Values far outside [0, 100]
// saturate before conversion so ClampScore sees their sign.
func (s *Score) UnmarshalJSON(b []byte) error {
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	f = math.Max(math.Min(f, scoreLimit), -scoreLimit)
	*s = Score(math.Round(f))
	return nil
}

// EnhancementSettings are the knobs passed to the enhance operation.
type EnhancementSettings struct {
	NoiseReductionStrength int    `json:"noiseReductionStrength"`
	PreserveSpeech         bool   `json:"preserveSpeech"`
	ProcessingMode         string `json:"processingMode"`
}

// EnhancementMetrics are the improvement figures reported by the provider.
type EnhancementMetrics struct {
	NoiseReduced   Text `json:"noiseReduced"`
	SNRImprovement Text `json:"snrImprovement"`
	SpeechClarity  Text `json:"speechClarity"`
	ProcessingTime Text `json:"processingTime"`
}

// EnhancementResult is the enhancement module's payload.
type EnhancementResult struct {
	Model            string              `json:"model"`
	EnhancedFilePath string              `json:"enhancedFilePath"`
	EnhancedURL      string              `json:"enhancedUrl,omitempty"`
	Metrics          EnhancementMetrics  `json:"metrics"`
	Settings         EnhancementSettings `json:"settings"`
}

// NoiseDetection is one noise component found by the explainability module.
type NoiseDetection struct {
	ID             string   `json:"id"`
	Label          string   `json:"label"`
	Type           string   `json:"type"`
	FrequencyRange string   `json:"frequencyRange"`
	TimeRange      string   `json:"timeRange"`
	Reduction      *float64 `json:"reduction"`
	Confidence     *float64 `json:"confidence"`
	Status         string   `json:"status,omitempty"`
	Icon           string   `json:"icon,omitempty"`
}

// Spectrograms holds PNG data URIs for the original and, when supplied, the
// enhanced audio.
type Spectrograms struct {
	Original string  `json:"original"`
	Enhanced *string `json:"enhanced"`
}

// ExplainabilityReport summarises an explainability run. DetectionCount
// covers only detections with a reduction figure.
type ExplainabilityReport struct {
	ProcessingTime float64 `json:"processingTime"`
	DetectionCount int     `json:"detectionCount"`
}

// ExplainabilityResult is the explainability module's payload.
type ExplainabilityResult struct {
	NoiseDetections []NoiseDetection      `json:"noiseDetections"`
	Spectrograms    Spectrograms          `json:"spectrograms"`
	Report          *ExplainabilityReport `json:"report"`
}

// QualityMetric is one measured quality dimension. The provider may send a
// bare display string or the full object.
type QualityMetric struct {
	ID       string   `json:"id,omitempty"`
	Name     string   `json:"name,omitempty"`
	Value    string   `json:"value"`
	RawValue *float64 `json:"rawValue,omitempty"`
	Status   string   `json:"status,omitempty"`
	StatusOK *bool    `json:"statusOk,omitempty"`
}

// UnmarshalJSON accepts a string, a number or an object.
func (m *QualityMetric) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	switch b[0] {
	case '"':
		return json.Unmarshal(b, &m.Value)
	case '{':
		type plain QualityMetric
		var p plain
		if err := json.Unmarshal(b, &p); err != nil {
			return err
		}
		*m = QualityMetric(p)
		return nil
	default:
		f, err := strconv.ParseFloat(string(b), 64)
		if err != nil {
			return err
		}
		m.Value = string(b)
		m.RawValue = &f
		return nil
	}
}

// QualityMetrics holds the six quality dimensions.
type QualityMetrics struct {
	SNR               *QualityMetric `json:"snr,omitempty"`
	Clarity           *QualityMetric `json:"clarity,omitempty"`
	Distortion        *QualityMetric `json:"distortion,omitempty"`
	FrequencyResponse *QualityMetric `json:"frequencyResponse,omitempty"`
	DynamicRange      *QualityMetric `json:"dynamicRange,omitempty"`
	NoiseFloor        *QualityMetric `json:"noiseFloor,omitempty"`
}

// UnmarshalJSON also accepts the provider's short keys "frequency" and "dynamic".
func (q *QualityMetrics) UnmarshalJSON(b []byte) error {
	var raw struct {
		SNR               *QualityMetric `json:"snr"`
		Clarity           *QualityMetric `json:"clarity"`
		Distortion        *QualityMetric `json:"distortion"`
		FrequencyResponse *QualityMetric `json:"frequencyResponse"`
		Frequency         *QualityMetric `json:"frequency"`
		DynamicRange      *QualityMetric `json:"dynamicRange"`
		Dynamic           *QualityMetric `json:"dynamic"`
		NoiseFloor        *QualityMetric `json:"noiseFloor"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	q.SNR = raw.SNR
	q.Clarity = raw.Clarity
	q.Distortion = raw.Distortion
	q.FrequencyResponse = firstMetric(raw.FrequencyResponse, raw.Frequency)
	q.DynamicRange = firstMetric(raw.DynamicRange, raw.Dynamic)
	q.NoiseFloor = raw.NoiseFloor
	return nil
}

func firstMetric(a, b *QualityMetric) *QualityMetric {
	if a != nil {
		return a
	}
	return b
}

// QualityResult is the quality scoring module's payload.
type QualityResult struct {
	AQIScore Score          `json:"aqiScore"`
	AQIBand  string         `json:"aqiBand"`
	Metrics  QualityMetrics `json:"metrics"`
}

// ForensicDetection is one suspected edit.
type ForensicDetection struct {
	ID          string  `json:"id"`
	Type        string  `json:"type"`
	Title       string  `json:"title"`
	Location    float64 `json:"location"`
	Confidence  float64 `json:"confidence"`
	Severity    string  `json:"severity"`
	Description string  `json:"description"`
	Method      string  `json:"method"`
}

// ForensicSummary is the human-readable conclusion of a forensics run.
type ForensicSummary struct {
	Conclusion       string `json:"conclusion"`
	DetectionCount   int    `json:"detectionCount"`
	TamperedDuration Text   `json:"tamperedDuration"`
	Recommendation   string `json:"recommendation"`
	AnalysisMethod   string `json:"analysisMethod"`
	ProcessingTime   Text   `json:"processingTime"`
	Dataset          string `json:"dataset,omitempty"`
}

// TimelineSegment marks a span of the audio as authentic or tampered.
type TimelineSegment struct {
	Start  float64 `json:"start"`
	End    float64 `json:"end"`
	Status string  `json:"status"`
}

// ForensicsResult is the tampering detection module's payload.
type ForensicsResult struct {
	AuthenticityScore Score               `json:"authenticityScore"`
	TamperingDetected bool                `json:"tamperingDetected"`
	Band              string              `json:"band"`
	Detections        []ForensicDetection `json:"detections"`
	Summary           ForensicSummary     `json:"summary"`
	Timeline          []TimelineSegment   `json:"timeline,omitempty"`
}

// ReducedCount counts the detections that carry a reduction figure. Entries
// without one, such as preserved speech, are informational.
func (r *ExplainabilityResult) ReducedCount() int {
	n := 0
	for _, d := range r.NoiseDetections {
		if d.Reduction != nil {
			n++
		}
	}
	return n
}
