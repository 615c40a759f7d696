package model

import (
	"strings"

	"github.com/soundguard-ai/soundguard/internal/apperr"
)

// DefaultEnhancementModel is the provider model used when none is requested.
const DefaultEnhancementModel = "CleanUNet"

// Processing modes understood by the provider.
var ProcessingModes = []string{"Fast", "Balanced", "Quality"}

// EnhanceOptions is a caller's enhancement request. Nil and empty fields take
// the provider defaults.
type EnhanceOptions struct {
	Model                  string `json:"model"`
	NoiseReductionStrength *int   `json:"noiseReductionStrength"`
	PreserveSpeech         *bool  `json:"preserveSpeech"`
	ProcessingMode         string `json:"processingMode"`
}

// Resolve fills in defaults, clamps the strength to [0, 100] and rejects
// unknown processing modes. Mode matching is case-insensitive.
func (o EnhanceOptions) Resolve() (string, EnhancementSettings, error) {
	name := strings.TrimSpace(o.Model)
	if name == "" {
		name = DefaultEnhancementModel
	}

	s := EnhancementSettings{
		NoiseReductionStrength: 80,
		PreserveSpeech:         true,
		ProcessingMode:         "Balanced",
	}
	if o.NoiseReductionStrength != nil {
		s.NoiseReductionStrength = min(max(*o.NoiseReductionStrength, 0), 100)
	}
	if o.PreserveSpeech != nil {
		s.PreserveSpeech = *o.PreserveSpeech
	}
	if mode := strings.TrimSpace(o.ProcessingMode); mode != "" {
		matched := ""
		for _, m := range ProcessingModes {
			if strings.EqualFold(m, mode) {
				matched = m
				break
			}
		}
		if matched == "" {
			return "", EnhancementSettings{}, apperr.Validation("enhance", "unknown processing mode %q (want one of %s)", mode, strings.Join(ProcessingModes, ", "))
		}
		s.ProcessingMode = matched
	}
	return name, s, nil
}
