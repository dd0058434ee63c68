package ocr

import (
	"strings"

	"github.com/nikhilbhutani/noteuploader/internal/config"
)

// FromConfig builds the configured engine and its recognition settings.
// Engines outside this package must be linked in by a blank import.
func FromConfig(cfg config.OCRConfig) (Engine, Config, error) {
	rc := Config{
		Level:              Level(cfg.Level),
		Languages:          splitLanguages(cfg.Language),
		LanguageCorrection: cfg.LanguageCorrection,
	}
	if rc.Level != LevelFast {
		rc.Level = LevelAccurate
	}

	engine, err := New(cfg.Engine, Options{
		BinaryPath: cfg.TesseractPath,
		APIKey:     cfg.APIKey,
		BaseURL:    cfg.BaseURL,
		Model:      cfg.Model,
	})
	if err != nil {
		return nil, Config{}, err
	}
	return engine, rc, nil
}

func splitLanguages(s string) []string {
	var out []string
	for _, l := range strings.FieldsFunc(s, func(r rune) bool { return r == '+' || r == ',' }) {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	if len(out) == 0 {
		out = []string{"eng"}
	}
	return out
}
