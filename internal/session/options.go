package session

import (
	"path/filepath"
	"regexp"
	"strings"
)

// LanguageAuto asks the engine to detect the spoken language.
const LanguageAuto = "auto"

// englishOnlyModel matches whisper-style ".en" model variants such as
// "small.en", "ggml-base.en.bin" and "base.en-q5_1".
var englishOnlyModel = regexp.MustCompile(`\.en($|[.\-_])`)

// IsEnglishOnlyModel reports whether model only recognizes English.
func IsEnglishOnlyModel(model string) bool {
	name := strings.ToLower(filepath.Base(strings.TrimSpace(model)))
	return englishOnlyModel.MatchString(name)
}

// ResolveTranscribeOptions applies model constraints to the requested options.
// English-only models force language "en" without translation; translation
// otherwise survives only with automatic language detection.
func ResolveTranscribeOptions(model, language string, translate bool) TranscribeOptions {
	lang := strings.ToLower(strings.TrimSpace(language))
	if lang == "" {
		lang = LanguageAuto
	}

	if IsEnglishOnlyModel(model) {
		return TranscribeOptions{Model: model, Language: "en", Translate: false}
	}
	if lang != LanguageAuto {
		translate = false
	}
	return TranscribeOptions{Model: model, Language: lang, Translate: translate}
}
