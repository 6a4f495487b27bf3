package detector

import (
	"strings"

	"github.com/pemistahl/lingua-go"
)

// maxSample bounds how much text is handed to the language model; the first
// few kilobytes of a regulation page are plenty.
const maxSample = 4000

// Detector guesses the language of regulation text. The candidate set is
// limited to languages that plausibly appear in course regulations.
type Detector struct {
	detector lingua.LanguageDetector
}

// Language is a detection result. Code is ISO-639-1 in lower case, empty when
// the text gave no usable signal.
type Language struct {
	Code       string
	Confidence float64
}

func New() *Detector {
	return &Detector{
		detector: lingua.NewLanguageDetectorBuilder().
			FromLanguages(lingua.English, lingua.French, lingua.German, lingua.Italian, lingua.Spanish, lingua.Latin, lingua.Greek).
			Build(),
	}
}

// Detect returns the most likely language of text.
func (d *Detector) Detect(text string) Language {
	text = strings.TrimSpace(text)
	if runes := []rune(text); len(runes) > maxSample {
		text = string(runes[:maxSample])
	}
	if text == "" {
		return Language{}
	}

	lang, ok := d.detector.DetectLanguageOf(text)
	if !ok {
		return Language{}
	}
	return Language{
		Code:       strings.ToLower(lang.IsoCode639_1().String()),
		Confidence: d.detector.ComputeLanguageConfidence(text, lang),
	}
}
