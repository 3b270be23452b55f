// Package textx provides the text analytics used by the task processor.
package textx

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/pemistahl/lingua-go"
)

// ErrLangDetect reports that the language of a text could not be determined.
var ErrLangDetect = errors.New("lang detect error")

// notAllowedRe matches every character outside the retained class: word
// characters (Unicode letters, digits, underscore), whitespace, hyphen, and
// the punctuation -:(),.!?“”'
var notAllowedRe = regexp.MustCompile(`[^-\p{L}\p{N}_\s:(),.!?“”']`)

var (
	detectorOnce sync.Once
	detector     lingua.LanguageDetector
)

// languageDetector builds the shared detector once. lingua's classification
// is deterministic, so identical input always yields identical output.
func languageDetector() lingua.LanguageDetector {
	detectorOnce.Do(func() {
		detector = lingua.NewLanguageDetectorBuilder().
			FromAllLanguages().
			Build()
	})
	return detector
}

// CountWords returns the number of whitespace-separated tokens in text.
func CountWords(text string) int {
	return len(strings.Fields(text))
}

// DetectLanguage classifies text and returns a two-letter lowercase ISO 639-1
// code. Any detector failure, and any result that is not exactly two
// alphabetic characters, yields ErrLangDetect.
func DetectLanguage(text string) (string, error) {
	lang, ok := languageDetector().DetectLanguageOf(text)
	if !ok {
		return "", fmt.Errorf("%w: no language identified", ErrLangDetect)
	}
	code := strings.ToLower(lang.IsoCode639_1().String())
	if len(code) != 2 || !isAlpha(code) {
		return "", fmt.Errorf("%w: detect result %q", ErrLangDetect, code)
	}
	return code, nil
}

// CleanText strips every character outside the retained class. The result is
// stable under repeated application.
func CleanText(text string) string {
	return notAllowedRe.ReplaceAllString(text, "")
}

func isAlpha(s string) bool {
	for _, r := range s {
		if r < 'a' || r > 'z' {
			return false
		}
	}
	return true
}
