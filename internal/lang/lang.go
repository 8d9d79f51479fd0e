// Package lang holds the fixed table of languages the assistant answers in.
package lang

import (
	"sort"
	"strings"

	"golang.org/x/text/language"
)

// Pivot is the language queries are translated into before retrieval.
const Pivot = "en"

// Auto asks the orchestrator to detect the language of the message.
const Auto = "auto"

var supported = map[string]string{
	"en": "English",
	"es": "Spanish",
	"fr": "French",
	"de": "German",
	"it": "Italian",
	"pt": "Portuguese",
	"zh": "Chinese",
	"ja": "Japanese",
	"ko": "Korean",
	"ar": "Arabic",
	"hi": "Hindi",
	"ru": "Russian",
}

type Language struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

func IsSupported(code string) bool {
	_, ok := supported[code]
	return ok
}

// Name returns the display name of code, or "Unknown".
func Name(code string) string {
	if name, ok := supported[code]; ok {
		return name
	}
	return "Unknown"
}

// Supported lists the table sorted by code.
func Supported() []Language {
	out := make([]Language, 0, len(supported))
	for code, name := range supported {
		out = append(out, Language{Code: code, Name: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// Normalize reduces a BCP 47 tag such as "es-MX" or "zh-Hant" to its base
// language code. It reports false when the tag cannot be parsed.
func Normalize(tag string) (string, bool) {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return "", false
	}
	t, err := language.Parse(tag)
	if err != nil {
		return "", false
	}
	base, conf := t.Base()
	if conf == language.No {
		return "", false
	}
	return base.String(), true
}
