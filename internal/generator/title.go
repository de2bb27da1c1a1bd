package generator

import (
	"strings"
	"unicode/utf8"
)

const (
	titleWords     = 6
	titleMaxRunes  = 50
	untitled       = "Untitled PRD"
	enhancedSuffix = " (Enhanced)"
	refineDivider  = "\n\n--- Additional Requirements ---\n"
)

// DeriveTitle builds a record title from the first words of the
// requirements.
func DeriveTitle(requirements string) string {
	words := strings.Fields(requirements)
	if len(words) == 0 {
		return untitled
	}
	if len(words) > titleWords {
		words = words[:titleWords]
	}
	title := strings.Join(words, " ")
	if utf8.RuneCountInString(title) > titleMaxRunes {
		title = string([]rune(title)[:titleMaxRunes]) + "..."
	}
	return title
}

func refinedTitle(additional string) string {
	return DeriveTitle(additional) + enhancedSuffix
}

func refinedRequirements(existing, additional string) string {
	return existing + refineDivider + additional
}
