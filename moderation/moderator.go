package moderation

import (
	"chat-relay/contract"
	"chat-relay/errors"
	"log/slog"
	"strings"
	"unicode"

	goahocorasick "github.com/anknown/ahocorasick"
)

var _ contract.Censor = (*Moderator)(nil)

// Moderator masks forbidden words in chat messages.
// Matching ignores case, punctuation, spaces and common leet substitutions,
// while the masking keeps the original layout of the message.
type Moderator struct {
	log         *slog.Logger
	matcher     *goahocorasick.Machine
	replacement rune
}

// folded is a message reduced to its significant runes, with the position
// of each of them in the original message.
type folded struct {
	runes  []rune
	origin []int
}

func NewModerator(words []string, replacement rune, log *slog.Logger) (*Moderator, error) {
	var patterns [][]rune
	for _, word := range words {
		if pattern := fold(strings.TrimSpace(word)).runes; len(pattern) > 0 {
			patterns = append(patterns, pattern)
		}
	}
	if len(patterns) == 0 {
		return nil, errors.ErrEmptyWords
	}

	m := new(goahocorasick.Machine)
	if err := m.Build(patterns); err != nil {
		return nil, err
	}
	log.Debug("Moderation dictionary loaded", "words", len(patterns))
	return &Moderator{log: log, matcher: m, replacement: replacement}, nil
}

func (m *Moderator) Censor(original string) string {
	text := fold(original)
	if len(text.runes) == 0 {
		return original
	}
	spans := m.matcher.MultiPatternSearch(text.runes, false)
	if len(spans) == 0 {
		return original
	}

	out := []rune(original)
	for _, span := range spans {
		first, last := span.Pos, span.Pos+len(span.Word)-1
		if first < 0 || last >= len(text.origin) {
			continue
		}
		for i := text.origin[first]; i <= text.origin[last]; i++ {
			out[i] = m.replacement
		}
	}
	m.log.Debug("Message censored", "matches", len(spans))
	return string(out)
}

func fold(input string) folded {
	runes := []rune(input)
	f := folded{runes: make([]rune, 0, len(runes)), origin: make([]int, 0, len(runes))}
	for i, r := range runes {
		r = unleet(r)
		if isNoise(r) {
			continue
		}
		f.runes = append(f.runes, unicode.ToLower(r))
		f.origin = append(f.origin, i)
	}
	return f
}

// unleet maps common leet speak characters back to letters.
func unleet(r rune) rune {
	switch r {
	case '4', '@':
		return 'a'
	case '3', '€':
		return 'e'
	case '1', '!', '|':
		return 'i'
	case '0':
		return 'o'
	case '5', '$':
		return 's'
	default:
		return r
	}
}

func isNoise(r rune) bool {
	return unicode.IsPunct(r) || unicode.IsSpace(r) || unicode.IsSymbol(r)
}
