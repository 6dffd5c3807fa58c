// Package classify decides whether a piece of text from hh.ru signals a
// rejection. Matching is a case-insensitive substring scan over configured
// phrase lists; the lists are data, not code, so localized or extended sets
// can be supplied through configuration.
package classify

import "strings"

// Phrase-set names understood by the classifier.
const (
	SetRejectionText  = "rejection_text"
	SetRejectionState = "rejection_state"
)

// DefaultPhraseSets returns the built-in phrase lists. The rejection_text
// list mirrors the wording employers actually use on hh.ru, including a
// common misspelling. The rejection_state keywords are a heuristic: the
// exact state identifiers are not published, so substrings of the
// human-readable state names are matched instead.
func DefaultPhraseSets() map[string][]string {
	return map[string][]string{
		SetRejectionText: {
			"к сожалению",
			"к сожелению", // frequent typo
			"мы не готовы вас принять",
			"вы нам не подходите",
			"вынуждены отказать",
			"отказ",
			"не сможем продолжить",
		},
		SetRejectionState: {
			"discard",
			"rejected",
			"decline",
			"отказ",
			"закрыто",
			"завершено",
		},
	}
}

// Classifier holds lowercase phrase sets keyed by name. The zero value
// matches nothing; use New for the defaults.
type Classifier struct {
	sets map[string][]string
}

// New builds a Classifier from the default phrase sets, with entries from
// overrides replacing the defaults set-by-set. Phrases are lowercased once
// at construction.
func New(overrides map[string][]string) *Classifier {
	sets := DefaultPhraseSets()
	for name, phrases := range overrides {
		if len(phrases) > 0 {
			sets[name] = phrases
		}
	}

	for name, phrases := range sets {
		lowered := make([]string, 0, len(phrases))
		for _, p := range phrases {
			p = strings.ToLower(strings.TrimSpace(p))
			if p != "" {
				lowered = append(lowered, p)
			}
		}
		sets[name] = lowered
	}

	return &Classifier{sets: sets}
}

// Message reports whether a chat message text reads as a rejection.
// Empty text is never a rejection.
func (c *Classifier) Message(text string) bool {
	return c.matches(SetRejectionText, text)
}

// State reports whether a negotiation target state looks terminal/negative.
// Empty state is never a rejection.
func (c *Classifier) State(state string) bool {
	return c.matches(SetRejectionState, state)
}

func (c *Classifier) matches(set, input string) bool {
	if c == nil || len(c.sets) == 0 {
		return false
	}
	input = strings.ToLower(input)
	if input == "" {
		return false
	}
	for _, phrase := range c.sets[set] {
		if strings.Contains(input, phrase) {
			return true
		}
	}
	return false
}
