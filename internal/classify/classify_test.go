package classify

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMessageDetectsRejectionPhrases(t *testing.T) {
	c := New(nil)

	cases := []struct {
		name string
		text string
		want bool
	}{
		{"polite rejection", "К сожалению, мы не готовы сделать вам предложение", true},
		{"common typo", "к сожелению, вакансия уже закрыта", true},
		{"direct rejection", "Вынуждены отказать по итогам собеседования", true},
		{"neutral message", "Добрый день! Когда вам удобно созвониться?", false},
		{"empty text", "", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, c.Message(tc.text))
		})
	}
}

func TestStateDetectsTerminalStates(t *testing.T) {
	c := New(nil)

	require.True(t, c.State("discard"))
	require.True(t, c.State("DISCARDED_BY_EMPLOYER"))
	require.True(t, c.State("Отказ"))
	require.True(t, c.State("Закрыто"))
	require.False(t, c.State("interview"))
	require.False(t, c.State(""))
}

func TestOverridesReplaceSetWholesale(t *testing.T) {
	c := New(map[string][]string{
		SetRejectionText: {"no vacancies"},
	})

	require.True(t, c.Message("Sorry, NO VACANCIES right now"))
	require.False(t, c.Message("к сожалению"), "overridden set must not keep defaults")

	// Sets without an override keep their defaults.
	require.True(t, c.State("rejected"))
}

func TestZeroValueMatchesNothing(t *testing.T) {
	var c Classifier
	require.False(t, c.Message("отказ"))
	require.False(t, c.State("discard"))
}
