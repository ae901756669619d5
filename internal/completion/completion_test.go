package completion

import (
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConsume_AccumulatesInOrder(t *testing.T) {
	client := &Client{logger: slog.Default()}

	fragments := make(chan string, 8)
	for _, f := range []string{"The ", "answer ", "is ", "42."} {
		fragments <- f
	}
	close(fragments)

	var seen []string
	response := client.consume(fragments, func(f string) { seen = append(seen, f) })

	assert.Equal(t, "The answer is 42.", response)
	assert.Equal(t, []string{"The ", "answer ", "is ", "42."}, seen)
}

func TestConsume_NilCallbackAndEmptyStream(t *testing.T) {
	client := &Client{logger: slog.Default()}

	fragments := make(chan string)
	close(fragments)

	assert.Equal(t, "", client.consume(fragments, nil))
}

func TestLogUsage_CountsPromptAndCompletion(t *testing.T) {
	counted := []string{}
	counter := func(text string) int {
		counted = append(counted, text)
		return len(strings.Fields(text))
	}
	client := &Client{counter: counter, logger: slog.Default()}

	client.logUsage([]Message{
		{Role: RoleUser, Content: "one two"},
		{Role: RoleAssistant, Content: "three"},
	}, "four five six")

	// One count for the joined prompt, one for the response.
	assert.Len(t, counted, 2)
	assert.Contains(t, counted[0], "one two")
	assert.Contains(t, counted[0], "three")
	assert.Equal(t, "four five six", counted[1])
}

func TestLogUsage_NoCounterIsNoop(t *testing.T) {
	client := &Client{logger: slog.Default()}
	client.logUsage([]Message{{Role: RoleUser, Content: "x"}}, "y")
}

func TestToOpenAI_RoleMapping(t *testing.T) {
	converted := toOpenAI([]Message{
		{Role: RoleSystem, Content: "s"},
		{Role: RoleUser, Content: "u"},
		{Role: RoleAssistant, Content: "a"},
		{Role: "unknown", Content: "fallback"},
	})
	assert.Len(t, converted, 4)
}
