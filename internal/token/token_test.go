package token

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimate(t *testing.T) {
	tests := []struct {
		name string
		text string
		want int
	}{
		{name: "empty", text: "", want: 0},
		{name: "single char", text: "a", want: 1},
		{name: "seven chars", text: "abcdefg", want: 2},
		{name: "exact multiple", text: strings.Repeat("a", 35), want: 10},
		{name: "rounds up", text: strings.Repeat("a", 36), want: 11},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Estimate(tt.text))
		})
	}
}

func TestEstimateIsDeterministic(t *testing.T) {
	text := strings.Repeat("the quick brown fox ", 50)
	assert.Equal(t, Estimate(text), Estimate(text))
}
