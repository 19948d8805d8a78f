package budget

import (
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"
)

func Test_Budget_Estimate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"ab", 1},
		{"abcd", 1},
		{strings.Repeat("a", 400), 100},
	}
	for _, tc := range cases {
		if got := Estimate(tc.in); got != tc.want {
			t.Errorf("Estimate(%d chars) = %d, want %d", len(tc.in), got, tc.want)
		}
	}
}

func Test_Budget_EstimateMessages(t *testing.T) {
	t.Parallel()

	msgs := []*schema.Message{
		schema.SystemMessage(strings.Repeat("s", 40)),
		schema.UserMessage(strings.Repeat("u", 80)),
	}

	got := EstimateMessages(msgs)
	// Per message: 4 framing + role + content/4.
	want := 4 + Estimate("system") + 10 + 4 + Estimate("user") + 20
	if got != want {
		t.Errorf("EstimateMessages = %d, want %d", got, want)
	}

	if EstimateMessages(nil) != 0 {
		t.Error("no messages must estimate to zero")
	}
}
