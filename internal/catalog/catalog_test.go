package catalog

import (
	"fmt"
	"strings"
	"testing"

	"pgregory.net/rapid"
)

func TestDefaultCatalog(t *testing.T) {
	c := Default()
	if c.Sequence().Len() != 30 {
		t.Fatalf("expected 30 tasks, got %d", c.Sequence().Len())
	}
	for i := 1; i < len(c.Achievements); i++ {
		if c.Achievements[i-1].Threshold >= c.Achievements[i].Threshold {
			t.Fatalf("achievements not sorted: %v", c.Achievements)
		}
	}
}

func TestParseRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"no tasks":           "tasks: []\n",
		"empty task":         "tasks: [\"a\", \"  \"]\n",
		"zero threshold":     "tasks: [\"a\"]\nachievements: [{threshold: 0, reward: x}]\n",
		"duplicate":          "tasks: [\"a\"]\nachievements: [{threshold: 2, reward: x}, {threshold: 2, reward: y}]\n",
		"missing reward":     "tasks: [\"a\"]\nachievements: [{threshold: 2}]\n",
		"not yaml structure": "tasks: {a: b}\n",
	}
	for name, data := range cases {
		if _, err := Parse([]byte(data)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestPropertyParseSortsThresholds(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		thresholds := rapid.SliceOfNDistinct(rapid.IntRange(1, 100), 1, 10, rapid.ID[int]).Draw(rt, "thresholds")

		var sb strings.Builder
		sb.WriteString("tasks:\n  - \"one\"\nachievements:\n")
		for _, th := range thresholds {
			fmt.Fprintf(&sb, "  - threshold: %d\n    reward: \"r%d\"\n", th, th)
		}

		c, err := Parse([]byte(sb.String()))
		if err != nil {
			rt.Fatalf("parse: %v", err)
		}
		if len(c.Achievements) != len(thresholds) {
			rt.Fatalf("expected %d rules, got %d", len(thresholds), len(c.Achievements))
		}
		for i := 1; i < len(c.Achievements); i++ {
			if c.Achievements[i-1].Threshold >= c.Achievements[i].Threshold {
				rt.Fatalf("not sorted: %v", c.Achievements)
			}
		}
		for _, a := range c.Achievements {
			if a.Reward != fmt.Sprintf("r%d", a.Threshold) {
				rt.Fatalf("reward mismatch for %d: %q", a.Threshold, a.Reward)
			}
		}
	})
}
