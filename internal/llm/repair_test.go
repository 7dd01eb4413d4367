package llm

import (
	"context"
	"strings"
	"testing"
)

func TestRunWithRepairSucceedsAfterRepair(t *testing.T) {
	var prompts []string
	gen := func(ctx context.Context, prompt string) (int, string, error) {
		prompts = append(prompts, prompt)
		return len(prompts), "raw", nil
	}
	validate := func(v int) []string {
		if v < 2 {
			return []string{"value too small"}
		}
		return nil
	}

	got, _, attempts, err := RunWithRepair(context.Background(), 3, "base", gen, validate, nil)
	if err != nil {
		t.Fatalf("RunWithRepair failed: %v", err)
	}
	if got != 2 || attempts != 2 {
		t.Errorf("got=%d attempts=%d", got, attempts)
	}
	if !strings.HasPrefix(prompts[1], "base\n\n") {
		t.Errorf("second prompt should extend the base, got %q", prompts[1])
	}
	if !strings.Contains(prompts[1], "1. value too small") {
		t.Errorf("repair instruction should number the violations, got %q", prompts[1])
	}
	// The repair block always restarts from the base prompt, never stacks.
	if strings.Count(prompts[1], "base") != 1 {
		t.Errorf("repair prompt should contain the base once: %q", prompts[1])
	}
}

func TestRunWithRepairExhaustsAttempts(t *testing.T) {
	gen := func(ctx context.Context, prompt string) (int, string, error) {
		return 0, "raw", nil
	}
	validate := func(int) []string { return []string{"always wrong"} }

	_, _, attempts, err := RunWithRepair(context.Background(), 3, "base", gen, validate, nil)
	if err == nil {
		t.Fatal("expected failure after exhausting attempts")
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
	if !strings.Contains(err.Error(), "always wrong") {
		t.Errorf("error should carry the last validation failures: %v", err)
	}
}

func TestNumberedRepairInstruction(t *testing.T) {
	out := NumberedRepairInstruction([]string{"first", "second"})
	if !strings.Contains(out, "1. first") || !strings.Contains(out, "2. second") {
		t.Errorf("unexpected format: %q", out)
	}
}
