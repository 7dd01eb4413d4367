package llm

import (
	"context"
	"fmt"
	"strings"
)

// RepairFunc turns the previous attempt's validation errors into a prompt
// fragment appended to the next attempt.
type RepairFunc func(errs []string) string

// NumberedRepairInstruction is the default repair formatter: the violated
// rules listed 1..n under a fixed header.
func NumberedRepairInstruction(errs []string) string {
	var b strings.Builder
	b.WriteString("Your previous response violated these rules. Fix every one of them:\n")
	for i, e := range errs {
		fmt.Fprintf(&b, "%d. %s\n", i+1, e)
	}
	return b.String()
}

// RunWithRepair drives a validate-repair-retry loop: generate from the base
// prompt, validate, and on failure append the repair instruction and try
// again, up to attempts total. The last attempt's errors are returned when
// every attempt fails.
func RunWithRepair[T any](
	ctx context.Context,
	attempts int,
	basePrompt string,
	generate func(ctx context.Context, prompt string) (T, string, error),
	validate func(v T) []string,
	repair RepairFunc,
) (T, string, int, error) {
	var (
		out     T
		raw     string
		lastErr []string
	)
	if repair == nil {
		repair = NumberedRepairInstruction
	}
	prompt := basePrompt
	for attempt := 1; attempt <= attempts; attempt++ {
		v, r, err := generate(ctx, prompt)
		if err != nil {
			return out, raw, attempt, err
		}
		raw = r
		errs := validate(v)
		if len(errs) == 0 {
			return v, raw, attempt, nil
		}
		lastErr = errs
		prompt = basePrompt + "\n\n" + repair(errs)
	}
	return out, raw, attempts, fmt.Errorf("validation failed after %d attempts: %s", attempts, strings.Join(lastErr, "; "))
}
