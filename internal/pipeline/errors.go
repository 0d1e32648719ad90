package pipeline

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound marks a lookup that completed but found nothing. It is a
	// terminal, non-error outcome: the key is done with empty metadata.
	ErrNotFound = errors.New("not found")
	// ErrRateLimited marks a cooperative stop requested by the remote
	// source. The run pauses and resumes after the persisted cooldown.
	ErrRateLimited = errors.New("rate limited")
	// ErrTransient marks network or parse failures worth a bounded retry.
	ErrTransient = errors.New("transient failure")
	// ErrStorage marks a progress-store or accumulator write failure.
	// Fatal: losing progress silently is worse than stopping.
	ErrStorage = errors.New("storage failure")
	// ErrSchema marks a base table missing required columns. Fatal before
	// any mutation.
	ErrSchema = errors.New("schema mismatch")
	// ErrConfiguration marks unusable configuration.
	ErrConfiguration = errors.New("configuration error")
)

// Wrap builds an error message that includes stage context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage, operation string, err error) error {
	detail := buildDetail(stage, operation)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Fatal reports whether an error must abort the whole run rather than be
// recorded against a single key.
func Fatal(err error) bool {
	return errors.Is(err, ErrStorage) || errors.Is(err, ErrSchema) || errors.Is(err, ErrConfiguration)
}

func buildDetail(stage, operation string) string {
	parts := make([]string, 0, 2)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if len(parts) == 0 {
		return "pipeline failure"
	}
	return strings.Join(parts, ": ")
}
