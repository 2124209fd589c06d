package plugin

import (
	"fmt"
	"time"
)

// TimeoutsConfig is the shared "timeouts" block of plugin configs. Values
// are Go durations:
//
//	"timeouts": { "command": "15s", "operation": "5s" }
//
// command bounds a whole chat command; operation bounds one platform or
// store call inside it. The manager reads command itself.
type TimeoutsConfig struct {
	Command   string `json:"command,omitempty"`
	Operation string `json:"operation,omitempty"`
}

func (t TimeoutsConfig) Validate(fieldPrefix string) error {
	for _, f := range []struct{ name, v string }{{"command", t.Command}, {"operation", t.Operation}} {
		if f.v == "" {
			continue
		}
		if d, err := time.ParseDuration(f.v); err != nil || d <= 0 {
			return fmt.Errorf("invalid %s.%s: %q", fieldPrefix, f.name, f.v)
		}
	}
	return nil
}

// OperationOr returns the operation timeout, or def when unset.
func (t TimeoutsConfig) OperationOr(def time.Duration) time.Duration {
	if d, err := time.ParseDuration(t.Operation); err == nil && d > 0 {
		return d
	}
	return def
}
