package secrets

import (
	"strings"
	"sync"
)

// MaskToken replaces secret values in anything that leaves a step's sandbox.
const MaskToken = "***"

// Masker rewrites secret plaintext to MaskToken. A masker is armed with
// every value that gets resolved for a job; values that were never resolved
// cannot have entered the sandbox and need no masking.
type Masker struct {
	mu     sync.Mutex
	values []string
}

// Add registers a value to be masked. Empty and trivially short values are
// ignored so masking cannot blank out ordinary output.
func (m *Masker) Add(value string) {
	if len(value) < 2 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.values {
		if v == value {
			return
		}
	}
	m.values = append(m.values, value)
}

// Mask returns s with every registered value replaced by MaskToken.
func (m *Masker) Mask(s string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.values {
		s = strings.ReplaceAll(s, v, MaskToken)
	}
	return s
}

// MaskLines masks a captured line slice in place and returns it.
func (m *Masker) MaskLines(lines []string) []string {
	for i, line := range lines {
		lines[i] = m.Mask(line)
	}
	return lines
}

// MaskMap masks every value of a produced-outputs map in place and
// returns it.
func (m *Masker) MaskMap(outs map[string]string) map[string]string {
	for k, v := range outs {
		outs[k] = m.Mask(v)
	}
	return outs
}

// Tracking wraps a scoped lookup so every resolved value arms the masker.
// This is the SecretSource handed to the expression evaluator.
func (m *Masker) Tracking(lookup func(key string) (string, bool)) func(key string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := lookup(key)
		if ok {
			m.Add(v)
		}
		return v, ok
	}
}
