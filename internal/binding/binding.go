// Package binding describes which lock a unit of work needs and resolves
// the lock's resource name from the values of one invocation.
package binding

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/kneutral-org/resource-lock/internal/lock"
)

// Binding is the static lock configuration attached to a unit of work.
type Binding struct {
	// NameTemplate is the resource name with {placeholder} tokens, e.g. "invoice_{id}".
	NameTemplate string
	// TTL is the lease duration. Zero selects the lock manager's default.
	TTL time.Duration
	// Blocking waits for the resource instead of rejecting the invocation.
	Blocking bool
	// WaitTimeout bounds a blocking wait. Zero waits until the invocation is canceled.
	WaitTimeout time.Duration
	// RefreshInterval enables automatic refresh while the work runs.
	// It must be at most half the effective TTL; an invocation whose lease
	// could not be kept alive is rejected.
	RefreshInterval time.Duration
}

// Vars maps placeholder names to the runtime values of one invocation.
type Vars map[string]any

var placeholder = regexp.MustCompile(`\{([^{}]+)\}`)

// Resolve substitutes every {key} in the template with the scalar value of
// vars[key]. Placeholders without a scalar value are left as literal text,
// so invocations that lack a key all resolve to the same name and contend
// on the same resource. Substituted values are not scanned again.
func Resolve(b Binding, vars Vars) string {
	return placeholder.ReplaceAllStringFunc(b.NameTemplate, func(token string) string {
		if s, ok := scalar(vars[token[1:len(token)-1]]); ok {
			return s
		}
		return token
	})
}

// Unresolved returns the placeholder names Resolve would leave literal.
func Unresolved(b Binding, vars Vars) []string {
	var missing []string
	for _, m := range placeholder.FindAllStringSubmatch(b.NameTemplate, -1) {
		if _, ok := scalar(vars[m[1]]); !ok {
			missing = append(missing, m[1])
		}
	}
	return missing
}

// Placeholders returns the placeholder names used by the template.
func (b Binding) Placeholders() []string {
	var names []string
	for _, m := range placeholder.FindAllStringSubmatch(b.NameTemplate, -1) {
		names = append(names, m[1])
	}
	return names
}

func scalar(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case bool:
		return strconv.FormatBool(x), true
	case int:
		return strconv.Itoa(x), true
	case int8:
		return strconv.FormatInt(int64(x), 10), true
	case int16:
		return strconv.FormatInt(int64(x), 10), true
	case int32:
		return strconv.FormatInt(int64(x), 10), true
	case int64:
		return strconv.FormatInt(x, 10), true
	case uint:
		return strconv.FormatUint(uint64(x), 10), true
	case uint8:
		return strconv.FormatUint(uint64(x), 10), true
	case uint16:
		return strconv.FormatUint(uint64(x), 10), true
	case uint32:
		return strconv.FormatUint(uint64(x), 10), true
	case uint64:
		return strconv.FormatUint(x, 10), true
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32), true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	default:
		return "", false
	}
}

// Validate checks a binding before it is registered.
func (b Binding) Validate() error {
	if b.NameTemplate == "" {
		return ErrEmptyTemplate
	}
	if b.TTL < 0 || b.WaitTimeout < 0 {
		return fmt.Errorf("binding %q: negative duration", b.NameTemplate)
	}
	// With TTL 0 the lease duration is the lock manager's default, so the
	// refresh interval is checked when the lock is created.
	if b.RefreshInterval > 0 && b.TTL > 0 {
		if err := lock.ValidateRefreshInterval(b.TTL, b.RefreshInterval); err != nil {
			return fmt.Errorf("binding %q: %w", b.NameTemplate, err)
		}
	}
	if b.RefreshInterval < 0 {
		return fmt.Errorf("binding %q: %w", b.NameTemplate, lock.ErrRefreshInterval)
	}
	return nil
}

// Binding registration errors.
var (
	ErrEmptyUnit     = errors.New("unit name is required")
	ErrEmptyTemplate = errors.New("resource name template is required")
	ErrDuplicateUnit = errors.New("unit already has a binding")
)

// Table is the explicit registry of bindings per unit of work, filled at
// startup and read by the lifecycle interceptor on every invocation.
type Table struct {
	mu       sync.RWMutex
	bindings map[string]Binding
}

// NewTable creates an empty binding table.
func NewTable() *Table {
	return &Table{bindings: make(map[string]Binding)}
}

// Register attaches b to unit.
func (t *Table) Register(unit string, b Binding) error {
	if unit == "" {
		return ErrEmptyUnit
	}
	if err := b.Validate(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.bindings[unit]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateUnit, unit)
	}
	t.bindings[unit] = b
	return nil
}

// MustRegister is like Register but panics on error. It is meant for
// composition code that runs at startup.
func (t *Table) MustRegister(unit string, b Binding) *Table {
	if err := t.Register(unit, b); err != nil {
		panic("binding: " + err.Error())
	}
	return t
}

// Lookup returns the binding of unit.
func (t *Table) Lookup(unit string) (Binding, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	b, ok := t.bindings[unit]
	return b, ok
}

// Len returns the number of registered units.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.bindings)
}
