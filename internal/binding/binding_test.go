package binding

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kneutral-org/resource-lock/internal/lock"
)

type orderRef struct{ id int }

func (o orderRef) String() string { return "ref-" + string(rune('0'+o.id)) }

func TestResolve(t *testing.T) {
	tests := []struct {
		name     string
		template string
		vars     Vars
		expected string
	}{
		{"int placeholder", "invoice_{id}", Vars{"id": 7}, "invoice_7"},
		{"missing key stays literal", "invoice_{id}", Vars{}, "invoice_{id}"},
		{"nil vars", "invoice_{id}", nil, "invoice_{id}"},
		{"string", "order_{id}", Vars{"id": "42"}, "order_42"},
		{"several placeholders", "{tenant}:{kind}_{id}", Vars{"tenant": "acme", "kind": "invoice", "id": int64(9)}, "acme:invoice_9"},
		{"repeated placeholder", "{id}-{id}", Vars{"id": 3}, "3-3"},
		{"bool", "flag_{on}", Vars{"on": true}, "flag_true"},
		{"float", "rate_{r}", Vars{"r": 1.5}, "rate_1.5"},
		{"unsigned", "shard_{n}", Vars{"n": uint16(12)}, "shard_12"},
		{"stringer stays literal", "order_{ref}", Vars{"ref": orderRef{id: 5}}, "order_{ref}"},
		{"typed nil pointer stays literal", "invoice_{id}", Vars{"id": (*url.URL)(nil)}, "invoice_{id}"},
		{"non scalar stays literal", "batch_{ids}", Vars{"ids": []int{1, 2}}, "batch_{ids}"},
		{"nil value stays literal", "user_{id}", Vars{"id": nil}, "user_{id}"},
		{"partial", "{a}_{b}", Vars{"a": "x"}, "x_{b}"},
		{"no placeholders", "long_import_job", Vars{"id": 1}, "long_import_job"},
		{"values are not rescanned", "{a}", Vars{"a": "{b}", "b": "boom"}, "{b}"},
		{"unbalanced braces", "weird_{id", Vars{"id": 1}, "weird_{id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Resolve(Binding{NameTemplate: tt.template}, tt.vars)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestResolve_BoolsRenderAsWords(t *testing.T) {
	b := Binding{NameTemplate: "flag_{on}"}

	// false must not collapse to an empty segment.
	assert.Equal(t, "flag_false", Resolve(b, Vars{"on": false}))
	assert.NotEqual(t, Resolve(b, Vars{"on": true}), Resolve(b, Vars{"on": false}))
}

func TestResolve_MissingKeysCollide(t *testing.T) {
	b := Binding{NameTemplate: "invoice_{id}"}

	// Two different invocations without an id resolve to the same resource.
	assert.Equal(t, Resolve(b, Vars{"user": 1}), Resolve(b, Vars{"user": 2}))
}

func TestUnresolved(t *testing.T) {
	b := Binding{NameTemplate: "{tenant}_invoice_{id}"}

	assert.Empty(t, Unresolved(b, Vars{"tenant": "acme", "id": 1}))
	assert.Equal(t, []string{"id"}, Unresolved(b, Vars{"tenant": "acme"}))
	assert.Equal(t, []string{"tenant", "id"}, Unresolved(b, nil))
	assert.Equal(t, []string{"tenant", "id"}, b.Placeholders())
}

func TestBinding_Validate(t *testing.T) {
	tests := []struct {
		name    string
		binding Binding
		wantErr bool
	}{
		{"minimal", Binding{NameTemplate: "x"}, false},
		{"full", Binding{NameTemplate: "x", TTL: 10 * time.Second, Blocking: true, WaitTimeout: time.Second, RefreshInterval: 5 * time.Second}, false},
		{"empty template", Binding{}, true},
		{"negative ttl", Binding{NameTemplate: "x", TTL: -time.Second}, true},
		{"refresh too slow", Binding{NameTemplate: "x", TTL: 5 * time.Second, RefreshInterval: 4 * time.Second}, true},
		{"refresh against default ttl", Binding{NameTemplate: "x", RefreshInterval: 10 * time.Second}, false},
		{"refresh longer than package default is checked at run time", Binding{NameTemplate: "x", RefreshInterval: 20 * time.Second}, false},
		{"negative refresh", Binding{NameTemplate: "x", RefreshInterval: -time.Second}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.binding.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	assert.ErrorIs(t, Binding{NameTemplate: "x", TTL: 4 * time.Second, RefreshInterval: 3 * time.Second}.Validate(), lock.ErrRefreshInterval)
}

func TestTable(t *testing.T) {
	table := NewTable()

	require.NoError(t, table.Register("invoice.generate", Binding{NameTemplate: "invoice_{id}", TTL: time.Minute}))

	b, ok := table.Lookup("invoice.generate")
	require.True(t, ok)
	assert.Equal(t, "invoice_{id}", b.NameTemplate)
	assert.Equal(t, time.Minute, b.TTL)

	_, ok = table.Lookup("unknown")
	assert.False(t, ok)

	assert.ErrorIs(t, table.Register("invoice.generate", Binding{NameTemplate: "other"}), ErrDuplicateUnit)
	assert.ErrorIs(t, table.Register("", Binding{NameTemplate: "x"}), ErrEmptyUnit)
	assert.ErrorIs(t, table.Register("empty", Binding{}), ErrEmptyTemplate)
	assert.Equal(t, 1, table.Len())
}

func TestTable_MustRegisterPanics(t *testing.T) {
	table := NewTable().MustRegister("a", Binding{NameTemplate: "a"})

	assert.Panics(t, func() {
		table.MustRegister("a", Binding{NameTemplate: "a"})
	})
}
