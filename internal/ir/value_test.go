package ir

import (
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIRValueSealed(t *testing.T) {
	// Verify all types implement IRValue (compile-time check via assignment)
	var _ IRValue = IRNull{}
	var _ IRValue = IRString("test")
	var _ IRValue = IRNumber(42)
	var _ IRValue = IRBool(true)
	var _ IRValue = IRArray{IRString("a"), IRNumber(1)}
	var _ IRValue = IRObject{"key": IRString("value")}
}

func TestIRObjectSortedKeys(t *testing.T) {
	obj := IRObject{
		"zebra":  IRString("z"),
		"apple":  IRString("a"),
		"banana": IRString("b"),
	}

	assert.Equal(t, []string{"apple", "banana", "zebra"}, obj.SortedKeys())
}

func TestIRObjectSortedKeysRFC8785Order(t *testing.T) {
	obj := IRObject{
		"a":  IRNumber(1),
		"A":  IRNumber(2),
		"aa": IRNumber(3),
		"aA": IRNumber(4),
		"Aa": IRNumber(5),
		"AA": IRNumber(6),
	}

	// 'A' = 65, 'a' = 97
	expected := []string{"A", "AA", "Aa", "a", "aA", "aa"}
	assert.Equal(t, expected, obj.SortedKeys())
}

func TestIRObjectSortedKeysSurrogatePairs(t *testing.T) {
	// U+1F600 encodes to surrogates 0xD83D 0xDE00, which sort before U+FF61
	// in UTF-16 but after it in UTF-8.
	obj := IRObject{
		"\U0001F600": IRNumber(1),
		"\uFF61":     IRNumber(2),
	}

	assert.Equal(t, []string{"\U0001F600", "\uFF61"}, obj.SortedKeys())
}

func TestEqual(t *testing.T) {
	tests := []struct {
		name string
		a, b IRValue
		want bool
	}{
		{"null vs nil", IRNull{}, nil, true},
		{"same strings", IRString("x"), IRString("x"), true},
		{"string vs number", IRString("1"), IRNumber(1), false},
		{"numbers", IRNumber(1.5), IRNumber(1.5), true},
		{"bools differ", IRBool(true), IRBool(false), false},
		{"empty array vs empty object", IRArray{}, IRObject{}, false},
		{"nested equal",
			IRObject{"a": IRArray{IRNumber(1), IRNull{}}},
			IRObject{"a": IRArray{IRNumber(1), IRNull{}}},
			true},
		{"nested differ",
			IRObject{"a": IRArray{IRNumber(1)}},
			IRObject{"a": IRArray{IRNumber(2)}},
			false},
		{"missing key", IRObject{"a": IRNull{}}, IRObject{"b": IRNull{}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Equal(tt.a, tt.b))
		})
	}
}

func TestFromAny(t *testing.T) {
	when := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	got, err := FromAny(map[string]any{
		"name":    "web",
		"count":   json.Number("3"),
		"ratio":   0.5,
		"enabled": true,
		"missing": nil,
		"ports":   []any{80, int64(443)},
		"labels":  map[any]any{"tier": "front", 1: "one", true: "yes"},
		"created": when,
	})
	require.NoError(t, err)

	expected := IRObject{
		"name":    IRString("web"),
		"count":   IRNumber(3),
		"ratio":   IRNumber(0.5),
		"enabled": IRBool(true),
		"missing": IRNull{},
		"ports":   IRArray{IRNumber(80), IRNumber(443)},
		"labels": IRObject{
			"tier": IRString("front"),
			"1":    IRString("one"),
			"true": IRString("yes"),
		},
		"created": IRString("2024-03-01T12:00:00Z"),
	}
	assert.True(t, Equal(expected, got), "got %#v", got)
}

func TestFromAnyUnsupported(t *testing.T) {
	_, err := FromAny(map[string]any{"ch": make(chan int)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `object["ch"]`)
	assert.Contains(t, err.Error(), "unsupported type")
}

func TestToAny(t *testing.T) {
	v := IRObject{
		"n":   IRNumber(3),
		"f":   IRNumber(2.5),
		"arr": IRArray{IRNull{}, IRBool(true)},
	}

	assert.Equal(t, map[string]any{
		"n":   int64(3),
		"f":   2.5,
		"arr": []any{nil, true},
	}, ToAny(v))
}

func TestTypeName(t *testing.T) {
	assert.Equal(t, "null", TypeName(nil))
	assert.Equal(t, "null", TypeName(IRNull{}))
	assert.Equal(t, "string", TypeName(IRString("")))
	assert.Equal(t, "number", TypeName(IRNumber(0)))
	assert.Equal(t, "boolean", TypeName(IRBool(false)))
	assert.Equal(t, "array", TypeName(IRArray{}))
	assert.Equal(t, "object", TypeName(IRObject{}))
}

func TestMarshalIRValue(t *testing.T) {
	data, err := MarshalIRValue(IRObject{
		"b": IRArray{IRNumber(1), IRNumber(1.25), IRNull{}},
		"a": IRString("x"),
	})
	require.NoError(t, err)
	assert.Equal(t, `{"a":"x","b":[1,1.25,null]}`, string(data))
}

func TestIRArrayMarshalJSONEmpty(t *testing.T) {
	data, err := json.Marshal(NewIRArray())
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))
}
