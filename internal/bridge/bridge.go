// Package bridge converts between ir values and Lua values.
//
// Conversion rules:
//   - IRArray becomes a 1-indexed table tagged with the array metatable
//   - IRObject becomes a table tagged with the object metatable
//   - IRNull becomes nil at the top level and the null sentinel inside
//     containers, so array positions and object keys holding null survive
//   - IRNumber becomes LNumber; no numeric parsing happens here
//
// The tags make empty arrays and empty objects distinguishable on the way
// back. Untagged tables built by scripts are classified structurally.
//
// Truthiness follows Lua: only nil and false are falsy. Empty tables and the
// null sentinel are truthy.
package bridge

import (
	"errors"
	"fmt"
	"math"
	"strconv"

	lua "github.com/yuin/gopher-lua"

	"github.com/roach88/checkonaut/internal/ir"
)

// Registry keys for the per-state conversion markers.
const (
	arrayTypeName  = "checkonaut.array"
	objectTypeName = "checkonaut.object"
	nullTypeName   = "checkonaut.null"
	nullRegistry   = "checkonaut.null.value"
)

// NullName is the global (and module field) holding the null sentinel.
const NullName = "null"

// ErrNotInstalled is returned when a state was not prepared with Install.
var ErrNotInstalled = errors.New("bridge not installed in Lua state")

// ConversionError reports a Lua value with no ir representation.
type ConversionError struct {
	Path    string // dotted location inside the converted value, "" for the root
	Message string
}

func (e *ConversionError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Install prepares a state for conversions: it registers the array and
// object metatables, creates the null sentinel and exposes it as the global
// `null`. Install is idempotent.
func Install(L *lua.LState) {
	for _, name := range []string{arrayTypeName, objectTypeName} {
		mt := L.NewTypeMetatable(name)
		mt.RawSetString("__metatable", lua.LString(name))
	}

	null, ok := L.G.Registry.RawGetString(nullRegistry).(*lua.LUserData)
	if !ok {
		nullMT := L.NewTypeMetatable(nullTypeName)
		nullMT.RawSetString("__metatable", lua.LString(nullTypeName))
		nullMT.RawSetString("__tostring", L.NewFunction(func(L *lua.LState) int {
			L.Push(lua.LString("null"))
			return 1
		}))

		null = L.NewUserData()
		null.Metatable = nullMT
		L.G.Registry.RawSetString(nullRegistry, null)
	}
	L.SetGlobal(NullName, null)
}

// Null returns the state's null sentinel.
func Null(L *lua.LState) lua.LValue {
	return L.G.Registry.RawGetString(nullRegistry)
}

// IsNull reports whether v is nil or the null sentinel.
func IsNull(L *lua.LState, v lua.LValue) bool {
	if v == lua.LNil {
		return true
	}
	ud, ok := v.(*lua.LUserData)
	return ok && lua.LValue(ud) == Null(L)
}

// Truthy applies Lua truthiness: only nil and false are falsy.
func Truthy(v lua.LValue) bool {
	return lua.LVAsBool(v)
}

// ToLua converts an ir value into a Lua value owned by L.
// Install must have been called on L.
func ToLua(L *lua.LState, v ir.IRValue) lua.LValue {
	if _, isNull := v.(ir.IRNull); isNull || v == nil {
		return lua.LNil
	}
	return toLua(L, v)
}

func toLua(L *lua.LState, v ir.IRValue) lua.LValue {
	switch val := v.(type) {
	case nil, ir.IRNull:
		return Null(L)
	case ir.IRString:
		return lua.LString(val)
	case ir.IRNumber:
		return lua.LNumber(val)
	case ir.IRBool:
		return lua.LBool(val)
	case ir.IRArray:
		tbl := L.CreateTable(len(val), 0)
		for i, elem := range val {
			tbl.RawSetInt(i+1, toLua(L, elem))
		}
		tbl.Metatable = L.GetTypeMetatable(arrayTypeName)
		return tbl
	case ir.IRObject:
		tbl := L.CreateTable(0, len(val))
		for _, k := range val.SortedKeys() {
			tbl.RawSetString(k, toLua(L, val[k]))
		}
		tbl.Metatable = L.GetTypeMetatable(objectTypeName)
		return tbl
	default:
		// The value model is sealed; reaching this is a host programming error.
		panic(fmt.Sprintf("bridge: unknown IRValue type %T", v))
	}
}

// FromLua converts a Lua value into an ir value.
//
// nil and the null sentinel become IRNull. Functions, coroutines, channels,
// foreign userdata and cyclic tables cannot be represented and produce a
// *ConversionError.
func FromLua(L *lua.LState, v lua.LValue) (ir.IRValue, error) {
	if _, ok := L.G.Registry.RawGetString(nullRegistry).(*lua.LUserData); !ok {
		return nil, ErrNotInstalled
	}
	c := &converter{
		L:        L,
		arrayMT:  L.GetTypeMetatable(arrayTypeName),
		objectMT: L.GetTypeMetatable(objectTypeName),
		null:     Null(L),
		visiting: make(map[*lua.LTable]bool),
	}
	return c.convert(v, "")
}

type converter struct {
	L        *lua.LState
	arrayMT  lua.LValue
	objectMT lua.LValue
	null     lua.LValue
	visiting map[*lua.LTable]bool
}

func (c *converter) convert(v lua.LValue, path string) (ir.IRValue, error) {
	switch val := v.(type) {
	case *lua.LNilType:
		return ir.IRNull{}, nil
	case lua.LBool:
		return ir.IRBool(val), nil
	case lua.LNumber:
		return ir.IRNumber(val), nil
	case lua.LString:
		return ir.IRString(val), nil
	case *lua.LUserData:
		if lua.LValue(val) == c.null {
			return ir.IRNull{}, nil
		}
		return nil, &ConversionError{Path: path, Message: "cannot convert userdata to a value"}
	case *lua.LTable:
		if c.visiting[val] {
			return nil, &ConversionError{Path: path, Message: "cyclic table"}
		}
		c.visiting[val] = true
		defer delete(c.visiting, val)
		return c.convertTable(val, path)
	default:
		return nil, &ConversionError{Path: path, Message: fmt.Sprintf("cannot convert %s to a value", v.Type().String())}
	}
}

func (c *converter) convertTable(tbl *lua.LTable, path string) (ir.IRValue, error) {
	switch tbl.Metatable {
	case c.arrayMT:
		return c.convertArray(tbl, path)
	case c.objectMT:
		return c.convertObject(tbl, path)
	}

	shape, err := Classify(tbl)
	if err != nil {
		return nil, &ConversionError{Path: path, Message: err.Error()}
	}
	if shape == ShapeObject {
		return c.convertObject(tbl, path)
	}
	return c.convertArray(tbl, path)
}

func (c *converter) convertArray(tbl *lua.LTable, path string) (ir.IRValue, error) {
	n, err := sequenceLength(tbl)
	if err != nil {
		return nil, &ConversionError{Path: path, Message: err.Error()}
	}

	arr := make(ir.IRArray, n)
	for i := 1; i <= n; i++ {
		elem, err := c.convert(tbl.RawGetInt(i), fmt.Sprintf("%s[%d]", path, i))
		if err != nil {
			return nil, err
		}
		arr[i-1] = elem
	}
	return arr, nil
}

func (c *converter) convertObject(tbl *lua.LTable, path string) (ir.IRValue, error) {
	obj := make(ir.IRObject)

	var firstErr error
	tbl.ForEach(func(k, v lua.LValue) {
		if firstErr != nil {
			return
		}
		key, err := tableKey(k)
		if err != nil {
			firstErr = &ConversionError{Path: path, Message: err.Error()}
			return
		}
		childPath := key
		if path != "" {
			childPath = path + "." + key
		}
		elem, err := c.convert(v, childPath)
		if err != nil {
			firstErr = err
			return
		}
		obj[key] = elem
	})
	if firstErr != nil {
		return nil, firstErr
	}
	return obj, nil
}

// Shape is the structural classification of an untagged Lua table.
type Shape int

const (
	// ShapeArray is an empty table or one whose keys are exactly 1..n.
	ShapeArray Shape = iota
	// ShapeObject is a table whose keys are all strings.
	ShapeObject
)

// Classify determines whether a table is used as an array or an object.
// Tables mixing string and integer keys, tables with holes, and tables
// keyed by other types are rejected.
func Classify(tbl *lua.LTable) (Shape, error) {
	var (
		strKeys, intKeys, maxInt int
		bad                      lua.LValue
	)
	tbl.ForEach(func(k, _ lua.LValue) {
		switch key := k.(type) {
		case lua.LString:
			strKeys++
		case lua.LNumber:
			if isIndex(float64(key)) {
				f := float64(key)
				intKeys++
				maxInt = max(maxInt, int(f))
				return
			}
			bad = k
		default:
			bad = k
		}
	})

	switch {
	case bad != nil:
		return 0, fmt.Errorf("table key %s of type %s is not a string or array index", bad.String(), bad.Type().String())
	case strKeys > 0 && intKeys > 0:
		return 0, errors.New("table mixes array and object keys")
	case strKeys > 0:
		return ShapeObject, nil
	case intKeys != maxInt:
		return 0, fmt.Errorf("array has holes (%d elements, highest index %d)", intKeys, maxInt)
	default:
		return ShapeArray, nil
	}
}

// maxIndex bounds array indices so they convert to int exactly.
const maxIndex = math.MaxInt32

// isIndex reports whether f can index an array element. Larger numbers are
// treated as ordinary keys.
func isIndex(f float64) bool {
	return f >= 1 && f <= maxIndex && f == math.Trunc(f)
}

// sequenceLength returns n for a table whose keys are exactly 1..n.
func sequenceLength(tbl *lua.LTable) (int, error) {
	count, maxInt := 0, 0
	var bad lua.LValue
	tbl.ForEach(func(k, _ lua.LValue) {
		num, ok := k.(lua.LNumber)
		if !ok || !isIndex(float64(num)) {
			bad = k
			return
		}
		count++
		maxInt = max(maxInt, int(num))
	})
	if bad != nil {
		return 0, fmt.Errorf("array has non-index key %s", bad.String())
	}
	if count != maxInt {
		return 0, fmt.Errorf("array has holes (%d elements, highest index %d)", count, maxInt)
	}
	return maxInt, nil
}

// tableKey renders an object key. Integral numbers are accepted so objects
// that scripts index numerically still convert.
func tableKey(k lua.LValue) (string, error) {
	switch key := k.(type) {
	case lua.LString:
		return string(key), nil
	case lua.LNumber:
		f := float64(key)
		if f == math.Trunc(f) && math.Abs(f) <= 1<<53 {
			return strconv.FormatInt(int64(f), 10), nil
		}
		return strconv.FormatFloat(f, 'g', -1, 64), nil
	default:
		return "", fmt.Errorf("object key of type %s is not a string", k.Type().String())
	}
}
