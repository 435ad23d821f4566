package value

import (
	"encoding/json"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestTruthy(t *testing.T) {
	cases := []struct {
		v    Value
		want bool
	}{
		{NewNull(), false},
		{NewBool(false), false},
		{NewInt(0), false},
		{NewString(""), false},
		{NewArray(nil), true},
		{NewObjectValue(NewObject()), true},
		{NewInt(1), true},
		{NewString("x"), true},
	}
	for _, c := range cases {
		require.Equal(t, c.want, c.v.Truthy(), "%v", c.v)
	}
}

func TestNumericCoercionNaN(t *testing.T) {
	require.True(t, math.IsNaN(NewString("abc").Numeric()))
	require.Equal(t, float64(3), NewString("3").Numeric())
	require.Equal(t, float64(1), NewBool(true).Numeric())
}

func TestEqualCrossKind(t *testing.T) {
	require.True(t, Equal(NewInt(3), NewFloat(3.0)))
	require.False(t, Equal(NewInt(3), NewString("3")))
}

func TestObjectPreservesInsertionOrder(t *testing.T) {
	o := NewObject()
	o.Set("b", NewInt(2))
	o.Set("a", NewInt(1))
	o.Set("b", NewInt(20))
	require.Equal(t, []string{"b", "a"}, o.Keys())
	v, ok := o.Get("b")
	require.True(t, ok)
	require.Equal(t, int64(20), v.Int())
}

func TestIndexArrayNegative(t *testing.T) {
	arr := NewArray([]Value{NewInt(1), NewInt(2), NewInt(3)})
	v, ok := arr.Index(NewInt(-1))
	require.True(t, ok)
	require.Equal(t, int64(3), v.Int())
}

func TestMarshalJSONRoundTripsObjectOrder(t *testing.T) {
	o := NewObject()
	o.Set("z", NewInt(1))
	o.Set("a", NewInt(2))
	b, err := NewObjectValue(o).MarshalJSON()
	require.NoError(t, err)
	require.Equal(t, `{"z":1,"a":2}`, string(b))
}

func TestParseJSONPreservesObjectKeyOrder(t *testing.T) {
	v, err := ParseJSON([]byte(`{"z":1,"a":2,"m":{"y":1,"b":2}}`))
	require.NoError(t, err)
	require.Equal(t, []string{"z", "a", "m"}, v.obj.Keys())
	nested, ok := v.Index(NewString("m"))
	require.True(t, ok)
	require.Equal(t, []string{"y", "b"}, nested.obj.Keys())
}

func TestParseJSONRejectsTrailingData(t *testing.T) {
	_, err := ParseJSON([]byte(`{"a":1} garbage`))
	require.Error(t, err)
}

func TestParseJSONNonObjectFallsBackToScalar(t *testing.T) {
	v, err := ParseJSON([]byte(`"hello"`))
	require.NoError(t, err)
	require.Equal(t, String, v.Kind())
	require.Equal(t, "hello", v.Str())
}

func TestDecodeJSONReadsSequentialValuesOffOneStream(t *testing.T) {
	dec := json.NewDecoder(strings.NewReader(`{"a":1}{"b":2}`))
	dec.UseNumber()
	first, err := DecodeJSON(dec)
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, first.obj.Keys())

	second, err := DecodeJSON(dec)
	require.NoError(t, err)
	require.Equal(t, []string{"b"}, second.obj.Keys())
}

func TestFromYAMLNodePreservesMappingKeyOrder(t *testing.T) {
	var n yaml.Node
	require.NoError(t, yaml.Unmarshal([]byte("z: 1\na: 2\nm:\n  y: 1\n  b: 2\n"), &n))
	v, err := FromYAMLNode(&n)
	require.NoError(t, err)
	require.Equal(t, []string{"z", "a", "m"}, v.obj.Keys())
	nested, ok := v.Index(NewString("m"))
	require.True(t, ok)
	require.Equal(t, []string{"y", "b"}, nested.obj.Keys())
}

func TestFromYAMLNodeScalarKinds(t *testing.T) {
	var n yaml.Node
	require.NoError(t, yaml.Unmarshal([]byte(`"123"`), &n))
	v, err := FromYAMLNode(&n)
	require.NoError(t, err)
	require.Equal(t, String, v.Kind())
	require.Equal(t, "123", v.Str())

	require.NoError(t, yaml.Unmarshal([]byte(`123`), &n))
	v, err = FromYAMLNode(&n)
	require.NoError(t, err)
	require.Equal(t, Int, v.Kind())
	require.Equal(t, int64(123), v.Int())
}
