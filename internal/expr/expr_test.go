package expr

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/FamilySearch/pewpew/internal/value"
)

func evalSrc(t *testing.T, src string, rec *Record) value.Value {
	t.Helper()
	x, err := Compile(src, nil)
	require.NoError(t, err)
	if rec == nil {
		rec = NewRecord()
	}
	v, err := x.Evaluate(rec, EvalOptions{})
	require.NoError(t, err)
	return v
}

func TestArithmeticPrecedence(t *testing.T) {
	cases := []struct {
		src  string
		want value.Value
	}{
		{"1 + 2 * 3", value.NewInt(7)},
		{"(1 + 2) * 3", value.NewInt(9)},
		{"10 % 3", value.NewInt(1)},
		{"1 == 1 && 2 == 2", value.NewBool(true)},
		{"1 == 2 || 2 == 2", value.NewBool(true)},
		{"!(1 == 1)", value.NewBool(false)},
		{"5 / 2", value.NewFloat(2.5)},
		{"5 / 2.0", value.NewFloat(2.5)},
		{"-3 + 1", value.NewInt(-2)},
	}
	for _, c := range cases {
		got := evalSrc(t, c.src, nil)
		require.True(t, value.Equal(c.want, got), "src=%q want=%v got=%v", c.src, c.want, got)
	}
}

func TestStringConcatCoercion(t *testing.T) {
	got := evalSrc(t, `"a" + 1`, nil)
	require.Equal(t, "a1", got.Str())
}

func TestPathIndexingIntoProvider(t *testing.T) {
	rec := NewRecord()
	obj := value.NewObject()
	obj.Set("name", value.NewString("bob"))
	arr := value.NewArray([]value.Value{value.NewInt(10), value.NewInt(20)})
	obj.Set("nums", arr)
	rec.Providers["user"] = value.NewObjectValue(obj)

	got := evalSrc(t, "user.name", rec)
	require.Equal(t, "bob", got.Str())

	got = evalSrc(t, "user.nums[1]", rec)
	require.Equal(t, int64(20), got.Int())
}

func TestRequestResponseSpecialPaths(t *testing.T) {
	rec := NewRecord()
	rec.RequestMethod = "GET"
	rec.RequestURL = "http://example.com"
	rec.HasResponse = true
	rec.ResponseStatus = 200

	require.Equal(t, "GET", evalSrc(t, "request.method", rec).Str())
	require.Equal(t, int64(200), evalSrc(t, "response.status", rec).Int())
}

func TestTemplateInterpolation(t *testing.T) {
	rec := NewRecord()
	rec.Providers["name"] = value.NewString("world")
	x, err := CompileTemplate("hello ${name}!", nil)
	require.NoError(t, err)
	v, err := x.Evaluate(rec, EvalOptions{})
	require.NoError(t, err)
	require.Equal(t, "hello world!", v.Str())
}

func TestRangeConstantFolding(t *testing.T) {
	x, err := Compile("range(5,1)", nil)
	require.NoError(t, err)
	lit, ok := x.root.(*LiteralNode)
	require.True(t, ok, "range(5,1) with literal args should constant-fold to a literal array")
	require.Equal(t, value.Array, lit.Value.Kind())

	want := []int64{5, 4, 3, 2}
	arr := lit.Value.Array()
	require.Len(t, arr, len(want))
	for i, w := range want {
		require.Equal(t, w, arr[i].Int())
	}
}

func TestRangeAscending(t *testing.T) {
	vs := rangeValues(1, 5)
	require.Len(t, vs, 4)
	for i, want := range []int64{1, 2, 3, 4} {
		require.Equal(t, want, vs[i].Int())
	}
}

func TestEvaluateAsIterFlattensFoldedArrayLiteral(t *testing.T) {
	x, err := Compile("range(3,0)", nil)
	require.NoError(t, err)
	vs, err := x.EvaluateAsIter(NewRecord(), EvalOptions{})
	require.NoError(t, err)
	require.Len(t, vs, 3)
	require.Equal(t, int64(3), vs[0].Int())
	require.Equal(t, int64(2), vs[1].Int())
	require.Equal(t, int64(1), vs[2].Int())
}

func TestForEachRef(t *testing.T) {
	rec := NewRecord()
	rec.ForEach = []value.Value{value.NewString("a"), value.NewString("b")}
	require.Equal(t, "b", evalSrc(t, "for_each[1]", rec).Str())
}

func TestCollectReturnsFirstArgUnchanged(t *testing.T) {
	rec := NewRecord()
	rec.Providers["p"] = value.NewInt(42)
	got := evalSrc(t, `collect(p, "block")`, rec)
	require.Equal(t, int64(42), got.Int())
}

func TestUnknownFunctionRejectedAtParse(t *testing.T) {
	_, err := Compile("bogus_fn(1)", nil)
	require.Error(t, err)
	var ufe *UnknownFunctionError
	require.ErrorAs(t, err, &ufe)
}

func TestArityValidation(t *testing.T) {
	_, err := Compile("if(1,2)", nil)
	require.Error(t, err)
	var iae *InvalidFunctionArgumentsError
	require.ErrorAs(t, err, &iae)
}

func TestRequiredProvidersAndSpecialMask(t *testing.T) {
	x, err := Compile(`user.id == request.headers["X-Id"]`, nil)
	require.NoError(t, err)
	require.True(t, x.RequiredProviders["user"])
	require.NotZero(t, x.Special&SpecialRequestHeaders)
	require.Zero(t, x.Special&SpecialRequestBody)
}

func TestRequiredProvidersTracksJSONPathLiteralArgument(t *testing.T) {
	x, err := Compile(`json_path('user.addresses[0].city')`, nil)
	require.NoError(t, err)
	require.True(t, x.RequiredProviders["user"])
}

func TestJSONPathAgainstNamedProviderResolves(t *testing.T) {
	rec := NewRecord()
	obj := value.NewObject()
	obj.Set("city", value.NewString("Provo"))
	addr := value.NewObject()
	addr.Set("address", value.NewObjectValue(obj))
	rec.Providers["user"] = value.NewObjectValue(addr)

	x, err := Compile(`json_path('user.address.city')`, nil)
	require.NoError(t, err)
	require.True(t, x.RequiredProviders["user"])

	v, err := x.Evaluate(rec, EvalOptions{})
	require.NoError(t, err)
	require.Equal(t, "Provo", v.Str())
}

func TestIndexingIntoJSONErrorRecoversToNull(t *testing.T) {
	rec := NewRecord()
	rec.Providers["n"] = value.NewInt(5)
	x, err := Compile("n.field", nil)
	require.NoError(t, err)

	_, err = x.Evaluate(rec, EvalOptions{})
	require.Error(t, err)

	v, err := x.Evaluate(rec, EvalOptions{NoRecoverableError: true})
	require.NoError(t, err)
	require.Equal(t, value.Null, v.Kind())
}

func TestEncodeBase64RoundTrips(t *testing.T) {
	got := evalSrc(t, `encode("hi there", "base64")`, nil)
	decoded, err := DecodeBase64(got.Str())
	require.NoError(t, err)
	require.Equal(t, "hi there", decoded)
}

func TestMatchCapturesNamedGroups(t *testing.T) {
	got := evalSrc(t, `match("abc123", "(?P<digits>[0-9]+)")`, nil)
	require.Equal(t, value.Object, got.Kind())
	v, ok := got.Object().Get("digits")
	require.True(t, ok)
	require.Equal(t, "123", v.Str())
}

func TestJoinArrayWithSeparator(t *testing.T) {
	rec := NewRecord()
	rec.Providers["xs"] = value.NewArray([]value.Value{value.NewInt(1), value.NewInt(2), value.NewInt(3)})
	got := evalSrc(t, `join(xs, "-")`, rec)
	require.Equal(t, "1-2-3", got.Str())
}

func TestLexerUnterminatedTemplateErrors(t *testing.T) {
	_, err := ParseTemplate("hello ${ unterminated", nil)
	require.Error(t, err)
}

func TestEqualAcrossKinds(t *testing.T) {
	require.True(t, value.Equal(value.NewInt(1), value.NewFloat(1.0)))
	require.False(t, value.Equal(value.NewInt(1), value.NewString("1")))
}
