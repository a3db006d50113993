package intent

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalizeOrderIndependence(t *testing.T) {
	a := json.RawMessage(`{"percentOff": 20, "name": "LAUNCH20"}`)
	b := json.RawMessage(`{"name":"LAUNCH20","percentOff":20}`)

	_, ha, err := HashPayload(a)
	require.NoError(t, err)
	_, hb, err := HashPayload(b)
	require.NoError(t, err)
	assert.Equal(t, ha, hb, "key order must not change the hash")
}

func TestCanonicalizeNestedAndArrays(t *testing.T) {
	a := json.RawMessage(`{"x":{"b":1,"a":[1,2,3]},"y":null}`)
	b := json.RawMessage(`{"y":null,"x":{"a":[1,2,3],"b":1}}`)
	c := json.RawMessage(`{"y":null,"x":{"a":[3,2,1],"b":1}}`)

	ca, err := Canonicalize(a)
	require.NoError(t, err)
	cb, err := Canonicalize(b)
	require.NoError(t, err)
	cc, err := Canonicalize(c)
	require.NoError(t, err)

	assert.Equal(t, string(ca), string(cb))
	assert.NotEqual(t, string(ca), string(cc), "array order is semantic")
	assert.Equal(t, `{"x":{"a":[1,2,3],"b":1},"y":null}`, string(ca))
}

func TestCanonicalizeNumbersVerbatim(t *testing.T) {
	// Los números no se reformatean: 20 y 20.0 son payloads distintos y eso
	// es deliberado (el binding es por bytes canónicos, no por igualdad laxa).
	_, h1, err := HashPayload(json.RawMessage(`{"p":20}`))
	require.NoError(t, err)
	_, h2, err := HashPayload(json.RawMessage(`{"p":20.0}`))
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
}

func TestCanonicalizeSingleFieldDifference(t *testing.T) {
	_, h1, err := HashPayload(json.RawMessage(`{"project_id":"p1","title":"Hello"}`))
	require.NoError(t, err)
	_, h2, err := HashPayload(json.RawMessage(`{"project_id":"p1","title":"Hello!"}`))
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
}

func TestCanonicalizeRejectsTrailingData(t *testing.T) {
	_, err := Canonicalize(json.RawMessage(`{"a":1}{"b":2}`))
	require.Error(t, err)
}

func TestParseKindAndScopes(t *testing.T) {
	for _, k := range Kinds() {
		got, err := ParseKind(string(k))
		require.NoError(t, err)
		assert.Equal(t, k, got)
		assert.NotEmpty(t, k.RequiredScope())
	}
	_, err := ParseKind("DROP_TABLES")
	require.Error(t, err)
}

func TestValidatePayload(t *testing.T) {
	require.NoError(t, ValidatePayload(KindCouponCreate, json.RawMessage(`{"name":"LAUNCH20","percent_off":20}`)))
	require.Error(t, ValidatePayload(KindCouponCreate, json.RawMessage(`{"name":"X","percent_off":120}`)))
	require.Error(t, ValidatePayload(KindProjectPublish, json.RawMessage(`{}`)))
	require.NoError(t, ValidatePayload(KindApplicationSubmit, json.RawMessage(`{"project_id":"p1","category":"design"}`)))
	assert.Equal(t, "design", Category(KindApplicationSubmit, json.RawMessage(`{"project_id":"p1","category":"design"}`)))
}
