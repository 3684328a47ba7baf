package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONBScanAcceptsBytesAndStrings(t *testing.T) {
	var fromBytes JSONB
	require.NoError(t, fromBytes.Scan([]byte(`{"vehicle_count":5}`)))
	assert.Equal(t, float64(5), fromBytes.Map()["vehicle_count"])

	var fromString JSONB
	require.NoError(t, fromString.Scan(`{"vehicle_count":3}`))
	assert.Equal(t, float64(3), fromString.Map()["vehicle_count"])

	var empty JSONB
	require.NoError(t, empty.Scan(nil))
	assert.Nil(t, empty.Map())

	assert.Error(t, empty.Scan(42))
}

func TestStringListRoundTrip(t *testing.T) {
	v, err := StringList{"police", "ambulance"}.Value()
	require.NoError(t, err)
	assert.Equal(t, `["police","ambulance"]`, v)

	var out StringList
	require.NoError(t, out.Scan(v))
	assert.Equal(t, StringList{"police", "ambulance"}, out)
}

func TestStringListNilIsEmptyArray(t *testing.T) {
	v, err := StringList(nil).Value()
	require.NoError(t, err)
	assert.Equal(t, "[]", v)

	var out StringList
	require.NoError(t, out.Scan(nil))
	assert.NotNil(t, out)
	assert.Empty(t, out)
}
