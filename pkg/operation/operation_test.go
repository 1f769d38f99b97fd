package operation

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeCarriesDiscriminatorAndPath(t *testing.T) {
	data, err := Encode(&AssignString{Path: Path{"params", "optimizer"}, Value: "adam"})
	require.NoError(t, err)

	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Equal(t, "assign_string", m["type"])
	assert.Equal(t, []interface{}{"params", "optimizer"}, m["path"])
	assert.Equal(t, "adam", m["value"])
}

func TestDecodeRoundTrip(t *testing.T) {
	step := 3.0
	ops := []Operation{
		&AssignFloat{Path: Path{"loss"}, Value: 0.5},
		&AssignInt{Path: Path{"epoch"}, Value: 12},
		&AssignBool{Path: Path{"sys", "failed"}, Value: false},
		&AssignDatetime{Path: Path{"sys", "creation_time"}, TimestampMS: 1700000000000},
		&LogFloats{Path: Path{"metrics", "acc"}, Values: []FloatPoint{
			{Value: 0.91, Step: &step, TimestampMS: 1700000000123},
			{Value: 0.93, TimestampMS: 1700000000456},
		}},
		&LogStrings{Path: Path{"stdout"}, Values: []StringPoint{{Value: "epoch done", TimestampMS: 1}}},
		&AddStrings{Path: Path{"sys", "tags"}, Values: []string{"baseline", "v2"}},
		&RemoveStrings{Path: Path{"sys", "tags"}, Values: []string{"baseline"}},
		&DeleteAttribute{Path: Path{"params", "lr"}},
		&UploadFile{Path: Path{"model", "weights"}, Ref: "weights.bin", Ext: "bin"},
	}

	for _, op := range ops {
		data, err := Encode(op)
		require.NoError(t, err, "encode %s", op.OpType())

		got, err := Decode(data)
		require.NoError(t, err, "decode %s", op.OpType())
		assert.Equal(t, op, got)
	}
}

func TestDecodeUnknownType(t *testing.T) {
	_, err := Decode([]byte(`{"type":"assign_complex","path":["a"]}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestDecodeMalformedPayload(t *testing.T) {
	for _, data := range [][]byte{nil, []byte(`{"type":`), []byte(`{"type":"assign_int","path":["a"],"value":"nan"}`)} {
		_, err := Decode(data)
		require.Error(t, err)
	}

	_, err := DecodeVersioned([]byte(`{"version":1,"op":`))
	require.Error(t, err)
}

func TestVersionedWireFormat(t *testing.T) {
	v := Versioned{Version: 7, Op: &AssignFloat{Path: Path{"loss"}, Value: 0.25}}

	data, err := EncodeVersioned(v)
	require.NoError(t, err)

	var m map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &m))
	require.Contains(t, m, "version")
	require.Contains(t, m, "op")

	got, err := DecodeVersioned(data)
	require.NoError(t, err)
	assert.Equal(t, v, got)
}

func TestPathString(t *testing.T) {
	assert.Equal(t, "params/lr", Path{"params", "lr"}.String())
	assert.True(t, Path{"a", "b"}.Equal(Path{"a", "b"}))
	assert.False(t, Path{"a"}.Equal(Path{"a", "b"}))
	assert.False(t, Path{"a", "b"}.Equal(Path{"a", "c"}))
}
