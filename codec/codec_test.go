package codec

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	Name   string    `json:"name" msgpack:"name"`
	Epoch  int       `json:"epoch" msgpack:"epoch"`
	Values []float64 `json:"values" msgpack:"values"`
}

func TestByName(t *testing.T) {
	for _, name := range Names() {
		t.Run(name, func(t *testing.T) {
			c, ok := ByName(name)
			require.True(t, ok)
			assert.Equal(t, name, c.Name())

			in := record{Name: "head.0.weight", Epoch: 3, Values: []float64{0.1, -2.5, 1e-300}}
			data, err := c.Marshal(in)
			require.NoError(t, err)

			var out record
			require.NoError(t, c.Unmarshal(data, &out))
			assert.Equal(t, in, out)
		})
	}

	_, ok := ByName("gob")
	assert.False(t, ok)
}

func TestMsgPackKeepsNonFinite(t *testing.T) {
	in := record{Values: []float64{math.Inf(1), math.Inf(-1)}}
	data, err := MsgPack{}.Marshal(in)
	require.NoError(t, err)

	var out record
	require.NoError(t, MsgPack{}.Unmarshal(data, &out))
	assert.True(t, math.IsInf(out.Values[0], 1))
	assert.True(t, math.IsInf(out.Values[1], -1))
}

func TestGoJSONAppendLine(t *testing.T) {
	out, err := GoJSON{}.AppendLine([]byte("{\"epoch\":0}\n"), record{Name: "run", Epoch: 1})
	require.NoError(t, err)
	assert.Equal(t, "{\"epoch\":0}\n{\"name\":\"run\",\"epoch\":1,\"values\":null}\n", string(out))
}

func TestJSONRejectsNonFinite(t *testing.T) {
	_, err := JSON{}.Marshal(record{Values: []float64{math.NaN()}})
	assert.Error(t, err)
}

func TestNames(t *testing.T) {
	assert.Equal(t, []string{"go-json", "json", "msgpack"}, Names())
	assert.Contains(t, Names(), Default.Name())
}
