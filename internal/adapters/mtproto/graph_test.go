package mtproto

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFollowersGraph(t *testing.T) {
	data := []byte(`{
		"columns": [
			["x", 1709251200000, 1709337600000, 1709380800000],
			["y0", 12, 7, 3],
			["y1", 2, 0, 1]
		],
		"types": {"y0": "line", "y1": "line", "x": "x"},
		"names": {"y0": "Joined", "y1": "Left"}
	}`)

	points, err := ParseFollowersGraph(data)
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), points[0].Date)
	assert.Equal(t, int64(12), points[0].Joins)
	assert.Equal(t, int64(2), points[0].Leaves)
	assert.Equal(t, time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC), points[1].Date)
	assert.Equal(t, int64(10), points[1].Joins, "точки одного дня суммируются")
	assert.Equal(t, int64(1), points[1].Leaves)
}

func TestParseFollowersGraphUsesNames(t *testing.T) {
	data := []byte(`{
		"columns": [["x", 1709251200000], ["y0", 4], ["y1", 9]],
		"names": {"y0": "Left", "y1": "Joined"}
	}`)
	points, err := ParseFollowersGraph(data)
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, int64(9), points[0].Joins)
	assert.Equal(t, int64(4), points[0].Leaves)
}

func TestParseFollowersGraphErrors(t *testing.T) {
	for name, data := range map[string]string{
		"не json":   `{`,
		"нет x":     `{"columns": [["y0", 1]]}`,
		"нет рядов": `{"columns": [["x", 1709251200000], ["y5", 1]], "names": {}}`,
		"плохая x":  `{"columns": [["x", "abc"], ["y0", 1]]}`,
	} {
		_, err := ParseFollowersGraph([]byte(data))
		assert.Error(t, err, name)
	}
}
