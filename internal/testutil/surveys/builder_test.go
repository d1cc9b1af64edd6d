package surveys

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilder(t *testing.T) {
	data := NewBuilder(t).
		WithCorrupted("S1", "2019-03-12", "2030-03-12", 2).
		WithMatching("S2", "2018-05-05", 1).
		WithUnreferenced("S3", "2031-01-01", 1).
		Build()

	require.Len(t, data.Records, 4)
	require.Len(t, data.References, 2)
	assert.Equal(t, 2030, data.Records[0].Year)
	assert.Equal(t, int64(1), *data.Records[0].GridPoint)
	assert.Equal(t, int64(4), *data.Records[3].GridPoint)
	assert.Equal(t, "2019-03-12", data.References[0].Date.String())
}
