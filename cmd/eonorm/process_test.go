package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/go-eonorm/eo/raster"
)

func TestParseWindow(t *testing.T) {
	w, err := parseWindow(" 10, 20,100 ,50")
	require.NoError(t, err)
	assert.Equal(t, raster.Window{ColOff: 10, RowOff: 20, Cols: 100, Rows: 50}, w)

	for _, bad := range []string{"1,2,3", "a,b,c,d", "0,0,0,10", "-1,0,5,5"} {
		_, err := parseWindow(bad)
		assert.Error(t, err, bad)
	}
}
