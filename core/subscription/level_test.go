package subscription

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{in: "free", want: Free},
		{in: " Premium ", want: Premium},
		{in: "MASTERCLASS", want: Masterclass},
		{in: "", wantErr: true},
		{in: "gold", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.Equal(t, ErrInvalidLevel, errors.Cause(err))
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLevel_Scan(t *testing.T) {
	var lvl Level
	assert.NoError(t, lvl.Scan([]byte("elite")))
	assert.Equal(t, Elite, lvl)
	assert.NoError(t, lvl.Scan("basic"))
	assert.Equal(t, Basic, lvl)
	assert.Error(t, lvl.Scan(42))
	assert.Error(t, lvl.Scan("gold"))
	assert.Equal(t, Basic, lvl, "a failed scan must not change the level")
}

func TestLevel_Value(t *testing.T) {
	v, err := Premium.Value()
	assert.NoError(t, err)
	assert.Equal(t, "premium", v)

	_, err = Level("gold").Value()
	assert.Error(t, err)
}

func TestLevel_Name(t *testing.T) {
	assert.Equal(t, "Masterclass", Masterclass.Name())
	assert.Equal(t, "gold", Level("gold").Name())
}

func TestParseLevels(t *testing.T) {
	levels, err := ParseLevels([]string{"basic", "Elite"})
	assert.NoError(t, err)
	assert.Equal(t, []Level{Basic, Elite}, levels)
	assert.Equal(t, []string{"basic", "elite"}, Strings(levels))
	assert.True(t, Contains(levels, Elite))
	assert.False(t, Contains(levels, Free))

	_, err = ParseLevels([]string{"basic", "gold"})
	assert.Error(t, err)
}
