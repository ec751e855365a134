package detection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProvider(t *testing.T) {
	p, err := NewProvider("")
	require.NoError(t, err)
	assert.Equal(t, DefaultDictionary, p.dictionary)

	_, err = NewProvider("qr_code")
	assert.ErrorIs(t, err, ErrUnknownDictionary)
}

func TestDictionaries_Sorted(t *testing.T) {
	names := Dictionaries()
	require.NotEmpty(t, names)
	assert.IsIncreasing(t, names)
	assert.Contains(t, names, DefaultDictionary)
}

func TestNewArucoDetector_RejectsBadArguments(t *testing.T) {
	tests := []struct {
		name       string
		w, h, dec  int
		dictionary string
		wantErr    error
	}{
		{"zero width", 0, 480, 2, DefaultDictionary, ErrInvalidSize},
		{"negative height", 640, -1, 2, DefaultDictionary, ErrInvalidSize},
		{"zero decimation", 640, 480, 0, DefaultDictionary, ErrInvalidDecimation},
		{"unknown dictionary", 640, 480, 1, "nope", ErrUnknownDictionary},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := NewArucoDetector(tt.w, tt.h, tt.dec, tt.dictionary)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, d)
		})
	}
}

func TestProviderInfo_String(t *testing.T) {
	info := ProviderInfo{Backend: "OpenCV ArUco", Dictionary: "4x4_50", Width: 640, Height: 480, Decimation: 2}
	assert.Contains(t, info.String(), "dict=4x4_50 640x480 decimation=2")
}
