package lma

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeFrame(t *testing.T) {
	frame := encodeFrame(cmdStrokeInitComplete, nil)
	assert.Equal(t, []byte{0xFF, 0xFF, 0x08, 0x00, 0xFE, 0xFE}, frame)

	frame = encodeFrame(cmdSetFanSpeed, uint32Payload(7))
	assert.Equal(t, []byte{0xFF, 0xFF, 0x03, 0x04, 0x00, 0x00, 0x00, 0x07, 0xFE, 0xFE}, frame)
}

func TestLMAInitPayload(t *testing.T) {
	data := lmaInitPayload(52.0, 38.0, 10000)
	require.Len(t, data, 12)

	// 52.0 and 38.0 scale to 520 and 380.
	assert.Equal(t, []byte{0x00, 0x00, 0x02, 0x08}, data[0:4])
	assert.Equal(t, []byte{0x00, 0x00, 0x01, 0x7C}, data[4:8])
	assert.Equal(t, []byte{0x00, 0x00, 0x27, 0x10}, data[8:12])
}

func TestDecodeFrameRoundTrip(t *testing.T) {
	wire := encodeFrame(cmdLMAInit, lmaInitPayload(52.0, 38.0, 10000))

	frame, err := decodeFrame(bytes.NewReader(wire))
	require.NoError(t, err)
	assert.Equal(t, byte(cmdLMAInit), frame.Code)
	assert.Len(t, frame.Data, 12)
}

func TestDecodeFrameSkipsNoise(t *testing.T) {
	tests := []struct {
		name  string
		noise []byte
	}{
		{name: "plain noise", noise: []byte{0x00, 0xA5, 0x42}},
		{name: "noise ending in marker byte", noise: []byte{0x00, 0xA5, 0xFF}},
		{name: "noise ending in marker run", noise: []byte{0xA5, 0xFF, 0xFF, 0xFF}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wire := append(tt.noise, encodeFrame(statusBootComplete, nil)...)

			frame, err := decodeFrame(bytes.NewReader(wire))
			require.NoError(t, err)
			assert.Equal(t, byte(statusBootComplete), frame.Code)
			assert.Empty(t, frame.Data)
		})
	}
}

func TestDecodeFrameRejectsBadTrailer(t *testing.T) {
	wire := []byte{0xFF, 0xFF, 0x08, 0x00, 0xDE, 0xAD}

	_, err := decodeFrame(bytes.NewReader(wire))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid trailer")
}

func TestDecodeFrameTruncated(t *testing.T) {
	wire := []byte{0xFF, 0xFF, 0x07, 0x08, 0x00, 0x00}

	_, err := decodeFrame(bytes.NewReader(wire))
	assert.Error(t, err)
}

func TestDecodeTempReading(t *testing.T) {
	// 8-byte array sensor form: max 52.3, min 48.1.
	data := []byte{0x00, 0x00, 0x02, 0x0B, 0x00, 0x00, 0x01, 0xE1}

	maxC, minC, err := decodeTempReading(data)
	require.NoError(t, err)
	assert.InDelta(t, 52.3, maxC, 1e-9)
	assert.InDelta(t, 48.1, minC, 1e-9)

	// Legacy 2-byte form.
	maxC, minC, err = decodeTempReading([]byte{0x01, 0x7C})
	require.NoError(t, err)
	assert.InDelta(t, 38.0, maxC, 1e-9)
	assert.Equal(t, maxC, minC)

	_, _, err = decodeTempReading([]byte{0x01})
	assert.Error(t, err)
}
