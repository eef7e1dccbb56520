package lma

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// The controller frames every exchange as STX CODE LEN DATA ETX. CODE is a
// command going out and a status coming back; an acknowledgement echoes the
// command code.
var (
	stx = []byte{0xFF, 0xFF}
	etx = []byte{0xFE, 0xFE}
)

// Command codes.
const (
	cmdEnterTestMode      = 0x01
	cmdSetUpperTemp       = 0x02
	cmdSetFanSpeed        = 0x03
	cmdLMAInit            = 0x04
	cmdSetOperatingTemp   = 0x05
	cmdRequestTemp        = 0x07
	cmdStrokeInitComplete = 0x08
)

// Unsolicited status codes.
const (
	statusOperatingTempOK = 0x0B
	statusStandbyTempOK   = 0x0C
	statusBootComplete    = 0x30
)

// Temperatures travel as integers scaled by 10.
const tempScale = 10

const maxDataLen = 255

// Frame is one decoded controller message.
type Frame struct {
	Code byte
	Data []byte
}

// encodeFrame serializes a frame for the wire.
func encodeFrame(code byte, data []byte) []byte {
	buf := make([]byte, 0, len(stx)+2+len(data)+len(etx))
	buf = append(buf, stx...)
	buf = append(buf, code, byte(len(data)))
	buf = append(buf, data...)
	buf = append(buf, etx...)

	return buf
}

// decodeFrame reads one frame, scanning past line noise until a valid STX
// is found.
func decodeFrame(r io.Reader) (*Frame, error) {
	code, err := syncSTX(r)
	if err != nil {
		return nil, err
	}

	header := make([]byte, 1)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}

	dataLen := int(header[0])

	data := make([]byte, dataLen)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("reading %d data bytes: %w", dataLen, err)
	}

	trailer := make([]byte, len(etx))
	if _, err := io.ReadFull(r, trailer); err != nil {
		return nil, fmt.Errorf("reading trailer: %w", err)
	}

	if !bytes.Equal(trailer, etx) {
		return nil, fmt.Errorf("invalid trailer % X, want % X", trailer, etx)
	}

	return &Frame{Code: code, Data: data}, nil
}

// syncSTX consumes bytes until the two-byte start marker is seen and
// returns the code byte that follows. A run of 0xFF longer than the
// marker is still the marker: noise ending in 0xFF must not consume the
// frame's own marker bytes. No command or status code is 0xFF.
func syncSTX(r io.Reader) (byte, error) {
	var (
		prev   byte
		synced bool
	)

	buf := make([]byte, 1)

	for scanned := 0; scanned <= maxDataLen+8; scanned++ {
		if _, err := io.ReadFull(r, buf); err != nil {
			return 0, fmt.Errorf("scanning for frame start: %w", err)
		}

		if synced {
			if buf[0] != stx[0] {
				return buf[0], nil
			}

			continue
		}

		if prev == stx[0] && buf[0] == stx[1] {
			synced = true

			continue
		}

		prev = buf[0]
	}

	return 0, fmt.Errorf("no frame start within %d bytes", maxDataLen+8)
}

// encodeTemp scales a temperature for the wire.
func encodeTemp(celsius float64) uint32 {
	return uint32(celsius * tempScale)
}

// lmaInitPayload packs operating temperature, standby temperature and hold
// time into the 12-byte init payload.
func lmaInitPayload(opTemp, standbyTemp float64, holdMs uint32) []byte {
	data := make([]byte, 12)
	binary.BigEndian.PutUint32(data[0:4], encodeTemp(opTemp))
	binary.BigEndian.PutUint32(data[4:8], encodeTemp(standbyTemp))
	binary.BigEndian.PutUint32(data[8:12], holdMs)

	return data
}

// decodeTempReading unpacks a temperature response. Eight bytes carry the
// array sensor max and min; the two-byte legacy form carries one value.
func decodeTempReading(data []byte) (maxC, minC float64, err error) {
	switch {
	case len(data) >= 8:
		maxRaw := binary.BigEndian.Uint32(data[0:4])
		minRaw := binary.BigEndian.Uint32(data[4:8])

		return float64(maxRaw) / tempScale, float64(minRaw) / tempScale, nil
	case len(data) >= 2:
		raw := int16(binary.BigEndian.Uint16(data[0:2]))
		t := float64(raw) / tempScale

		return t, t, nil
	default:
		return 0, 0, fmt.Errorf("temperature payload too short: %d bytes", len(data))
	}
}

// uint32Payload packs a single big-endian value, the common payload shape
// for mode, fan and temperature setpoint commands.
func uint32Payload(v uint32) []byte {
	data := make([]byte, 4)
	binary.BigEndian.PutUint32(data, v)

	return data
}
