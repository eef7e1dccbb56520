package sequence

import (
	"testing"
	"time"

	"github.com/forcelab/eoltester/pkg/hw"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validParams() Parameters {
	return Parameters{
		Voltage:            18.0,
		CurrentLimit:       20.0,
		TemperatureList:    []float64{38.0, 52.0},
		StrokePositions:    []float64{100000.0, 170000.0},
		VelocityUmS:        200000.0,
		AccelUmS2:          1000000.0,
		RepeatCount:        1,
		StopOnFailure:      true,
		StandbyTemperature: 30.0,
		HoldTime:           3 * time.Second,
		AxisMaxUm:          250000.0,
	}
}

func TestParametersValidateAccepts(t *testing.T) {
	p := validParams()
	require.NoError(t, p.Validate())
}

func TestParametersApplyDefaults(t *testing.T) {
	p := Parameters{}
	p.ApplyDefaults()

	assert.Equal(t, 18.0, p.Voltage)
	assert.Equal(t, 20.0, p.CurrentLimit)
	assert.Equal(t, 1, p.RepeatCount)
	assert.Equal(t, 250000.0, p.AxisMaxUm)
	assert.Equal(t, 3*time.Second, p.HoldTime)
}

func TestParametersValidateRejects(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Parameters)
		message string
	}{
		{"voltage too high", func(p *Parameters) { p.Voltage = 40.0 }, "voltage"},
		{"voltage zero", func(p *Parameters) { p.Voltage = 0 }, "voltage"},
		{"current too high", func(p *Parameters) { p.CurrentLimit = 30.0 }, "current limit"},
		{"empty temperature list", func(p *Parameters) { p.TemperatureList = nil }, "temperature list is empty"},
		{"empty stroke list", func(p *Parameters) { p.StrokePositions = nil }, "stroke position list is empty"},
		{"temperature above range", func(p *Parameters) { p.TemperatureList = []float64{90.0} }, "outside"},
		{"temperature below standby", func(p *Parameters) { p.TemperatureList = []float64{28.0} }, "not above standby"},
		{"stroke outside axis", func(p *Parameters) { p.StrokePositions = []float64{300000.0} }, "stroke[0]"},
		{"velocity zero", func(p *Parameters) { p.VelocityUmS = 0 }, "velocity"},
		{"acceleration zero", func(p *Parameters) { p.AccelUmS2 = 0 }, "acceleration"},
		{"repeat below one", func(p *Parameters) { p.RepeatCount = 0 }, "repeat count"},
		{"hold time zero", func(p *Parameters) { p.HoldTime = 0 }, "hold time"},
		{"limit min above max", func(p *Parameters) {
			p.ForceLimits = []ForceLimit{{TemperatureC: 52.0, PositionUm: 170000.0, MinN: 30.0, MaxN: 10.0}}
		}, "force limit[0]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validParams()
			tt.mutate(&p)

			err := p.Validate()
			require.Error(t, err)
			assert.True(t, hw.IsKind(err, hw.KindValidation))
			assert.Contains(t, err.Error(), tt.message)
		})
	}
}

func TestParametersValidateCollectsAllViolations(t *testing.T) {
	p := Parameters{}

	err := p.Validate()
	require.Error(t, err)

	assert.Contains(t, err.Error(), "voltage")
	assert.Contains(t, err.Error(), "temperature list is empty")
	assert.Contains(t, err.Error(), "stroke position list is empty")
	assert.Contains(t, err.Error(), "repeat count")
}

func TestLimitFor(t *testing.T) {
	p := validParams()
	p.ForceLimits = []ForceLimit{
		{TemperatureC: 52.0, PositionUm: 170000.0, MinN: 5.0, MaxN: 25.0},
	}

	limit, ok := p.LimitFor(52.0, 170000.0)
	require.True(t, ok)
	assert.Equal(t, 5.0, limit.MinN)
	assert.Equal(t, 25.0, limit.MaxN)

	_, ok = p.LimitFor(38.0, 170000.0)
	assert.False(t, ok)
}

func TestMaxTemperature(t *testing.T) {
	p := validParams()
	p.TemperatureList = []float64{38.0, 66.0, 52.0}

	assert.Equal(t, 66.0, p.MaxTemperature())
}

func TestParseFloatList(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    []float64
		wantErr bool
	}{
		{"plain", "38.0,52.0,66.0", []float64{38.0, 52.0, 66.0}, false},
		{"spaces", " 100000 , 170000 ", []float64{100000.0, 170000.0}, false},
		{"single", "52", []float64{52.0}, false},
		{"empty entry", "38,,52", nil, true},
		{"garbage", "38,abc", nil, true},
		{"empty string", "", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFloatList(tt.raw)

			if tt.wantErr {
				require.Error(t, err)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewExecutionContext(t *testing.T) {
	ec, err := NewExecutionContext("DUT-0042", validParams())
	require.NoError(t, err)

	assert.NotEmpty(t, ec.ExecutionID)
	assert.Equal(t, "DUT-0042", ec.DUTSerial)

	other, err := NewExecutionContext("DUT-0042", validParams())
	require.NoError(t, err)
	assert.NotEqual(t, ec.ExecutionID, other.ExecutionID)
}

func TestNewExecutionContextRejectsInvalid(t *testing.T) {
	p := validParams()
	p.TemperatureList = nil

	_, err := NewExecutionContext("DUT-0042", p)
	require.Error(t, err)
	assert.True(t, hw.IsKind(err, hw.KindValidation))
}
