package oda

import (
	"bufio"
	"context"
	"net"
	"strings"
	"sync"
	"testing"

	"github.com/forcelab/eoltester/pkg/hw"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scpiStub is a minimal in-process instrument. Queries get canned replies,
// bare commands are recorded.
type scpiStub struct {
	listener net.Listener
	replies  map[string]string

	mu       sync.Mutex
	received []string
}

func newSCPIStub(t *testing.T, replies map[string]string) *scpiStub {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := &scpiStub{listener: ln, replies: replies}

	go s.serve()
	t.Cleanup(func() { _ = ln.Close() })

	return s
}

func (s *scpiStub) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}

		go s.handle(conn)
	}
}

func (s *scpiStub) handle(conn net.Conn) {
	defer conn.Close()

	r := bufio.NewReader(conn)

	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}

		cmd := strings.TrimSpace(line)

		s.mu.Lock()
		s.received = append(s.received, cmd)
		s.mu.Unlock()

		if reply, ok := s.replies[cmd]; ok {
			if _, err := conn.Write([]byte(reply + "\n")); err != nil {
				return
			}
		}
	}
}

func (s *scpiStub) commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, len(s.received))
	copy(out, s.received)

	return out
}

func (s *scpiStub) port() int {
	return s.listener.Addr().(*net.TCPAddr).Port
}

func testSupply(t *testing.T, stub *scpiStub) *PowerSupply {
	t.Helper()

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	p, err := NewPowerSupply(log, Config{Host: "127.0.0.1", Port: stub.port()})
	require.NoError(t, err)

	return p
}

func TestConnectIdentifies(t *testing.T) {
	stub := newSCPIStub(t, map[string]string{
		"*IDN?": "ODA Technologies,EX200-3.5,SN123,1.0",
	})

	p := testSupply(t, stub)
	require.NoError(t, p.Connect(context.Background()))

	assert.Equal(t, "ODA Technologies,EX200-3.5,SN123,1.0", p.Identity())
	assert.Contains(t, stub.commands(), "*CLS")

	require.NoError(t, p.Disconnect(context.Background()))
	assert.False(t, p.IsConnected())
}

func TestConnectRejectsEmptyIdentity(t *testing.T) {
	stub := newSCPIStub(t, map[string]string{"*IDN?": ""})

	p := testSupply(t, stub)
	err := p.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, hw.IsKind(err, hw.KindConnection))
	assert.False(t, p.IsConnected())
}

func TestStatusReportsConnection(t *testing.T) {
	stub := newSCPIStub(t, map[string]string{
		"*IDN?": "ODA Technologies,EX200-3.5,SN123,1.0",
	})

	p := testSupply(t, stub)

	st, err := p.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, hw.StateDisconnected, st.State)
	assert.Equal(t, "oda", st.Vendor)
	assert.False(t, st.Healthy)

	require.NoError(t, p.Connect(context.Background()))

	st, err = p.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, hw.StateReady, st.State)
	assert.True(t, st.Healthy)
	assert.Equal(t, "ODA Technologies,EX200-3.5,SN123,1.0", st.Detail["identity"])
	assert.False(t, st.ReadAt.IsZero())
}

func TestSetpointsAndOutput(t *testing.T) {
	stub := newSCPIStub(t, map[string]string{
		"*IDN?": "ODA,EX200,SN,1.0",
	})

	ctx := context.Background()
	p := testSupply(t, stub)
	require.NoError(t, p.Connect(ctx))

	require.NoError(t, p.SetVoltage(ctx, 18.0))
	require.NoError(t, p.SetCurrentLimit(ctx, 3.5))
	require.NoError(t, p.EnableOutput(ctx))
	require.NoError(t, p.DisableOutput(ctx))

	cmds := stub.commands()
	assert.Contains(t, cmds, "VOLT 18.00")
	assert.Contains(t, cmds, "CURR 3.50")
	assert.Contains(t, cmds, "OUTP ON")
	assert.Contains(t, cmds, "OUTP OFF")
}

func TestMeasureAll(t *testing.T) {
	stub := newSCPIStub(t, map[string]string{
		"*IDN?":     "ODA,EX200,SN,1.0",
		"MEAS:ALL?": "18.0012,1.4987",
	})

	ctx := context.Background()
	p := testSupply(t, stub)
	require.NoError(t, p.Connect(ctx))

	reading, err := p.MeasureAll(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 18.0012, reading.VoltageV, 1e-9)
	assert.InDelta(t, 1.4987, reading.CurrentA, 1e-9)
	assert.InDelta(t, 18.0012*1.4987, reading.PowerW, 1e-9)
}

func TestMeasureAllFallsBackToIndividualReads(t *testing.T) {
	stub := newSCPIStub(t, map[string]string{
		"*IDN?":      "ODA,EX200,SN,1.0",
		"MEAS:ALL?":  "garbage",
		"MEAS:VOLT?": "17.95",
		"MEAS:CURR?": "1.50",
	})

	ctx := context.Background()
	p := testSupply(t, stub)
	require.NoError(t, p.Connect(ctx))

	reading, err := p.MeasureAll(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 17.95, reading.VoltageV, 1e-9)
	assert.InDelta(t, 1.50, reading.CurrentA, 1e-9)
}

func TestOperationsRequireConnection(t *testing.T) {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	p, err := NewPowerSupply(log, Config{Host: "127.0.0.1", Port: 9})
	require.NoError(t, err)

	err = p.SetVoltage(context.Background(), 5.0)
	require.Error(t, err)
	assert.True(t, hw.IsKind(err, hw.KindConnection))
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "valid", cfg: Config{Host: "192.168.0.10", Port: 5000}},
		{name: "missing host", cfg: Config{Port: 5000}, wantErr: true},
		{name: "bad port", cfg: Config{Host: "x", Port: 0}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
