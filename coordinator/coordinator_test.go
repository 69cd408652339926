package coordinator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildPairModeOmitsAnnounceStep(t *testing.T) {
	cid := [6]byte{0xD8, 0xA3, 0x01, 0x1B, 0x97, 0x80}
	full := Build(cid, false)
	paired := Build(cid, true)

	require.Len(t, paired, len(full)-1)
	for i := range paired {
		assert.Equal(t, full[i].Name, paired[i].Name)
	}
	assert.Equal(t, "af-data-request-announce", full[len(full)-1].Name)
}

func TestBuildScriptOrderAndCommands(t *testing.T) {
	cid := [6]byte{0xD8, 0xA3, 0x01, 0x1B, 0x97, 0x80}
	script := Build(cid, false)

	wantNames := []string{
		"write-config-startup-option",
		"sys-reset-req",
		"write-config-pan-id",
		"write-config-zdo-direct-cb",
		"write-config-channel-list",
		"write-config-security-mode",
		"af-register",
		"zb-start-request",
		"zb-get-device-info",
		"af-data-request-announce",
	}
	require.Len(t, script, len(wantNames))
	for i, name := range wantNames {
		assert.Equal(t, name, script[i].Name)
	}
	assert.Equal(t, uint16(0x2401), script[len(script)-1].Cmd)
	assert.Equal(t, uint16(0x4100), script[1].Cmd)
}

func TestBuildEmbedsReversedControllerID(t *testing.T) {
	cid := [6]byte{0xD8, 0xA3, 0x01, 0x1B, 0x97, 0x80}
	script := Build(cid, false)

	panID := script[2] // write-config-pan-id
	rcid := reverse(cid[:])
	require.GreaterOrEqual(t, len(panID.Payload), len(rcid))
	assert.Equal(t, rcid, panID.Payload[len(panID.Payload)-len(rcid):])
}

type fakeTransport struct {
	responses map[uint16][]byte
}

func (f *fakeTransport) Write(cmd uint16, payload []byte) error { return nil }

func (f *fakeTransport) ReadUntilIdle(window time.Duration) ([]byte, error) {
	return nil, nil
}

func TestRunReportsUnverifiedStepsWithoutAborting(t *testing.T) {
	cid := [6]byte{0xD8, 0xA3, 0x01, 0x1B, 0x97, 0x80}
	script := Build(cid, true)
	ft := &fakeTransport{}

	ok, err := Run(ft, script)
	require.NoError(t, err)
	assert.False(t, ok) // nothing ever matches, since the fake never responds
}

func TestReverseRoundTrips(t *testing.T) {
	b := []byte{1, 2, 3, 4, 5, 6}
	assert.Equal(t, b, reverse(reverse(b)))
}
