package holepunch

import (
	"errors"
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saintparish4/brpunch/pkg/packet"
	"github.com/saintparish4/brpunch/pkg/types"
)

var testMeta = packet.Meta{
	SrcMAC: net.HardwareAddr{0x02, 0x00, 0x00, 0xaa, 0xbb, 0xcc},
	DstMAC: net.HardwareAddr{0x02, 0x00, 0x00, 0x11, 0x22, 0x33},
	SrcIP:  net.IPv4(192, 168, 1, 20).To4(),
}

type recordingInjector struct {
	mu     sync.Mutex
	frames [][]byte
	err    error
}

func (r *recordingInjector) WritePacketData(data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.frames = append(r.frames, append([]byte(nil), data...))
	return nil
}

func TestPunchSendsOneFrame(t *testing.T) {
	inj := &recordingInjector{}
	p, err := NewPuncher(inj, testMeta, 7777, nil)
	require.NoError(t, err)

	require.NoError(t, p.Punch(types.Endpoint{IP: net.IPv4(5, 6, 7, 8), Port: 51000}))
	require.Len(t, inj.frames, 1)

	f, err := packet.Decode(inj.frames[0])
	require.NoError(t, err)
	assert.Equal(t, testMeta.SrcMAC, f.SrcMAC)
	assert.Equal(t, testMeta.DstMAC, f.DstMAC)
	assert.True(t, testMeta.SrcIP.Equal(f.SrcIP), "address is never spoofed")
	assert.True(t, net.IPv4(5, 6, 7, 8).Equal(f.DstIP))
	assert.Equal(t, uint16(7777), f.SrcPort)
	assert.Equal(t, uint16(51000), f.DstPort)
	assert.Equal(t, uint16(8), f.UDPLength)
}

func TestPunchWithSentinelPayload(t *testing.T) {
	inj := &recordingInjector{}
	p, err := NewPuncher(inj, testMeta, 7777, nil)
	require.NoError(t, err)
	p.Payload = []byte{0}

	require.NoError(t, p.Punch(types.Endpoint{IP: net.IPv4(5, 6, 7, 8), Port: 51000}))
	f, err := packet.Decode(inj.frames[0])
	require.NoError(t, err)
	assert.Equal(t, uint16(9), f.UDPLength)
}

func TestPunchRejectsBadDestination(t *testing.T) {
	inj := &recordingInjector{}
	p, err := NewPuncher(inj, testMeta, 7777, nil)
	require.NoError(t, err)

	bad := []types.Endpoint{
		{IP: nil, Port: 51000},
		{IP: net.ParseIP("2001:db8::1"), Port: 51000},
		{IP: net.IPv4zero, Port: 51000},
		{IP: net.IPv4(5, 6, 7, 8), Port: 0},
	}
	for _, dst := range bad {
		err := p.Punch(dst)
		assert.ErrorIs(t, err, types.ErrMalformedDirective, "%v", dst)
	}
	assert.Empty(t, inj.frames, "nothing is sent for a rejected destination")
}

func TestPunchWriteFailure(t *testing.T) {
	inj := &recordingInjector{err: errors.New("device gone")}
	p, err := NewPuncher(inj, testMeta, 7777, nil)
	require.NoError(t, err)

	err = p.Punch(types.Endpoint{IP: net.IPv4(5, 6, 7, 8), Port: 51000})
	assert.ErrorIs(t, err, types.ErrPacketSend)
	assert.Contains(t, err.Error(), "device gone")
}

func TestPunchConcurrent(t *testing.T) {
	inj := &recordingInjector{}
	p, err := NewPuncher(inj, testMeta, 7777, nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, p.Punch(types.Endpoint{IP: net.IPv4(5, 6, 7, 8), Port: uint16(50000 + i)}))
		}(i)
	}
	wg.Wait()
	assert.Len(t, inj.frames, 20)
}

func TestNewPuncherValidation(t *testing.T) {
	_, err := NewPuncher(nil, testMeta, 7777, nil)
	assert.Error(t, err)

	_, err = NewPuncher(&recordingInjector{}, packet.Meta{}, 7777, nil)
	assert.Error(t, err)

	_, err = NewPuncher(&recordingInjector{}, testMeta, 0, nil)
	assert.Error(t, err)
}
