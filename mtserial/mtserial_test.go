package mtserial

import (
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// bufCounter reports however many bytes are actually still sitting in buf,
// mirroring a real in_waiting/Available count that drains as Read consumes
// the stream.
type bufCounter struct {
	buf *bytes.Buffer
}

func (f *bufCounter) Available() (int, error) {
	return f.buf.Len(), nil
}

func TestPollableReadUntilIdleReturnsBufferedBytes(t *testing.T) {
	data := []byte{0xFE, 0x02, 0x24, 0x01, 0xAA, 0xBB, 0x00}
	rw := bytes.NewBuffer(data)
	p := NewPollable(rw, &bufCounter{buf: rw})

	out, err := p.ReadUntilIdle(200*time.Millisecond, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, data, out)
}

func TestPollableReadUntilIdleTimesOutWithNoData(t *testing.T) {
	rw := bytes.NewBuffer(nil)
	p := NewPollable(rw, &bufCounter{buf: rw})

	out, err := p.ReadUntilIdle(30*time.Millisecond, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestPollableWrite(t *testing.T) {
	var buf bytes.Buffer
	p := NewPollable(&buf, &bufCounter{buf: &buf})

	require.NoError(t, p.Write([]byte{1, 2, 3}))
	assert.Equal(t, []byte{1, 2, 3}, buf.Bytes())
}

func TestBlockingReadUntilIdleCollectsUntilGap(t *testing.T) {
	r, w := io.Pipe()
	b := NewBlocking(struct {
		io.Reader
		io.Writer
	}{r, io.Discard})

	go func() {
		w.Write([]byte{0xFE, 0x01})
		time.Sleep(20 * time.Millisecond)
		w.Write([]byte{0x24, 0x01, 0x00, 0x25})
	}()

	out, err := b.ReadUntilIdle(500*time.Millisecond, 100*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xFE, 0x01, 0x24, 0x01, 0x00, 0x25}, out)
}
