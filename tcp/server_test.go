package tcp

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vuuvv/vdissect/core"
	"github.com/vuuvv/vdissect/dissector"
)

func startServer(t *testing.T, handler Handler) *Server {
	reg := core.NewRegistry()
	require.NoError(t, dissector.Register(reg))

	s := NewServer(&ServerConfig{Address: "127.0.0.1:0"}, reg, core.SessionOptions{})
	s.MessageHandle(handler)
	require.NoError(t, s.Listen())
	go func() {
		_ = s.Serve()
	}()
	t.Cleanup(func() {
		assert.NoError(t, s.Stop())
	})
	return s
}

func TestServerDecodesStream(t *testing.T) {
	results := make(chan *Result, 16)
	s := startServer(t, func(result *Result) error {
		results <- result
		return nil
	})
	assert.Equal(t, DefaultReadBufferSize, s.config.ReadBufferSize)
	require.NotNil(t, s.Addr())

	conn, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)
	_, err = conn.Write([]byte{0x83, 0x01, 0x02, 0x03})
	require.NoError(t, err)

	// 数据可能被拆成多次读取, 直到看到完整的数组
	var decoded *core.Field
	timeout := time.After(5 * time.Second)
	for decoded == nil {
		select {
		case r := <-results:
			require.NotNil(t, r.Frame)
			assert.Equal(t, core.TCPPort(uint16(s.Addr().(*net.TCPAddr).Port)), r.Frame.Discriminator)
			if f := r.Tree.Find(dissector.Cbor); f != nil {
				decoded = f
			}
		case <-timeout:
			t.Fatal("no decoded frame")
		}
	}
	assert.Equal(t, "CBOR array(3)", decoded.Rendered)
	assert.Equal(t, 1, s.ConnectionCount())
	require.NoError(t, conn.Close())
}

func TestServerFlushesOnClose(t *testing.T) {
	results := make(chan *Result, 16)
	s := startServer(t, func(result *Result) error {
		results <- result
		return nil
	})

	conn, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)
	_, err = conn.Write([]byte{0x83, 0x01})
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	timeout := time.After(5 * time.Second)
	for {
		select {
		case r := <-results:
			if r.Frame != nil {
				continue
			}
			assert.Equal(t, "reassembly", r.Tree.Name)
			assert.True(t, r.Tree.HasSeverity(core.SeverityError))
			return
		case <-timeout:
			t.Fatal("pending message was not flushed")
		}
	}
}

func TestServeWithoutListen(t *testing.T) {
	s := NewServer(&ServerConfig{}, core.NewRegistry(), core.SessionOptions{})
	assert.Nil(t, s.Addr())
	assert.ErrorContains(t, s.Serve(), "not listening")
	assert.NoError(t, s.Stop())
}
