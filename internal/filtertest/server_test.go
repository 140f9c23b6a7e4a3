package filtertest

import (
	"bufio"
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emersion/go-mtamilter/internal/wire"
)

func TestServerConversation(t *testing.T) {
	srv := &Server{Version: 6, Actions: 0x01, Events: noHeaderReply}
	endpoint := srv.Start(t)

	conn, err := net.Dial("tcp", strings.TrimPrefix(endpoint, "inet:"))
	require.NoError(t, err)
	defer conn.Close()
	r := bufio.NewReader(conn)

	send := func(code wire.Code, fields ...wire.Field) {
		t.Helper()
		_, err := conn.Write(wire.Encode(byte(code), fields...))
		require.NoError(t, err)
	}

	send(wire.CodeOptNeg, wire.Uint32(6), wire.Uint32(0x3F), wire.Uint32(0x3FF))
	f, err := wire.ReadFrame(r)
	require.NoError(t, err)
	assert.Equal(t, byte(wire.ReplyOptNeg), f.Code)
	fields, err := Decode(*f, wire.KindUint32, wire.KindUint32, wire.KindUint32)
	require.NoError(t, err)
	assert.Equal(t, []uint32{6, 0x01, noHeaderReply}, []uint32{fields[0].U32, fields[1].U32, fields[2].U32})

	// Macros and headers get no reply here, so the next frame answers EOH.
	send(wire.CodeMacro, wire.Byte(byte(wire.CodeHeader)), wire.Strings([]string{"i", "1"}))
	send(wire.CodeHeader, wire.String("Subject"), wire.String("x"))
	send(wire.CodeEOH)
	f, err = wire.ReadFrame(r)
	require.NoError(t, err)
	assert.Equal(t, byte(wire.ReplyContinue), f.Code)

	send(wire.CodeQuit)
	require.NoError(t, srv.Close())
	assert.Equal(t, "ODLNQ", srv.Codes())
	assert.Equal(t, 1, srv.Connections())
	assert.NoError(t, srv.Err())
	assert.Len(t, Only(srv.Frames(), wire.CodeHeader), 1)
}

func TestServerCutsIdleConnections(t *testing.T) {
	srv := &Server{Version: 6}
	endpoint := srv.Start(t)

	conn, err := net.Dial("tcp", strings.TrimPrefix(endpoint, "inet:"))
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write(wire.Encode(byte(wire.CodeOptNeg), wire.Uint32(6), wire.Uint32(0), wire.Uint32(0)))
	require.NoError(t, err)
	_, err = wire.ReadFrame(conn)
	require.NoError(t, err)

	// The client never says goodbye.
	require.NoError(t, srv.Close())
	assert.Equal(t, "O", srv.Codes())
}
