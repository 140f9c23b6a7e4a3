package milter

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emersion/go-mtamilter/internal/filtertest"
	"github.com/emersion/go-mtamilter/internal/wire"
)

func TestEventSkipMatrix(t *testing.T) {
	macros := Macros{{Name: "i", Value: "4F2A1"}}
	tests := []struct {
		name     string
		protocol string
		version  uint32
		events   uint32
		// frames expected after negotiation and connect, before quit
		want string
	}{
		{name: "not in protocol version", protocol: "2", version: 2, want: ""},
		{name: "filter opted out", protocol: "4", version: 4, events: uint32(OptNoData), want: "D"},
		{name: "sent", protocol: "4", version: 4, want: "DT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := &filtertest.Server{Version: tt.version, Events: tt.events}
			opts := testOptions(t)
			opts.Protocol = tt.protocol
			s := connectSession(t, srv, opts, nil)

			assert.Equal(t, "", s.Data(macros))
			assert.Equal(t, StateEnvelope, s.State())
			finish(t, s, srv)

			assert.Equal(t, "OC"+tt.want+"Q", srv.Codes())
		})
	}
}

func TestEventMacros(t *testing.T) {
	srv := &filtertest.Server{}
	s := NewClientWithOptions(newTestFilter(t, srv), testOptions(t)).Session(nil)
	defer s.Close()

	macros := Macros{{Name: "j", Value: "k"}, {Name: "{daemon_name}", Value: "smtpd"}}
	require.Equal(t, "", s.Connect("host", "10.0.0.1", "4321", FamilyInet, macros))
	finish(t, s, srv)

	require.Equal(t, "ODCQ", srv.Codes())
	macro := filtertest.Only(srv.Frames(), wire.CodeMacro)[0]
	got, err := filtertest.Decode(macro, wire.KindByte, wire.KindStrings)
	require.NoError(t, err)
	want := []wire.Field{
		wire.Byte(byte(wire.CodeConn)),
		wire.Strings([]string{"j", "k", "{daemon_name}", "smtpd"}),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("macro fields (-want +got):\n%s", diff)
	}
}

func TestEventConnectPayload(t *testing.T) {
	tests := []struct {
		name   string
		family ProtoFamily
		port   string
		kinds  []wire.Kind
		want   []wire.Field
	}{
		{
			name: "inet", family: FamilyInet, port: "25",
			kinds: []wire.Kind{wire.KindString, wire.KindByte, wire.KindUint16, wire.KindString},
			want:  []wire.Field{wire.String("client"), wire.Byte('4'), wire.Uint16(25), wire.String("192.0.2.1")},
		},
		{
			name: "inet6 bad port", family: FamilyInet6, port: "70000",
			kinds: []wire.Kind{wire.KindString, wire.KindByte, wire.KindUint16, wire.KindString},
			want:  []wire.Field{wire.String("client"), wire.Byte('6'), wire.Uint16(0), wire.String("192.0.2.1")},
		},
		{
			name: "inet junk port", family: FamilyInet, port: "2x5",
			kinds: []wire.Kind{wire.KindString, wire.KindByte, wire.KindUint16, wire.KindString},
			want:  []wire.Field{wire.String("client"), wire.Byte('4'), wire.Uint16(0), wire.String("192.0.2.1")},
		},
		{
			name: "unix", family: FamilyUnix, port: "25",
			kinds: []wire.Kind{wire.KindString, wire.KindByte, wire.KindUint16, wire.KindString},
			want:  []wire.Field{wire.String("client"), wire.Byte('L'), wire.Uint16(0), wire.String("192.0.2.1")},
		},
		{
			name: "unknown", family: FamilyUnknown, port: "25",
			kinds: []wire.Kind{wire.KindString, wire.KindByte},
			want:  []wire.Field{wire.String("client"), wire.Byte('U')},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := &filtertest.Server{}
			s := NewClientWithOptions(newTestFilter(t, srv), testOptions(t)).Session(nil)
			defer s.Close()

			require.Equal(t, "", s.Connect("client", "192.0.2.1", tt.port, tt.family, nil))
			finish(t, s, srv)

			conn := filtertest.Only(srv.Frames(), wire.CodeConn)
			require.Len(t, conn, 1)
			got, err := filtertest.Decode(conn[0], tt.kinds...)
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("connect fields (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEventEnvelopePayload(t *testing.T) {
	srv := &filtertest.Server{}
	s := connectSession(t, srv, testOptions(t), nil)

	assert.Equal(t, "", s.Helo("mx.example.org", nil))
	assert.Equal(t, "", s.Mail([]string{"<a@example.org>", "SIZE=100"}, nil))
	assert.Equal(t, "", s.Rcpt([]string{"<b@example.com>"}, nil))
	assert.Equal(t, "", s.Unknown("XFOO bar", nil))
	finish(t, s, srv)

	assert.Equal(t, "OCHMRUQ", srv.Codes())
	frames := srv.Frames()
	tests := []struct {
		frame wire.Frame
		kind  wire.Kind
		want  wire.Field
	}{
		{frames[2], wire.KindString, wire.String("mx.example.org")},
		{frames[3], wire.KindStrings, wire.Strings([]string{"<a@example.org>", "SIZE=100"})},
		{frames[4], wire.KindStrings, wire.Strings([]string{"<b@example.com>"})},
		{frames[5], wire.KindString, wire.String("XFOO bar")},
	}
	for _, tt := range tests {
		got, err := filtertest.Decode(tt.frame, tt.kind)
		require.NoError(t, err)
		if diff := cmp.Diff([]wire.Field{tt.want}, got); diff != "" {
			t.Errorf("%c fields (-want +got):\n%s", tt.frame.Code, diff)
		}
	}
}

func TestEventHeaderNoReply(t *testing.T) {
	srv := &filtertest.Server{Events: uint32(OptNoHeaderReply)}
	opts := testOptions(t)
	opts.Protocol = "4 no_header_reply"
	s := connectSession(t, srv, opts, nil)

	src := &sliceSource{headers: [][2]string{{"From", "a@example.org"}, {"Subject", "Hello"}}}
	assert.Equal(t, "", s.Message(src, nil))
	finish(t, s, srv)

	assert.Equal(t, "OCLLNEQ", srv.Codes())
}

func TestEventAfterCloseShortCircuits(t *testing.T) {
	srv := &filtertest.Server{}
	s := connectSession(t, srv, testOptions(t), nil)
	require.NoError(t, s.Close())

	// The state still says envelope but there is nothing to talk to.
	assert.Equal(t, "", s.Rcpt([]string{"<b@example.com>"}, nil))
	assert.False(t, s.Active())
	require.NoError(t, srv.Close())
	assert.Equal(t, "OC", srv.Codes())
}
