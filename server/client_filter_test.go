package server

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientFilter_Allow(t *testing.T) {
	type args struct {
		allow []string
		deny  []string
		input string
	}
	tests := []struct {
		name string
		args args
		want bool
	}{
		{
			name: "defaults",
			args: args{
				input: "192.168.1.1",
			},
			want: true,
		},
		{
			name: "just allow - matches",
			args: args{
				allow: []string{"192.168.1.1"},
				input: "192.168.1.1",
			},
			want: true,
		},
		{
			name: "just allow - not match",
			args: args{
				allow: []string{"192.168.1.1"},
				input: "192.168.1.2",
			},
			want: false,
		},
		{
			name: "just allow cidr - matches",
			args: args{
				allow: []string{"192.168.0.0/16"},
				input: "192.168.1.2",
			},
			want: true,
		},
		{
			name: "just deny - matches",
			args: args{
				deny:  []string{"192.168.1.1"},
				input: "192.168.1.1",
			},
			want: false,
		},
		{
			name: "just deny - not match",
			args: args{
				deny:  []string{"192.168.1.1"},
				input: "192.168.1.2",
			},
			want: true,
		},
		{
			name: "allow takes precedence over deny",
			args: args{
				allow: []string{"192.168.1.1"},
				deny:  []string{"192.168.1.1"},
				input: "192.168.1.1",
			},
			want: true,
		},
		{
			name: "mapped ipv6 unmapped before match",
			args: args{
				allow: []string{"127.0.0.1"},
				input: "::ffff:127.0.0.1",
			},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := NewClientFilter(tt.args.allow, tt.args.deny)
			require.NoError(t, err)

			addr := netip.AddrPortFrom(netip.MustParseAddr(tt.args.input), 54321)
			assert.Equal(t, tt.want, f.Allow(addr))
		})
	}
}

func TestNewClientFilter_InvalidEntries(t *testing.T) {
	_, err := NewClientFilter([]string{"not-an-ip"}, nil)
	require.Error(t, err)

	_, err = NewClientFilter(nil, []string{"10.0.0.0/99"})
	require.Error(t, err)
}
