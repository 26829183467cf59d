package server

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_routesImpl_FindBackendForServerAddress(t *testing.T) {
	type args struct {
		serverAddress string
	}
	type mapping struct {
		serverAddress string
		backend       string
	}
	tests := []struct {
		name    string
		mapping mapping
		args    args
		want    string
	}{
		{
			name: "typical",
			mapping: mapping{
				serverAddress: "typical.my.domain", backend: "backend:25565",
			},
			args: args{
				serverAddress: `typical.my.domain`,
			},
			want: "backend:25565",
		},
		{
			name: "forge",
			mapping: mapping{
				serverAddress: "forge.my.domain", backend: "backend:25566",
			},
			args: args{
				serverAddress: "forge.my.domain\x00FML2\x00",
			},
			want: "backend:25566",
		},
		{
			name: "tcpshield suffix",
			mapping: mapping{
				serverAddress: "shielded.my.domain", backend: "backend:25567",
			},
			args: args{
				serverAddress: "shielded.my.domain///198.51.100.7:12345",
			},
			want: "backend:25567",
		},
		{
			name: "fully qualified",
			mapping: mapping{
				serverAddress: "fqdn.my.domain", backend: "backend:25568",
			},
			args: args{
				serverAddress: "FQDN.my.domain.",
			},
			want: "backend:25568",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRoutes()

			r.CreateMapping(tt.mapping.serverAddress, tt.mapping.backend)

			got, server := r.FindBackendForServerAddress(context.Background(), tt.args.serverAddress)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.mapping.serverAddress, server)
		})
	}
}

func Test_routesImpl_DefaultRoute(t *testing.T) {
	r := NewRoutes()
	r.SetDefaultRoute("fallback:25565")

	got, _ := r.FindBackendForServerAddress(context.Background(), "unregistered.my.domain")
	assert.Equal(t, "fallback:25565", got)
	assert.Equal(t, "fallback:25565", r.GetDefaultRoute())
}

func Test_routesImpl_DeleteMapping(t *testing.T) {
	r := NewRoutes()
	r.CreateMapping("some.my.domain", "backend:25565")

	assert.True(t, r.DeleteMapping("some.my.domain"))
	assert.False(t, r.DeleteMapping("some.my.domain"))

	got, _ := r.FindBackendForServerAddress(context.Background(), "some.my.domain")
	assert.Equal(t, "", got)
}

func Test_routesImpl_SimplifySRV(t *testing.T) {
	r := NewRoutes()
	r.SimplifySRV(true)
	r.CreateMapping("srv.my.domain", "backend:25565")

	got, _ := r.FindBackendForServerAddress(context.Background(), "_minecraft._tcp.srv.my.domain")
	assert.Equal(t, "backend:25565", got)
}
