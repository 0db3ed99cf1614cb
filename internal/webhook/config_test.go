package webhook

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/conduit/internal/config"
)

func TestParseMaxBodySize(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{in: "", want: DefaultMaxBodySize},
		{in: "2048", want: 2048},
		{in: "4KB", want: 4096},
		{in: "2mb", want: 2 << 20},
		{in: " 1GB ", want: 1 << 30},
		{in: "0", wantErr: true},
		{in: "-1KB", wantErr: true},
		{in: "lots", wantErr: true},
		{in: "9999999999999GB", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseMaxBodySize(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFromConfig(t *testing.T) {
	cfg, err := FromConfig(&config.WebhooksConfig{
		Listen: "127.0.0.1:8081",
		Endpoints: []config.WebhookEndpointConf{
			{Path: "/hooks/a", Pipeline: "ms:convert", Secret: "s", MaxBodySize: "64KB"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8081", cfg.Listen)
	require.Len(t, cfg.Endpoints, 1)
	assert.Equal(t, int64(64<<10), cfg.Endpoints[0].MaxBodySize)
	assert.Equal(t, "ms:convert", cfg.Endpoints[0].Pipeline)

	_, err = FromConfig(nil)
	assert.Error(t, err)

	_, err = FromConfig(&config.WebhooksConfig{Endpoints: []config.WebhookEndpointConf{{Path: "/x", Pipeline: "a:b"}}})
	assert.ErrorContains(t, err, "no secret")

	_, err = FromConfig(&config.WebhooksConfig{Endpoints: []config.WebhookEndpointConf{{Path: "/x", Pipeline: "a:b", Secret: "s", MaxBodySize: "big"}}})
	assert.ErrorContains(t, err, "max_body_size")
}
