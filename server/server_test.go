package server

import (
	"testing"
	"time"

	"github.com/cyverse/cloudgw/config"
)

func TestUpstreamBudget(t *testing.T) {
	tests := map[string]struct {
		spec     config.Specification
		expected time.Duration
	}{
		"defaults": {
			config.Specification{GatewayTimeout: 30 * time.Second, GatewayRetries: 3, GatewayRetryInterval: time.Second},
			144 * time.Second,
		},
		"no retries": {
			config.Specification{GatewayTimeout: 10 * time.Second, GatewayRetryInterval: time.Second},
			10 * time.Second,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			if actual := upstreamBudget(&tc.spec); actual != tc.expected {
				t.Errorf("got %s, want %s", actual, tc.expected)
			}
		})
	}
}
