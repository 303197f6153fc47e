package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnvOrDefault(t *testing.T) {
	t.Setenv("HOOK_TEST_PROXY_URL", "http://proxy:9000/api/v1")
	t.Setenv("HOOK_TEST_EMPTY", "")

	assert.Equal(t, "http://proxy:9000/api/v1", EnvOrDefault("HOOK_TEST_PROXY_URL", "fallback"))
	assert.Equal(t, "fallback", EnvOrDefault("HOOK_TEST_EMPTY", "fallback"))
	assert.Equal(t, "fallback", EnvOrDefault("HOOK_TEST_NOT_SET_ANYWHERE", "fallback"))
}

func TestEnvBoolOrDefault(t *testing.T) {
	tests := []struct {
		value    string
		fallback bool
		want     bool
	}{
		{"true", false, true},
		{"0", true, false},
		{"maybe", true, true},
		{"", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Setenv("HOOK_TEST_STREAM", tt.value)
			assert.Equal(t, tt.want, EnvBoolOrDefault("HOOK_TEST_STREAM", tt.fallback))
		})
	}
}
