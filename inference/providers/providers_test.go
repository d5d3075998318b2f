package providers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBackend(t *testing.T) {
	tests := []struct {
		in      string
		want    Backend
		wantErr bool
	}{
		{"", CPUBackend, false},
		{"cpu", CPUBackend, false},
		{"CoreML", CoreMLBackend, false},
		{" cuda ", CUDABackend, false},
		{"openvino", OpenVINOBackend, false},
		{"tpu", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseBackend(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.IntraOpThreads = -1
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Backend = "quantum"
	assert.Error(t, cfg.Validate())
}

func TestOpenVINOOptions(t *testing.T) {
	cfg := Config{Backend: OpenVINOBackend, DeviceType: "GPU", IntraOpThreads: 4}
	assert.Equal(t, map[string]string{"device_type": "GPU", "num_of_threads": "4"}, cfg.openVINOOptions())
}
