package hypervisor

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vatesfr/xobackup/pkg/payloads"
)

func TestDecodeVM(t *testing.T) {
	raw := map[string]any{
		"uuid":          "8f1e2b2e-0000-0000-0000-000000000001",
		"name_label":    "web-01",
		"power_state":   "Running",
		"tags":          []any{"prod"},
		"is_a_snapshot": false,
	}

	var vm payloads.VM
	require.NoError(t, decode(raw, &vm))
	require.Equal(t, "web-01", vm.NameLabel)
	require.Equal(t, payloads.PowerStateRunning, vm.PowerState)
	require.True(t, vm.Tag("prod"))
	require.False(t, vm.IsASnapshot)
}

func TestDecodePreservesUnknownFields(t *testing.T) {
	raw := map[string]any{
		"uuid":               "8f1e2b2e-0000-0000-0000-000000000002",
		"name_label":         "db-01",
		"power_state":        "Halted",
		"memory_static_max":  float64(4294967296),
	}

	var vm payloads.VM
	require.NoError(t, decode(raw, &vm))
	require.Contains(t, vm.Extra, "memory_static_max")
}
