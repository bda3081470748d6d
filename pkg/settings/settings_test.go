package settings_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vatesfr/xobackup/pkg/payloads"
	"github.com/vatesfr/xobackup/pkg/settings"
)

func ptr[T any](v T) *T { return &v }

func TestGetWalksScopesInOrder(t *testing.T) {
	patches := map[string]payloads.SettingsPatch{
		"vm-1":      {ExportRetention: ptr(5)},
		"schedule-1": {ExportRetention: ptr(2), DeleteFirst: ptr(true)},
		"":          {ExportRetention: ptr(1)},
	}

	got := settings.Get(patches, "vm-1", "schedule-1", "")
	require.Equal(t, 5, got.ExportRetention)
	require.True(t, got.DeleteFirst)
}

func TestGetFallsBackToDefaults(t *testing.T) {
	got := settings.Get(map[string]payloads.SettingsPatch{}, "vm-1", "")
	require.Equal(t, payloads.DefaultSettings(), got)
}

func TestGetSkipsScopesThatDoNotDefineKnob(t *testing.T) {
	patches := map[string]payloads.SettingsPatch{
		"vm-1": {DeleteFirst: ptr(true)},
		"":     {ExportRetention: ptr(3)},
	}

	got := settings.Get(patches, "vm-1", "")
	require.Equal(t, 3, got.ExportRetention)
	require.True(t, got.DeleteFirst)
}
