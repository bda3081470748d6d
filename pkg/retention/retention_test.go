package retention_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vatesfr/xobackup/pkg/retention"
)

func TestOldEntries(t *testing.T) {
	sorted := []int{1, 2, 3, 4}

	require.Equal(t, []int{1, 2}, retention.OldEntries(3, sorted))
	require.Equal(t, []int{1, 2, 3, 4}, retention.OldEntries(1, sorted))
	require.Nil(t, retention.OldEntries(10, sorted))
	require.Nil(t, retention.OldEntries(0, sorted))
}

func TestOldEntriesIdempotent(t *testing.T) {
	sorted := []int{1, 2, 3}
	first := retention.OldEntries(2, sorted)
	remaining := sorted[len(first):]
	second := retention.OldEntries(2, remaining)
	require.Empty(t, second)
}
