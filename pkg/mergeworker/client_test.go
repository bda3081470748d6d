package mergeworker

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMergeParamsJSONShape(t *testing.T) {
	params := mergeParams{
		ParentRemoteID: "remote-a",
		ParentPath:     "vdis/job1/vdi1/2024.vhd",
		ChildRemoteID:  "remote-a",
		ChildPath:      "vdis/job1/vdi1/2025.vhd",
	}

	raw, err := json.Marshal(params)
	require.NoError(t, err)

	var decoded map[string]string
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Equal(t, "remote-a", decoded["parentRemoteId"])
	require.Equal(t, "vdis/job1/vdi1/2024.vhd", decoded["parentPath"])
	require.Equal(t, "remote-a", decoded["childRemoteId"])
	require.Equal(t, "vdis/job1/vdi1/2025.vhd", decoded["childPath"])
}
