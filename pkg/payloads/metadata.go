package payloads

import (
	"encoding/json"
)

// MetadataVersion is stamped on every sidecar written by this core.
const MetadataVersion = "2.0.0"

// Metadata is the sidecar JSON describing one stored backup. Full mode
// populates XVA; delta mode populates VBDs/VDIs/VIFs/VHDs. Deserialization
// tolerates unknown top-level keys so older or newer sidecars still load.
type Metadata struct {
	JobID      string  `json:"jobId"`
	ScheduleID string  `json:"scheduleId"`
	Timestamp  int64   `json:"timestamp"`
	Version    string  `json:"version"`
	VM         VM      `json:"vm"`
	VMSnapshot Snapshot `json:"vmSnapshot"`
	Mode       Mode    `json:"mode"`

	// Full mode.
	XVA string `json:"xva,omitempty"`

	// Delta mode.
	VBDs []VBD            `json:"vbds,omitempty"`
	VDIs []VDI            `json:"vdis,omitempty"`
	VIFs []VIF            `json:"vifs,omitempty"`
	VHDs map[string]string `json:"vhds,omitempty"`

	// Filename is the sidecar's own path relative to the remote root,
	// set by the lister when it reads a sidecar off disk; never
	// serialized back out.
	Filename string `json:"-"`
}

// UnmarshalJSON tolerates unknown top-level keys by decoding into the
// named struct directly; Go's encoding/json already ignores unknown
// fields, this exists so future wire-shape changes can be intercepted
// in one place.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	type alias Metadata
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*m = Metadata(a)
	return nil
}

// Disks summarizes the payload files this metadata record describes,
// keyed by VDI id, for list responses.
func (m Metadata) Disks() map[string]string {
	if m.Mode == ModeFull {
		return map[string]string{"": m.XVA}
	}
	return m.VHDs
}
