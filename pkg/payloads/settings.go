package payloads

// SettingsPatch is a partial settings record: a scope only sets the
// knobs it cares about, leaving the rest for a lower-priority scope or
// the documented default to fill in.
type SettingsPatch struct {
	DeleteFirst       *bool       `json:"deleteFirst,omitempty"`
	ExportRetention    *int        `json:"exportRetention,omitempty"`
	SnapshotRetention  *int        `json:"snapshotRetention,omitempty"`
	ReportWhen         *ReportWhen `json:"reportWhen,omitempty"`
	VMTimeoutMS        *int64      `json:"vmTimeout,omitempty"`
}

// Settings is a fully merged settings record, the result of resolving a
// SettingsPatch chain down to the documented defaults.
type Settings struct {
	DeleteFirst       bool
	ExportRetention   int
	SnapshotRetention int
	ReportWhen        ReportWhen
	VMTimeoutMS       int64
}

// DefaultSettings are the documented fallback values used when no scope
// in the lookup chain defines a knob.
func DefaultSettings() Settings {
	return Settings{
		DeleteFirst:       false,
		ExportRetention:   0,
		SnapshotRetention: 0,
		ReportWhen:        ReportWhenFailure,
		VMTimeoutMS:       0,
	}
}
