/*
Package settings resolves the merged per-VM / per-schedule / per-target /
job-default settings record for a run. There is no implicit global
state: every lookup takes the scope chain it should walk explicitly.
*/
package settings

import "github.com/vatesfr/xobackup/pkg/payloads"

// Get walks scopes in order and returns the patch from the first scope
// that defines it, falling back to the documented default.
func Get(patches map[string]payloads.SettingsPatch, scopes ...string) payloads.Settings {
	result := payloads.DefaultSettings()

	if v, ok := lookup(patches, scopes, func(p payloads.SettingsPatch) bool { return p.DeleteFirst != nil }); ok {
		result.DeleteFirst = *v.DeleteFirst
	}
	if v, ok := lookup(patches, scopes, func(p payloads.SettingsPatch) bool { return p.ExportRetention != nil }); ok {
		result.ExportRetention = *v.ExportRetention
	}
	if v, ok := lookup(patches, scopes, func(p payloads.SettingsPatch) bool { return p.SnapshotRetention != nil }); ok {
		result.SnapshotRetention = *v.SnapshotRetention
	}
	if v, ok := lookup(patches, scopes, func(p payloads.SettingsPatch) bool { return p.ReportWhen != nil }); ok {
		result.ReportWhen = *v.ReportWhen
	}
	if v, ok := lookup(patches, scopes, func(p payloads.SettingsPatch) bool { return p.VMTimeoutMS != nil }); ok {
		result.VMTimeoutMS = *v.VMTimeoutMS
	}

	return result
}

func lookup(patches map[string]payloads.SettingsPatch, scopes []string, defined func(payloads.SettingsPatch) bool) (payloads.SettingsPatch, bool) {
	for _, scope := range scopes {
		patch, ok := patches[scope]
		if !ok {
			continue
		}
		if defined(patch) {
			return patch, true
		}
	}
	return payloads.SettingsPatch{}, false
}
