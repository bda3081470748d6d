package payloads

// Mode is the export mode of a job.
type Mode string

const (
	ModeFull  Mode = "full"
	ModeDelta Mode = "delta"
)

// ReportWhen controls whether a run's outcome triggers an external
// notification.
type ReportWhen string

const (
	ReportWhenAlways  ReportWhen = "always"
	ReportWhenFailure ReportWhen = "failure"
	ReportWhenNever   ReportWhen = "never"
)

// VMPredicate decides whether a hypervisor VM record matches a job's vms
// selector. Evaluating the predicate combinator is the caller's
// responsibility; the job only carries it.
type VMPredicate func(vm VM) bool

// Job is immutable within a single run.
type Job struct {
	ID          string
	Mode        Mode
	Compression string // only meaningful when Mode == ModeFull; "" means none
	VMs         VMPredicate
	Remotes     []string // remote ids; empty means "no remote targets"
	SRs         []string // storage repository ids; empty means "no SR targets"

	// Settings maps a scope key to a partial settings record. "" is the
	// job default scope; any other key is a schedule id, target id, or
	// VM uuid.
	Settings map[string]SettingsPatch
}

// Schedule fires a Job at computed times. The cron expression is opaque
// to the core; it is only ever forwarded to external collaborators.
type Schedule struct {
	ID    string
	JobID string
	Cron  string
	Enabled bool
}
