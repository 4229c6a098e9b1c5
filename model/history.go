package model

import "time"

// HistoryType represents the type of history entry
type HistoryType string

const (
	HistoryTypeBench  HistoryType = "bench"
	HistoryTypeVerify HistoryType = "verify"
)

// History represents a single recorded bootcheck run (bench or verify).
// It contains common fields shared by all run types.
type History struct {
	// Unique ID for this run (16 random bytes, hex encoded)
	ID string `json:"id"`
	// Type of run (bench or verify)
	Type HistoryType `json:"type"`
	// Timestamp when the run started
	Timestamp time.Time `json:"timestamp"`
	// Command-line arguments (including command name)
	Args []string `json:"args"`
	// Working directory where the command was run
	WorkDir string `json:"workdir"`
	// Process exit code of the run
	ExitCode int `json:"exit_code"`
	// Duration of the run
	Duration time.Duration `json:"duration"`
	// Git information, when run inside a repository
	Git *Git `json:"git,omitempty"`
	// Host the run executed on
	Host *Host `json:"host,omitempty"`
	// Engine settings used for every session
	Engine *Engine `json:"engine,omitempty"`
	// Artifacts generated during this run
	Artifacts []Artifact `json:"artifacts,omitempty"`

	// Type-specific data (only one should be populated based on Type)
	Bench  *BenchRun  `json:"bench,omitempty"`
	Verify *VerifyRun `json:"verify,omitempty"`
}

// Git contains git repository information
type Git struct {
	Commit string `json:"commit,omitempty"`
	Branch string `json:"branch,omitempty"`
	Repo   string `json:"repo,omitempty"`
}

// Host describes the machine that ran the sessions
type Host struct {
	Hostname string `json:"hostname,omitempty"`
	Kernel   string `json:"kernel,omitempty"`
	OS       string `json:"os,omitempty"`
	Arch     string `json:"arch,omitempty"`
}

// Engine contains the hypervisor settings that were used
type Engine struct {
	Name      string `json:"name"`
	Binary    string `json:"binary,omitempty"`
	Kernel    string `json:"kernel,omitempty"`
	MemsizeMB int    `json:"memsize_mb,omitempty"`
	SMP       int    `json:"smp,omitempty"`
	Append    string `json:"append,omitempty"`
}

// BenchRun contains benchmark-specific fields
type BenchRun struct {
	Warmup int           `json:"warmup"`
	Passes int           `json:"passes"`
	Mean   time.Duration `json:"mean"`
	StdDev time.Duration `json:"stddev"`
	Trials []Trial       `json:"trials,omitempty"`
}

// Trial contains the phase timings of one benchmark pass
type Trial struct {
	Index    int           `json:"index"`
	Warmup   bool          `json:"warmup,omitempty"`
	Create   time.Duration `json:"create"`
	AddDrive time.Duration `json:"add_drive"`
	Launch   time.Duration `json:"launch"`
	Close    time.Duration `json:"close"`
}

// VerifyRun contains verification-specific fields
type VerifyRun struct {
	Name     string        `json:"name"`
	Plan     string        `json:"plan"`
	Disk     string        `json:"disk,omitempty"`
	Verdict  string        `json:"verdict"`
	State    string        `json:"state"`
	Reason   string        `json:"reason,omitempty"`
	Error    string        `json:"error,omitempty"`
	Polls    int           `json:"polls"`
	BootTime time.Duration `json:"boot_time"`
}

// ArtifactType identifies the type of artifact
type ArtifactType uint8

const (
	ArtifactTypeTrialProfile ArtifactType = iota
	ArtifactTypeConsoleLog
	ArtifactTypeMetrics
	ArtifactTypeReport
)

func (t ArtifactType) String() string {
	switch t {
	case ArtifactTypeTrialProfile:
		return "profile"
	case ArtifactTypeConsoleLog:
		return "console"
	case ArtifactTypeMetrics:
		return "metrics"
	case ArtifactTypeReport:
		return "report"
	default:
		return "unknown"
	}
}

// Artifact represents a file generated during a run
type Artifact struct {
	Type ArtifactType `json:"type"`
	Size uint64       `json:"size"`
	File string       `json:"file"` // relative to run dir
}
