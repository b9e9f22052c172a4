package entities

// FaultClassification is the outcome of classifying a failed guest call.
type FaultClassification int

const (
	// Benign errors are contained to the failing invocation.
	Benign FaultClassification = iota
	// Critical faults leave linear memory in an undefined state and
	// invalidate the generation they happened in.
	Critical
)

func (c FaultClassification) String() string {
	if c == Critical {
		return "critical"
	}
	return "benign"
}

// FaultKind describes what kind of failure was observed.
type FaultKind string

const (
	FaultApplication FaultKind = "application"
	FaultTrap        FaultKind = "trap"
	FaultAbort       FaultKind = "abort"
	FaultOutOfMemory FaultKind = "out_of_memory"
	FaultClosed      FaultKind = "closed"
	FaultReported    FaultKind = "reported"
	FaultPanic       FaultKind = "panic"
)

// FaultRecord is a transient description of one observed failure. It is
// consumed by the lifecycle controller and never persisted.
type FaultRecord struct {
	Kind           FaultKind           `json:"kind"`
	Message        string              `json:"message"`
	Classification FaultClassification `json:"classification"`
	Generation     Generation          `json:"generation"`
}

// IsCritical reports whether the record invalidates its generation.
func (r FaultRecord) IsCritical() bool {
	return r.Classification == Critical
}
