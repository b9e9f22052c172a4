package fault

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tetratelabs/wazero/sys"

	"github.com/reglet-dev/reglet-workers/domain/entities"
	werrors "github.com/reglet-dev/reglet-workers/domain/errors"
)

const (
	trapPrefix      = "wasm error: "
	recoveredSuffix = " (recovered by wazero)"
	stackTraceStart = "\nwasm stack trace:"
)

// Classify decides whether err, returned from a guest call, is critical.
// The returned record carries no generation; callers stamp it.
func Classify(err error) entities.FaultRecord {
	if err == nil {
		return entities.FaultRecord{Classification: entities.Benign, Kind: entities.FaultApplication}
	}

	var app *werrors.ApplicationError
	if errors.As(err, &app) {
		return benign(app.Detail.Message)
	}

	var crit *werrors.CriticalFaultError
	if errors.As(err, &crit) {
		return critical(crit.Kind, crit.Message)
	}

	if errors.Is(err, werrors.ErrFaultReported) {
		return critical(entities.FaultReported, firstLine(err.Error()))
	}

	var oom *werrors.OutOfMemoryError
	if errors.As(err, &oom) {
		return critical(entities.FaultOutOfMemory, oom.Error())
	}

	var mem *werrors.MemoryError
	if errors.As(err, &mem) {
		// A result outside linear memory means the guest heap is corrupt.
		return critical(entities.FaultTrap, mem.Error())
	}

	var exit *sys.ExitError
	if errors.As(err, &exit) {
		return critical(entities.FaultClosed, fmt.Sprintf("module closed with exit code %d", exit.ExitCode()))
	}

	if errors.Is(err, werrors.ErrModuleClosed) {
		return critical(entities.FaultClosed, werrors.ErrModuleClosed.Error())
	}

	msg := firstLine(err.Error())
	if i := strings.Index(msg, trapPrefix); i >= 0 {
		trap := msg[i+len(trapPrefix):]
		// Guests built with panic=abort lower every abort to unreachable.
		if trap == "unreachable" {
			return critical(entities.FaultAbort, trap)
		}
		return critical(entities.FaultTrap, trap)
	}

	if strings.HasSuffix(msg, recoveredSuffix) {
		return critical(entities.FaultPanic, strings.TrimSuffix(msg, recoveredSuffix))
	}

	return benign(msg)
}

// IsCritical reports whether err is classified critical.
func IsCritical(err error) bool {
	return Classify(err).IsCritical()
}

func benign(msg string) entities.FaultRecord {
	return entities.FaultRecord{Classification: entities.Benign, Kind: entities.FaultApplication, Message: msg}
}

func critical(kind entities.FaultKind, msg string) entities.FaultRecord {
	return entities.FaultRecord{Classification: entities.Critical, Kind: kind, Message: msg}
}

// firstLine strips the wasm stack trace wazero appends to trap errors.
func firstLine(s string) string {
	if i := strings.Index(s, stackTraceStart); i >= 0 {
		return s[:i]
	}
	return s
}
