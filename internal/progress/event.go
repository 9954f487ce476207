package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/realtime-booklist/internal/studio"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart Stage = "RUN_START"
	StageTargets  Stage = "TARGETS"
	StageSlot     Stage = "SLOT"
	StageImage    Stage = "IMAGE"
	StageExport   Stage = "EXPORT"
	StageRunDone  Stage = "RUN_DONE"
	StageRunError Stage = "RUN_ERROR"
)

// Reason is a coarse failure grouping for RUN_ERROR events.
type Reason string

// Supported failure reasons.
const (
	ReasonNetwork  Reason = "network_exhausted"
	ReasonBlocked  Reason = "pipeline_blocked"
	ReasonExport   Reason = "export_failure"
	ReasonNoKey    Reason = "no_api_key"
	ReasonNoTarget Reason = "no_targets"
	ReasonOther    Reason = "other"
)

// Event captures a single milestone of a production run.
type Event struct {
	// RunID uniquely identifies a run using the 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which milestone occurred.
	Stage Stage
	// Slot is the production slot index for SLOT and IMAGE events.
	Slot int
	// Subject is the book the event concerns, if any.
	Subject string
	// Status is the slot status after a SLOT transition.
	Status studio.TargetStatus
	// Count carries the number of targets (TARGETS) or archive bytes (EXPORT).
	Count int64
	// Reason classifies RUN_ERROR events.
	Reason Reason
	// Dur captures the run duration on completion.
	Dur time.Duration
	// Note lets emitters attach low-volume debug context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageTargets, StageExport, StageRunDone:
	case StageSlot:
		if e.Subject == "" || e.Status == "" {
			return errors.New("slot event requires subject and status")
		}
	case StageImage:
		if e.Subject == "" {
			return errors.New("image event requires subject")
		}
	case StageRunError:
		if e.Reason == "" {
			return errors.New("run error requires reason")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}

// Classify maps a run error onto a Reason.
func Classify(err error) Reason {
	switch {
	case errors.Is(err, studio.ErrNoAPIKey):
		return ReasonNoKey
	case errors.Is(err, studio.ErrNoTargets):
		return ReasonNoTarget
	case errors.Is(err, studio.ErrExportFailure):
		return ReasonExport
	case errors.Is(err, studio.ErrPipelineBlocked):
		return ReasonBlocked
	case errors.Is(err, studio.ErrNetworkExhausted):
		return ReasonNetwork
	default:
		return ReasonOther
	}
}
