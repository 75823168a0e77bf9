package cleaner

import (
	"fmt"

	"github.com/orthanc/postcleaner/resolver"
)

type Kind string

const (
	Success          Kind = "success"
	ResolutionFailed Kind = "resolution_failed"
	OwnershipDenied  Kind = "ownership_denied"
	RecordNotFound   Kind = "record_not_found"
	RemoteError      Kind = "remote_error"
)

// Stage names the remote call a RemoteError came from.
type Stage string

const (
	StageCheck     Stage = "check"
	StageOverwrite Stage = "overwrite"
	StageDelete    Stage = "delete"
)

type Outcome struct {
	Kind       Kind
	Identifier resolver.Identifier
	// Reason is set for ResolutionFailed.
	Reason string
	Stage  Stage
	Detail string
	// Overwritten reports that the record now holds placeholder content but
	// was not deleted.
	Overwritten bool
}

func (outcome Outcome) OK() bool {
	return outcome.Kind == Success
}

func (outcome Outcome) String() string {
	switch outcome.Kind {
	case ResolutionFailed:
		return fmt.Sprintf("%s: %s", outcome.Kind, outcome.Reason)
	case RemoteError:
		return fmt.Sprintf("%s at %s: %s", outcome.Kind, outcome.Stage, outcome.Detail)
	default:
		return string(outcome.Kind)
	}
}

func resolutionFailed(reason string) Outcome {
	return Outcome{Kind: ResolutionFailed, Reason: reason}
}

func remoteError(identifier resolver.Identifier, stage Stage, err error) Outcome {
	return Outcome{
		Kind:        RemoteError,
		Identifier:  identifier,
		Stage:       stage,
		Detail:      err.Error(),
		Overwritten: stage == StageDelete,
	}
}
