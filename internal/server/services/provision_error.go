package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/osfrelay/internal/common"
)

// ProvisionError is returned by CreateExperiment for every failure.
// errors.Is matches both Kind and anything Err wraps.
type ProvisionError struct {
	// Kind is one of common.ErrorValidation, common.ErrOSFUnauthorized,
	// common.ErrOSFRequest, common.ErrOSFMalformedResponse,
	// common.ErrPersistence or common.ErrorInternal.
	Kind error
	Err  error
	// OrphanNodeID is the OSF node created before the failure, if any.
	OrphanNodeID string
	// Compensated is true once that node was deleted again.
	Compensated bool
}

func (e *ProvisionError) Error() string {
	msg := e.Kind.Error()
	if e.Err != nil {
		if em := e.Err.Error(); strings.HasPrefix(em, msg) {
			msg = em
		} else {
			msg = msg + ": " + em
		}
	}
	if e.OrphanNodeID != "" && !e.Compensated {
		msg = fmt.Sprintf("%s (OSF node %s was left behind)", msg, e.OrphanNodeID)
	}
	return "create experiment: " + msg
}

func (e *ProvisionError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// SafeToRetry reports whether repeating the request cannot leave a second
// OSF node behind and has a chance to succeed unchanged.
func (e *ProvisionError) SafeToRetry() bool {
	if e.OrphanNodeID != "" && !e.Compensated {
		return false
	}
	return errors.Is(e.Kind, common.ErrOSFRequest) || errors.Is(e.Kind, common.ErrPersistence)
}

// osfKind maps an OSF client error to a provisioning kind.
func osfKind(err error) error {
	switch {
	case errors.Is(err, common.ErrOSFUnauthorized):
		return common.ErrOSFUnauthorized
	case errors.Is(err, common.ErrOSFMalformedResponse):
		return common.ErrOSFMalformedResponse
	case errors.Is(err, common.ErrorValidation):
		return common.ErrorValidation
	default:
		return common.ErrOSFRequest
	}
}
