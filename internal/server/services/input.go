package services

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/dmitrijs2005/osfrelay/internal/common"
)

const (
	maxTitleLength          = 200
	maxComponentNameLength  = 200
	maxIdempotencyKeyLength = 255
)

// osfHostPrefixes are stripped from project references pasted as URLs.
var osfHostPrefixes = []string{"https://osf.io/", "http://osf.io/", "osf.io/"}

var projectReferencePattern = regexp.MustCompile(`^[A-Za-z0-9]+$`)

// CreateExperimentInput holds what the caller supplies to CreateExperiment.
type CreateExperimentInput struct {
	Title string
	// OSFProjectReference is the parent project's id, e.g. "ab12c".
	OSFProjectReference string
	// OSFComponentName becomes the title of the new OSF node.
	OSFComponentName string
	// IdempotencyKey is optional; repeating a key returns the first result.
	IdempotencyKey string
}

// Validate normalises the input in place and rejects unusable values with
// common.ErrorValidation.
func (in *CreateExperimentInput) Validate() error {
	in.Title = strings.TrimSpace(in.Title)
	in.OSFComponentName = strings.TrimSpace(in.OSFComponentName)
	in.IdempotencyKey = strings.TrimSpace(in.IdempotencyKey)

	ref := strings.TrimSpace(in.OSFProjectReference)
	for _, p := range osfHostPrefixes {
		if len(ref) >= len(p) && strings.EqualFold(ref[:len(p)], p) {
			ref = ref[len(p):]
			break
		}
	}
	in.OSFProjectReference = strings.Trim(ref, "/")

	switch {
	case in.Title == "":
		return fmt.Errorf("%w: title is required", common.ErrorValidation)
	case utf8.RuneCountInString(in.Title) > maxTitleLength:
		return fmt.Errorf("%w: title is longer than %d characters", common.ErrorValidation, maxTitleLength)
	case in.OSFProjectReference == "":
		return fmt.Errorf("%w: OSF project is required", common.ErrorValidation)
	case !projectReferencePattern.MatchString(in.OSFProjectReference):
		return fmt.Errorf("%w: OSF project %q is not a valid project id", common.ErrorValidation, in.OSFProjectReference)
	case in.OSFComponentName == "":
		return fmt.Errorf("%w: OSF component name is required", common.ErrorValidation)
	case utf8.RuneCountInString(in.OSFComponentName) > maxComponentNameLength:
		return fmt.Errorf("%w: OSF component name is longer than %d characters", common.ErrorValidation, maxComponentNameLength)
	case len(in.IdempotencyKey) > maxIdempotencyKeyLength:
		return fmt.Errorf("%w: idempotency key is longer than %d bytes", common.ErrorValidation, maxIdempotencyKeyLength)
	}
	return nil
}
