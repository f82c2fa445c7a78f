package counterparty

import (
	"errors"
	"fmt"

	"github.com/rotisserie/eris"
)

// Kind classifies a processing failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindClassification
	KindLookup
	KindRepresentativeMismatch
	KindFormatViolation
	KindNormalizerUnavailable
	KindTemplateFill
	KindTransmission
	KindRecipientNotFound
	KindRegistryIO
)

func (k Kind) String() string {
	switch k {
	case KindClassification:
		return "ClassificationFailure"
	case KindLookup:
		return "LookupFailure"
	case KindRepresentativeMismatch:
		return "RepresentativeKindMismatch"
	case KindFormatViolation:
		return "FormatViolation"
	case KindNormalizerUnavailable:
		return "NormalizerUnavailable"
	case KindTemplateFill:
		return "TemplateFillFailure"
	case KindTransmission:
		return "TransmissionFailure"
	case KindRecipientNotFound:
		return "RecipientNotFound"
	case KindRegistryIO:
		return "RegistryIOFailure"
	default:
		return "Unknown"
	}
}

// Error is a failure attributed to one counterparty.
type Error struct {
	Kind  Kind
	TaxID string
	Err   error
}

func (e *Error) Error() string {
	if e.TaxID == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s [%s]: %v", e.Kind, e.TaxID, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError attaches a kind and tax ID to err. A nil err stays nil.
func NewError(kind Kind, taxID string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, TaxID: taxID, Err: err}
}

// Errorf builds a kinded error from a format string.
func Errorf(kind Kind, taxID, format string, args ...any) error {
	return &Error{Kind: kind, TaxID: taxID, Err: eris.Errorf(format, args...)}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
