package domain

import (
	"errors"
	"fmt"
)

// Kind classifies an operation failure for the boundary layer.
type Kind string

const (
	KindBadRequest       Kind = "BadRequest"
	KindUnknownTool      Kind = "UnknownTool"
	KindUnknownEntity    Kind = "UnknownEntity"
	KindInsufficientData Kind = "InsufficientData"
	KindBadTransition    Kind = "BadTransition"
	KindStoreUnavailable Kind = "StoreUnavailable"
	KindInternal         Kind = "InternalError"
)

type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

func E(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// KindOf extracts the Kind from err, defaulting to InternalError.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}
