package join

import "errors"

var (
	// ErrBadJoinName is returned when a join field's name lacks the
	// relation sigil ("_" prefix) marking it as computed, not persisted.
	ErrBadJoinName = errors.New("join field name must begin with _")

	// ErrUnknownDocType is returned when a join targets a document type
	// with no registered manager.
	ErrUnknownDocType = errors.New("unknown join target type")
)
