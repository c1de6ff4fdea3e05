package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrUnsupportedVersion = errors.New("unsupported version")
	ErrUnknownTag         = errors.New("unknown tag")
	ErrTruncated          = errors.New("truncated payload")
	ErrTrailingBytes      = errors.New("trailing bytes")
	ErrInvalidValue       = errors.New("invalid value")
	ErrTooManyEntries     = errors.New("too many entries")
)

// ProtocolError describes a single undecodable message. Callers discard the
// message and carry on.
type ProtocolError struct {
	Tag Tag
	Err error
}

func (e *ProtocolError) Error() string {
	if e.Tag == 0 {
		return fmt.Sprintf("protocol error: %v", e.Err)
	}
	return fmt.Sprintf("protocol error (tag %s): %v", e.Tag, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

func protocolErr(tag Tag, err error) error {
	return &ProtocolError{Tag: tag, Err: err}
}
