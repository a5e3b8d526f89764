package wire

import (
	"errors"
	"fmt"
)

var ErrInvalidName = errors.New("invalid domain name")

// MalformedPacketError is returned by Decode for any packet that cannot be
// parsed. Offset is where in the packet parsing gave up.
type MalformedPacketError struct {
	Offset int
	Reason string
}

func (e MalformedPacketError) Error() string {
	return fmt.Sprintf("malformed dns packet at offset %d: %s", e.Offset, e.Reason)
}

func malformed(offset int, format string, args ...any) error {
	return MalformedPacketError{Offset: offset, Reason: fmt.Sprintf(format, args...)}
}
