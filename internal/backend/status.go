package backend

import (
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/orrn/netprint/internal/core"
)

var ErrInvalidStatus = errors.New("invalid status response")

const (
	tsplStatusCommand     = "\x1b!?"
	tsplStatusResponseLen = 4
)

// The four status bytes of a TSPL printer: state, warning, error, media.
var tsplStateReasons = map[byte]core.BlockedReason{
	'F': core.BlockedBusy,
	'P': core.BlockedBusy,
	'L': core.BlockedBusy,
	'H': core.BlockedDoorOpen,
	'E': core.BlockedUnknown,
}

var tsplMediaReasons = map[byte]core.BlockedReason{
	'A': core.BlockedOutOfPaper,
	'B': core.BlockedOutOfInk,
	'C': core.BlockedOutOfPaper | core.BlockedOutOfInk,
	'D': core.BlockedServiceRequest,
	'`': core.BlockedDoorOpen,
}

// queryTSPLStatus asks a label printer for its status and returns the
// conditions currently keeping it from printing.
func queryTSPLStatus(conn net.Conn, timeout time.Duration) (core.BlockedReason, error) {
	_ = conn.SetDeadline(time.Now().Add(timeout))
	defer conn.SetDeadline(time.Time{})

	if _, err := conn.Write([]byte(tsplStatusCommand)); err != nil {
		return 0, fmt.Errorf("write status query: %w", err)
	}

	response := make([]byte, tsplStatusResponseLen)
	if _, err := io.ReadFull(conn, response); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidStatus, err)
	}
	return parseTSPLStatus(response), nil
}

func parseTSPLStatus(response []byte) core.BlockedReason {
	var reason core.BlockedReason
	if r, ok := tsplStateReasons[response[0]]; ok {
		reason |= r
	}
	if response[2] != '@' {
		reason |= core.BlockedServiceRequest
	}
	if r, ok := tsplMediaReasons[response[3]]; ok {
		reason |= r
	}
	return reason
}
