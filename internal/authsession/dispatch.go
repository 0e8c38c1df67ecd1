package authsession

import (
	"encoding/binary"
	"fmt"

	"github.com/silvematt/NECRO-MMO/internal/netmsg"
)

// handlerEntry is one row of the opcode dispatch table, mirroring
// AuthSession::InitHandlers's {status, packetSize, handler} tuple in the
// source.
type handlerEntry struct {
	status      SocketStatus
	headerSize  int
	hasVarSize  bool // varSize lives at byte offset 1, a u16, for both kinds that carry one
	handle      func(s *Session, frame *netmsg.Buffer) error
}

// handlerTable is a dense array indexed by opcode rather than a map,
// following spec.md §9's explicit preference for the small opcode space
// here (two kinds today).
var handlerTable = buildHandlerTable()

func buildHandlerTable() [256]*handlerEntry {
	var t [256]*handlerEntry

	t[OpLoginGatherInfo] = &handlerEntry{
		status:     StatusGatherInfo,
		headerSize: 7, // kind(1) + varSize(2) + verMaj(1) + verMin(1) + verRev(1) + usernameLen(1)
		hasVarSize: true,
		handle:     handleLoginGatherInfo,
	}
	t[OpLoginAttempt] = &handlerEntry{
		status:     StatusLoginAttempt,
		headerSize: 8, // kind(1) + varSize(2) + clientIvPrefix(4) + passwordLen(1)
		hasVarSize: true,
		handle:     handleLoginAttempt,
	}

	return t
}

// maxAcceptedFrameSize bounds a single packet's total size (fixed header +
// variable payload), the Go analogue of S_MAX_ACCEPTED_GATHER_INFO_SIZE.
// There is no outer wire envelope to borrow a ceiling from (see
// internal/netmsg's package doc): this is the protocol's own limit.
const maxAcceptedFrameSize = 4096

// dispatch runs the receive loop described in spec.md §4.6: while the
// accumulation buffer holds at least one complete frame, look up its
// handler by opcode, validate status and size, invoke it, and advance the
// read cursor. Returns an error (never nil on failure) the moment any
// check fails; the caller closes the connection without a reply.
func dispatch(s *Session, buf *netmsg.Buffer) error {
	for buf.Remaining() > 0 {
		raw := buf.UnreadBytes()
		cmd := raw[0]

		entry := handlerTable[cmd]
		if entry == nil {
			buf.Reset()
			return fmt.Errorf("authsession: unknown opcode 0x%02x", cmd)
		}
		if s.status != entry.status {
			return fmt.Errorf("authsession: opcode 0x%02x not valid in status %s", cmd, s.status)
		}
		if len(raw) < entry.headerSize {
			break // await more bytes
		}

		total := entry.headerSize
		if entry.hasVarSize {
			varSize := binary.LittleEndian.Uint16(raw[1:3])
			total += int(varSize)
			if total > maxAcceptedFrameSize {
				return fmt.Errorf("authsession: frame of %d bytes exceeds max %d", total, maxAcceptedFrameSize)
			}
		}
		if len(raw) < total {
			break // short receive
		}

		frame := netmsg.NewFromBytes(raw[:total])
		if err := entry.handle(s, frame); err != nil {
			return err
		}

		if err := buf.Discard(total); err != nil {
			return err
		}
	}
	return nil
}
