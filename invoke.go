package speed

import (
	"strings"
	"sync/atomic"

	"github.com/SharonIV0x86/SPEED/internal/frame"
)

// invocationSep separates the method name from its arguments, and each
// argument from the next, in an INVOKE_METHOD frame's payload. The
// dynamic-dispatch table has no cross-process reflection (spec §9 design
// note "no reflection required"), so the wire encoding is deliberately a
// flat delimited string rather than a serialized argument list.
const invocationSep = "\x1f"

// encodeInvocation packs a method name and its arguments into one
// INVOKE_METHOD payload.
func encodeInvocation(method string, args []string) []byte {
	parts := append([]string{method}, args...)
	return []byte(strings.Join(parts, invocationSep))
}

// decodeInvocation is the inverse of encodeInvocation.
func decodeInvocation(payload []byte) (method string, args []string) {
	parts := strings.Split(string(payload), invocationSep)
	if len(parts) == 0 {
		return "", nil
	}
	return parts[0], parts[1:]
}

// InvokeRemote sends an INVOKE_METHOD frame to receiver naming method and
// args, for the peer's local dispatch table to look up on arrival (spec
// §4.F.ii "INVOKE_METHOD"). The local dynamic-dispatch table installed via
// RegisterMethod has no direct remote-call counterpart otherwise — this is
// the wire path that exercises it across processes.
func (c *Coordinator) InvokeRemote(receiver, method string, args []string) error {
	if atomic.LoadInt32(&c.killed) == 1 {
		return ErrKilled
	}
	if err := c.checkSendPreconditions(receiver); err != nil {
		return err
	}
	return c.sendFrame(receiver, frame.TypeINVOKEMETHOD, encodeInvocation(method, args))
}
