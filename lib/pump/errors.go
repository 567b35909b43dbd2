package pump

import "github.com/samber/oops"

var (
	// ErrSetupFailed reports that the initial read or write could not be
	// issued; it reaches the caller through the completion callback like
	// any mid-transfer failure.
	ErrSetupFailed = oops.Errorf("pump: tunnel setup failed")
	// ErrPeerForcedClose reports teardown triggered by the paired tunnel's
	// termination rather than by this tunnel's own I/O.
	ErrPeerForcedClose = oops.Errorf("pump: closed by paired tunnel")
	// ErrShortRead reports end-of-stream before the byte budget was
	// reached; surfaced only when Config.ErrorOnShortRead is set.
	ErrShortRead = oops.Errorf("pump: source ended before byte budget")
	// ErrTransfer is the generic mid-transfer failure used when an
	// endpoint delivers an error event without a cause.
	ErrTransfer = oops.Errorf("pump: transfer failed")
)
