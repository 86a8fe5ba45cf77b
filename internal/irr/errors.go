package irr

import "github.com/pkg/errors"

// Error kinds for the query engine. Callers classify with errors.Is;
// additional context is attached with errors.Wrap at the failure site.
var (
	// ErrNotFound is returned for a D reply. Non-fatal: the referenced
	// object simply does not exist in the selected sources.
	ErrNotFound = errors.New("irr: key not found")

	// ErrKeyConflict is returned for an E reply (multiple copies of the
	// key in one database). Fatal for the current resolution.
	ErrKeyConflict = errors.New("irr: multiple copies of key in one database")

	// ErrProtocol covers malformed framing and F replies. Indicates
	// server incompatibility, not retried.
	ErrProtocol = errors.New("irr: protocol error")

	// ErrTransport covers connection-level failures: refused, reset,
	// timeout, unexpected close.
	ErrTransport = errors.New("irr: transport failure")

	// ErrClosed is the terminal outcome of queries still outstanding
	// when the client is closed.
	ErrClosed = errors.New("irr: client closed")

	// ErrExpansionLimit is returned when a set expansion visits more
	// names than the configured cap allows.
	ErrExpansionLimit = errors.New("irr: set expansion limit exceeded")
)
