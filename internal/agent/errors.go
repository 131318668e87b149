package agent

import "errors"

// ErrCancelled is raised by the cancellation guard when a session's
// mailbox holds a signal. The runtime finalizes a notice event and the
// HTTP facade closes the stream cleanly.
var ErrCancelled = errors.New("run cancelled")
