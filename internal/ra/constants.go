package ra

import "time"

const (
	// ReplyDeadline is how long RequestCS waits for a single peer's
	// reply before pruning it.
	ReplyDeadline = 10 * time.Second

	// AutoRelease is how long the CS is held before a scheduler job
	// releases it automatically.
	AutoRelease = 10 * time.Second

	// MaxFanout bounds how many outgoing REQUEST dispatches run
	// concurrently during RequestCS.
	MaxFanout = 10
)
