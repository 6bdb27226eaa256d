package progress

import "github.com/vito/progrock"

// MsgUpdate wraps the raw status update from the tracer feed.
type MsgUpdate struct {
	Update *progrock.StatusUpdate
}

// MsgEnded is sent when the feed has been closed and drained.
type MsgEnded struct{}
