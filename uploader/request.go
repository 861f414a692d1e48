package uploader

import (
	"github.com/Netflix/devdiag/payload"
)

// Request is a staged artifact ready for delivery. It is handed to the Router exactly once, and
// from then on the staged File belongs to whichever path the Router picks.
type Request struct {
	File           string
	Metadata       payload.Metadata
	DebugTag       string
	CollectionTime payload.CombinedTime
}
