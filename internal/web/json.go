package web

import "github.com/sprinklerd/sprinklerd/internal/status"

// StatusJSON aliases status.StatusJSON so callers decoding the HTTP/ws
// payload don't need to import internal/status directly.
type StatusJSON = status.StatusJSON

func formatJSON(snap status.Snapshot) []byte {
	return status.FormatJSON(snap)
}
