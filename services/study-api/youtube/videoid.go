package youtube

import "strings"

const videoIDMarker = "v="

// ExtractVideoID returns the video id carried by a watch URL, or "" when the
// reference has no "v=" marker. Only the first segment after the marker is
// used, and the value stops at the next query separator or fragment.
func ExtractVideoID(ref string) string {
	segments := strings.Split(ref, videoIDMarker)
	if len(segments) < 2 {
		return ""
	}
	id := segments[1]
	if i := strings.IndexAny(id, "&#"); i >= 0 {
		id = id[:i]
	}
	return strings.TrimSpace(id)
}
