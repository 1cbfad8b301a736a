package relay

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// DestinationName derives the sink path for a source URL. The final path
// segment is used as-is (still percent-encoded) when it is non-empty. URLs that
// do not parse as absolute hierarchical URLs, or whose path ends in "/", get a
// synthesized "/file_<uuid>.dat" name instead, which is unique per call.
func DestinationName(rawURL string) string {
	if seg := lastSegment(rawURL); seg != "" {
		return "/" + seg
	}
	return fmt.Sprintf("/file_%s.dat", uuid.NewString())
}

func lastSegment(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || !u.IsAbs() || u.Opaque != "" {
		return ""
	}
	path := u.EscapedPath()
	return path[strings.LastIndexByte(path, '/')+1:]
}
