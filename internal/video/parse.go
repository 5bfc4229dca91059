package video

import (
	"fmt"
	"strings"
	"time"
)

// slice returns the text strictly between the first occurrence of from
// and the next occurrence of to after it. Platform pages embed their
// player configuration between known markers ("var config = {" ... "};"),
// and this is how it gets carved out.
func slice(s, from, to string) (string, bool) {
	i := strings.Index(s, from)
	if i < 0 {
		return "", false
	}
	rest := s[i+len(from):]
	j := strings.Index(rest, to)
	if j < 0 {
		return "", false
	}
	return rest[:j], true
}

// vttTimestamp renders a second offset as a WebVTT cue time,
// HH:MM:SS.mmm.
func vttTimestamp(seconds float64) string {
	d := time.Duration(seconds * float64(time.Second))
	h := int(d / time.Hour)
	d -= time.Duration(h) * time.Hour
	m := int(d / time.Minute)
	d -= time.Duration(m) * time.Minute
	return fmt.Sprintf("%02d:%02d:%06.3f", h, m, d.Seconds())
}
