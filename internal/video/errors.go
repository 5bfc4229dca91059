package video

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownPlatform marks links no classification rule matched.
	ErrUnknownPlatform = errors.New("unknown media platform")
	// ErrUnsupportedPlatform marks platforms that are recognized but
	// deliberately not downloadable (youtube, eko interactive video).
	ErrUnsupportedPlatform = errors.New("unsupported media platform")
	// ErrNoConfig means the platform page held no embedded player
	// configuration envelope.
	ErrNoConfig = errors.New("no embedded media configuration found")
	// ErrBadConfig means the envelope was located but did not decode.
	ErrBadConfig = errors.New("media configuration is not valid JSON")
	// ErrNoCompatibleMedia means the configuration decoded but carried
	// no asset of a playable type.
	ErrNoCompatibleMedia = errors.New("no compatible media asset")
	// ErrRedirectLoop bounds redirector recursion.
	ErrRedirectLoop = errors.New("media redirect depth exceeded")
)

func resolveErr(link string, sentinel error) error {
	return fmt.Errorf("resolve %s: %w", link, sentinel)
}

// IsUnsupported reports whether the error is the deliberate
// unsupported-platform classification rather than a resolution failure.
func IsUnsupported(err error) bool {
	return errors.Is(err, ErrUnsupportedPlatform)
}
