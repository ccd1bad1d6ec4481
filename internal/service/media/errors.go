package media

import "errors"

var (
	// ErrNoResult means the provider had nothing for the query.
	ErrNoResult = errors.New("media: no result")
	// ErrUnsupportedURL means the URL is not a media embed the provider can describe.
	ErrUnsupportedURL = errors.New("media: unsupported url")
	// ErrDisabled means no provider key is configured.
	ErrDisabled = errors.New("media: provider not configured")
)
