package playback

import "errors"

var ErrStateNotFound = errors.New("playback state not found")
