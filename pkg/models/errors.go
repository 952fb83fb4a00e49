package models

import "errors"

var (
	// ErrUnknownChannel is returned for track channels other than transform and trim
	ErrUnknownChannel = errors.New("unknown track channel")
	// ErrClipNotFound is returned when a clip id is not part of a snapshot
	ErrClipNotFound = errors.New("clip not found")
)
