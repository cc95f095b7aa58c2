package game

import "errors"

var (
	ErrRoomNotFound = errors.New("room not found")
	ErrRoomFull     = errors.New("room is full (2 players only)")
	ErrNoVersions   = errors.New("no image versions found")
)
