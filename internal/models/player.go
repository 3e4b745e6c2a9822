package models

import "github.com/google/uuid"

// PlayerInfo is the stable identity of a participant, fixed when they join the lobby.
type PlayerInfo struct {
	ID     uuid.UUID `json:"id"`
	Name   string    `json:"name"`
	IsHost bool      `json:"isHost"`
}

// NewPlayerInfo creates an identity with a fresh random id.
func NewPlayerInfo(name string, isHost bool) PlayerInfo {
	return PlayerInfo{ID: uuid.New(), Name: name, IsHost: isHost}
}
