package model

import "time"

type GroupParticipant struct {
	Address      string `json:"address"`
	IsAdmin      bool   `json:"isAdmin"`
	IsSuperAdmin bool   `json:"isSuperAdmin"`
}

type Group struct {
	Address      string             `json:"address"`
	Name         string             `json:"name"`
	Topic        string             `json:"topic,omitempty"`
	Owner        string             `json:"owner,omitempty"`
	CreatedAt    *time.Time         `json:"createdAt,omitempty"`
	Participants []GroupParticipant `json:"participants"`
}

type ParticipantAction string

const (
	ParticipantAdd     ParticipantAction = "add"
	ParticipantRemove  ParticipantAction = "remove"
	ParticipantPromote ParticipantAction = "promote"
	ParticipantDemote  ParticipantAction = "demote"
)

func (a ParticipantAction) Valid() bool {
	switch a {
	case ParticipantAdd, ParticipantRemove, ParticipantPromote, ParticipantDemote:
		return true
	}
	return false
}

type Presence string

const (
	PresenceAvailable   Presence = "available"
	PresenceUnavailable Presence = "unavailable"
)

// NumberCheck is the result of asking the network whether a phone is registered.
type NumberCheck struct {
	Query   string `json:"query"`
	Address string `json:"address,omitempty"`
	Exists  bool   `json:"exists"`
}
