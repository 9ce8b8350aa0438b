// Package events defines the payloads relayed on each topic and their wire
// encoding. Every payload carries its own discriminant so a subscriber that
// joins late can decode any single message on its own.
package events

import (
	"encoding/json"
	"fmt"
)

// PlayerEventName is the stream event name used on the player events topic.
const PlayerEventName = "player_event"

// Discriminants of the player state update variants.
const (
	KindLoginStateChange = "LoginStateChange"
	KindWorldChange      = "WorldChange"
)

// PlayerStateUpdate is one of LoginStateChange or WorldChange.
type PlayerStateUpdate interface {
	Kind() string
	isPlayerStateUpdate()
}

// LoginStateChange reports a player logging in or out.
type LoginStateChange struct {
	DatacenterID uint32 `json:"datacenter_id"`
	WorldID      uint32 `json:"world_id"`
	TerritoryID  uint16 `json:"territory_id"`
	LoggedIn     bool   `json:"logged_in"`
}

func (LoginStateChange) Kind() string        { return KindLoginStateChange }
func (LoginStateChange) isPlayerStateUpdate() {}

// WorldChange reports a player moving to another world.
type WorldChange struct {
	WorldID uint32 `json:"world_id"`
}

func (WorldChange) Kind() string        { return KindWorldChange }
func (WorldChange) isPlayerStateUpdate() {}

// PlayerEvent is a player state update together with the content id
// fingerprint subscribers use to match it against their own friend list.
type PlayerEvent struct {
	ContentIDHash string
	ContentIDSalt string
	Update        PlayerStateUpdate
}

type playerEventWire struct {
	ContentIDHash string          `json:"content_id_hash"`
	ContentIDSalt string          `json:"content_id_salt"`
	Update        json.RawMessage `json:"state_update_type"`
}

// MarshalJSON encodes the update as an object with an explicit "type" field.
func (e PlayerEvent) MarshalJSON() ([]byte, error) {
	var (
		update []byte
		err    error
	)
	switch u := e.Update.(type) {
	case LoginStateChange:
		update, err = json.Marshal(struct {
			Type string `json:"type"`
			LoginStateChange
		}{u.Kind(), u})
	case WorldChange:
		update, err = json.Marshal(struct {
			Type string `json:"type"`
			WorldChange
		}{u.Kind(), u})
	default:
		return nil, fmt.Errorf("unknown player state update %T", e.Update)
	}
	if err != nil {
		return nil, err
	}

	return json.Marshal(playerEventWire{
		ContentIDHash: e.ContentIDHash,
		ContentIDSalt: e.ContentIDSalt,
		Update:        update,
	})
}

// UnmarshalJSON decodes a message produced by MarshalJSON.
func (e *PlayerEvent) UnmarshalJSON(data []byte) error {
	var wire playerEventWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	var tag struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(wire.Update, &tag); err != nil {
		return err
	}

	var update PlayerStateUpdate
	switch tag.Type {
	case KindLoginStateChange:
		var u LoginStateChange
		if err := json.Unmarshal(wire.Update, &u); err != nil {
			return err
		}
		update = u
	case KindWorldChange:
		var u WorldChange
		if err := json.Unmarshal(wire.Update, &u); err != nil {
			return err
		}
		update = u
	default:
		return fmt.Errorf("unknown player state update type %q", tag.Type)
	}

	*e = PlayerEvent{
		ContentIDHash: wire.ContentIDHash,
		ContentIDSalt: wire.ContentIDSalt,
		Update:        update,
	}
	return nil
}
