package connmgr

import (
	"encoding/json"

	"github.com/google/uuid"
)

// EventType names a Server -> Client frame's type field (§4.F / §6 duplex channel).
type EventType string

const (
	EventMessageCreated EventType = "message.created"
	EventPresence       EventType = "presence"
	EventRoomUpdated    EventType = "room.updated"
	EventServerShutdown EventType = "server.shutdown"
	EventPing           EventType = "ping"
)

// ClientFrame is the wire shape of a Client -> Server frame: subscription control plus the pong reply
// to server pings, per §6.
type ClientFrame struct {
	Type   string     `json:"type"`
	RoomID *uuid.UUID `json:"room_id,omitempty"`
}

// ClientFrameType names the recognized values of ClientFrame.Type.
const (
	ClientFrameSubscribe   = "subscribe"
	ClientFrameUnsubscribe = "unsubscribe"
	ClientFramePong        = "pong"
)

// serverFrame is the wire shape of every Server -> Client frame.
type serverFrame struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// encodeEvent marshals an event type and payload into the wire frame shape publish uses.
func encodeEvent(t EventType, payload any) ([]byte, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		raw = data
	}
	return json.Marshal(serverFrame{Type: t, Data: raw})
}

// pingFrame is a prebuilt, reusable ping frame; it carries no payload so it never needs re-marshaling.
var pingFrame = func() []byte {
	b, err := encodeEvent(EventPing, nil)
	if err != nil {
		panic(err)
	}
	return b
}()

// shutdownFrame is a prebuilt, reusable server.shutdown frame.
var shutdownFrame = func() []byte {
	b, err := encodeEvent(EventServerShutdown, nil)
	if err != nil {
		panic(err)
	}
	return b
}()
