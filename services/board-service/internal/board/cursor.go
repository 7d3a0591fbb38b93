package board

import (
	"encoding/base64"
	"encoding/json"
	"time"
)

// Cursor marks a position in the (startAt, id) ordering used by
// ListAppointments. It is opaque to clients.
type Cursor struct {
	StartAt time.Time
	ID      string
}

type cursorWire struct {
	StartAtMicro int64  `json:"s"`
	ID           string `json:"id"`
}

func (c Cursor) Encode() string {
	raw, _ := json.Marshal(cursorWire{
		StartAtMicro: c.StartAt.UTC().UnixMicro(),
		ID:           c.ID,
	})
	return base64.RawURLEncoding.EncodeToString(raw)
}

func DecodeCursor(s string) (Cursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return Cursor{}, InvalidArgument("malformed cursor")
	}
	var wire cursorWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return Cursor{}, InvalidArgument("malformed cursor")
	}
	if wire.ID == "" {
		return Cursor{}, InvalidArgument("malformed cursor")
	}
	return Cursor{
		StartAt: time.UnixMicro(wire.StartAtMicro).UTC(),
		ID:      wire.ID,
	}, nil
}
