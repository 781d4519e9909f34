// Package traceid mints short opaque identifiers for log correlation.
//
// These are not the monotonic client/event ids the hub and agent bridge
// allocate — those are fixed-format uint64 counters per spec. traceid is
// only for tying together log lines from the same WebSocket connection.
package traceid

import (
	"fmt"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Generate returns a 16-character nanoid using an alphanumeric alphabet.
func Generate() string {
	id, err := gonanoid.Generate("ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789", 16)
	if err != nil {
		panic(fmt.Sprintf("generate trace id: %v", err))
	}
	return id
}
