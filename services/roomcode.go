package services

import (
	"crypto/rand"
	"fmt"
)

// roomCodeAlphabet leaves out I, O, 0 and 1.
const roomCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const (
	roomCodeLength      = 6
	maxRoomCodeAttempts = 16
)

// NewRoomCode returns a random code drawn from roomCodeAlphabet.
func NewRoomCode() (string, error) {
	buf := make([]byte, roomCodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate room code: %w", err)
	}
	out := make([]byte, roomCodeLength)
	for i := range out {
		out[i] = roomCodeAlphabet[int(buf[i])%len(roomCodeAlphabet)]
	}
	return string(out), nil
}
