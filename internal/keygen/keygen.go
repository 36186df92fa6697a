// Package keygen produces random executor keys.
package keygen

import (
	"crypto/rand"
	"fmt"
	"io"
)

// Alphabet is the character set keys are drawn from.
const Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// DefaultLength is the key length used when none is configured.
const DefaultLength = 32

// maxByte is the largest multiple of len(Alphabet) that fits in a byte.
// Bytes at or above it are rejected so every character is equally likely.
const maxByte = 256 - (256 % len(Alphabet))

// Generator draws fixed-length keys from Alphabet.
type Generator struct {
	length int
	reader io.Reader
}

// New returns a Generator backed by crypto/rand.
func New(length int) *Generator {
	if length <= 0 {
		length = DefaultLength
	}
	return &Generator{length: length, reader: rand.Reader}
}

// Length returns the number of characters in generated keys.
func (g *Generator) Length() int {
	return g.length
}

// Generate returns a new random key.
func (g *Generator) Generate() (string, error) {
	out := make([]byte, 0, g.length)
	buf := make([]byte, g.length)
	for len(out) < g.length {
		if _, err := io.ReadFull(g.reader, buf); err != nil {
			return "", fmt.Errorf("failed to read random bytes: %w", err)
		}
		for _, b := range buf {
			if int(b) >= maxByte {
				continue
			}
			out = append(out, Alphabet[int(b)%len(Alphabet)])
			if len(out) == g.length {
				break
			}
		}
	}
	return string(out), nil
}
