// Package uuid mints the time-ordered identifiers stamped on crawl runs and
// workers.
package uuid

import (
	"github.com/google/uuid"
)

// Generator mints UUIDv7 values, which sort by creation time. When the v7
// source fails it degrades to a random v4 rather than erroring.
type Generator struct {
	v7 func() (uuid.UUID, error)
}

// New returns a Generator backed by uuid.NewV7.
func New() *Generator {
	return &Generator{v7: uuid.NewV7}
}

// Next returns a fresh identifier.
func (g *Generator) Next() uuid.UUID {
	if id, err := g.v7(); err == nil {
		return id
	}
	return uuid.New()
}

// NextString returns Next in its canonical text form.
func (g *Generator) NextString() string {
	return g.Next().String()
}
