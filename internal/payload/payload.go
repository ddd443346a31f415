// Package payload generates randomized request bodies.
package payload

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/torosent/stampede/internal/config"
)

const (
	letters     = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	digits      = "0123456789"
	phoneDigits = 10
)

// Record is the structured body sent by "record" endpoints.
type Record struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Phone  string `json:"phone"`
	Number int    `json:"number"`
}

// Generator produces bodies within configured bounds. It holds no mutable
// state and may be shared between goroutines.
type Generator struct {
	bounds config.DataConfig
}

// New returns a Generator for the given bounds. Inverted or overly wide
// ranges and a non-positive name length are rejected.
func New(bounds config.DataConfig) (*Generator, error) {
	if bounds.MinID > bounds.MaxID {
		return nil, fmt.Errorf("payload: min_id %d > max_id %d", bounds.MinID, bounds.MaxID)
	}
	if !config.IDRangeFits(bounds.MinID, bounds.MaxID) {
		return nil, fmt.Errorf("payload: id range [%d, %d] is too wide", bounds.MinID, bounds.MaxID)
	}
	if bounds.MinNumber > bounds.MaxNumber {
		return nil, fmt.Errorf("payload: min_number %d > max_number %d", bounds.MinNumber, bounds.MaxNumber)
	}
	if !config.NumberRangeFits(bounds.MinNumber, bounds.MaxNumber) {
		return nil, fmt.Errorf("payload: number range [%d, %d] is too wide", bounds.MinNumber, bounds.MaxNumber)
	}
	if bounds.NameLength < 1 {
		return nil, fmt.Errorf("payload: name_length must be >= 1, got %d", bounds.NameLength)
	}
	return &Generator{bounds: bounds}, nil
}

// Record returns a freshly randomized record.
func (g *Generator) Record() Record {
	return Record{
		ID:     g.bounds.MinID + rand.Int64N(g.bounds.MaxID-g.bounds.MinID+1),
		Name:   randomString(letters, g.bounds.NameLength),
		Phone:  g.bounds.PhonePrefix + randomString(digits, phoneDigits),
		Number: g.bounds.MinNumber + rand.IntN(g.bounds.MaxNumber-g.bounds.MinNumber+1),
	}
}

// Generate returns a record for kind. The boolean is false for kinds that
// carry no body.
func (g *Generator) Generate(kind config.PayloadKind) (Record, bool) {
	if kind != config.PayloadRecord {
		return Record{}, false
	}
	return g.Record(), true
}

// Body returns the encoded body for kind, or nil when the kind sends none.
func (g *Generator) Body(kind config.PayloadKind) ([]byte, error) {
	switch kind {
	case config.PayloadNone, "":
		return nil, nil
	case config.PayloadRecord:
		rec, _ := g.Generate(kind)
		return json.Marshal(rec)
	default:
		return nil, fmt.Errorf("payload: unsupported kind %q", kind)
	}
}

func randomString(alphabet string, n int) string {
	var sb strings.Builder
	sb.Grow(n)
	for i := 0; i < n; i++ {
		sb.WriteByte(alphabet[rand.IntN(len(alphabet))])
	}
	return sb.String()
}
