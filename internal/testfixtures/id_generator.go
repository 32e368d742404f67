package testfixtures

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// idNamespace seeds the name based UUIDs handed out by UUID generators.
var idNamespace = uuid.MustParse("6f1d7c3e-2a41-4b8e-9d55-0c9a3e7b1f20")

// IDGenerator hands out identifiers in a repeatable order. The default form
// is "<prefix>-<n>"; NewUUIDGenerator yields UUIDs shaped like the ones the
// service assigns in production.
type IDGenerator struct {
	mu     sync.Mutex
	prefix string
	issued uint64
	format func(prefix string, n uint64) string
}

// NewIDGenerator yields "<prefix>-1", "<prefix>-2" and so on. An empty
// prefix becomes "id".
func NewIDGenerator(prefix string) *IDGenerator {
	if prefix == "" {
		prefix = "id"
	}
	return &IDGenerator{prefix: prefix, format: sequential}
}

// NewUUIDGenerator yields version 5 UUIDs derived from seed and a counter,
// so two generators with the same seed agree.
func NewUUIDGenerator(seed string) *IDGenerator {
	return &IDGenerator{prefix: seed, format: nameBased}
}

// Next returns the next identifier.
func (g *IDGenerator) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.issued++
	return g.format(g.prefix, g.issued)
}

// NextFunc returns Next for injection into services.
func (g *IDGenerator) NextFunc() func() string {
	if g == nil {
		return func() string { return "" }
	}
	return g.Next
}

// Issued reports how many identifiers were handed out.
func (g *IDGenerator) Issued() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.issued
}

func sequential(prefix string, n uint64) string {
	return fmt.Sprintf("%s-%d", prefix, n)
}

func nameBased(seed string, n uint64) string {
	return uuid.NewSHA1(idNamespace, []byte(sequential(seed, n))).String()
}
