package id

import (
	cryptoRand "crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	mu   sync.Mutex
	mono io.Reader
)

func init() {
	// ulid.Monotonic keeps IDs generated within the same millisecond
	// lexicographically increasing.
	var seed int64
	_ = binary.Read(cryptoRand.Reader, binary.LittleEndian, &seed)
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	mono = ulid.Monotonic(rand.New(rand.NewSource(seed)), 0)
}

// New returns a ULID string stamped with the current time.
func New() string {
	return NewAt(time.Now())
}

// NewAt returns a ULID string stamped with t. Signals, alerts and positions
// use their own event time so ids sort in event order.
func NewAt(t time.Time) string {
	mu.Lock()
	defer mu.Unlock()

	id, err := ulid.New(ulid.Timestamp(t.UTC()), mono)
	if err != nil {
		// Only possible if entropy fails or time goes backwards past the
		// monotonic window.
		panic(err)
	}
	return id.String()
}

// Sequence hands out deterministic ids of the form "<prefix>-<n>". Backtests
// use it so repeated runs produce identical output.
type Sequence struct {
	mu     sync.Mutex
	prefix string
	n      int
}

func NewSequence(prefix string) *Sequence {
	return &Sequence{prefix: prefix}
}

func (s *Sequence) Next() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("%s-%06d", s.prefix, s.n)
}
