package ids

import (
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Generator issues time-ordered 63-bit ids: 41 bits of milliseconds since
// epoch, 10 bits of node id, 12 bits of sequence.
type Generator struct {
	mu       sync.Mutex
	epochMS  int64
	nodeID   int64 // 0~1023
	seq      int64 // 0~4095
	lastTSMS int64
	now      func() time.Time
}

var (
	defaultGen *Generator
	once       sync.Once
)

var defaultEpoch = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

func NewGenerator(nodeID int64, now func() time.Time) *Generator {
	if nodeID < 0 || nodeID > 1023 {
		nodeID = 1
	}
	if now == nil {
		now = time.Now
	}
	return &Generator{
		epochMS: defaultEpoch.UnixMilli(),
		nodeID:  nodeID,
		now:     now,
	}
}

func initDefault() {
	once.Do(func() {
		defaultGen = NewGenerator(1, nil)
	})
}

// Generate 生成一个新的雪花ID
func Generate() int64 {
	initDefault()
	return defaultGen.Next()
}

// GenerateString is Generate in base 10. Used for message and turn ids.
func GenerateString() string {
	return strconv.FormatInt(Generate(), 10)
}

// NewSessionID returns a random session identifier.
func NewSessionID() string {
	return uuid.NewString()
}

// NewConnID returns a random connection identifier.
func NewConnID() string {
	return "c-" + uuid.NewString()
}

// SetNodeID sets the node id (0~1023) of the default generator; call it from main.
func SetNodeID(nodeID int64) {
	initDefault()
	if nodeID < 0 || nodeID > 1023 {
		nodeID = 1
	}
	defaultGen.mu.Lock()
	defaultGen.nodeID = nodeID
	defaultGen.mu.Unlock()
}

func (g *Generator) Next() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	for {
		now := g.now().UnixMilli()
		if now < g.lastTSMS {
			// clock moved backwards; reuse the last timestamp instead of sleeping
			now = g.lastTSMS
		}
		if now == g.lastTSMS {
			g.seq = (g.seq + 1) & 0xFFF // 12 bits
			if g.seq == 0 {
				// sequence exhausted for this millisecond
				g.lastTSMS++
				now = g.lastTSMS
			}
		} else {
			g.seq = 0
		}
		g.lastTSMS = now

		ts := (now - g.epochMS) & ((1 << 41) - 1)
		return (ts << 22) | (g.nodeID << 12) | g.seq
	}
}
