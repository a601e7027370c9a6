package testsupport

import (
	"fmt"
	"sync/atomic"
	"time"
)

// seeded from the clock so reruns against a shared database do not collide
var testSequence = uint64(time.Now().UnixNano() % 1000000)

// NextSequence returns next unique sequence number
func NextSequence() uint64 {
	return atomic.AddUint64(&testSequence, 1)
}

// UniqueCoin returns a coin tag that no other test uses, e.g. T123456
func UniqueCoin() string {
	return fmt.Sprintf("T%d", NextSequence())
}
