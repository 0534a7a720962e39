package order

import (
	"crypto/rand"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const suffixAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// GenerateNumber builds a human-readable, store-scoped order number:
// a three-character store prefix, the last six digits of the millisecond
// clock, and a four-character random suffix, e.g. "3F2-881245-K7QX".
// Uniqueness is enforced by the store on insert; callers regenerate with a
// fresh suffix when a collision is reported.
func GenerateNumber(storeID uuid.UUID, now time.Time) string {
	prefix := strings.ToUpper(strings.ReplaceAll(storeID.String(), "-", "")[:3])
	millis := fmt.Sprintf("%d", now.UnixMilli())
	if len(millis) > 6 {
		millis = millis[len(millis)-6:]
	}
	return fmt.Sprintf("%s-%s-%s", prefix, millis, randomSuffix(4))
}

func randomSuffix(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms; fall back to a
		// clock-derived suffix rather than panicking in a request path.
		nano := time.Now().UnixNano()
		for i := range buf {
			buf[i] = suffixAlphabet[int(nano>>uint(i*6))%len(suffixAlphabet)]
		}
		return string(buf)
	}
	for i := range buf {
		buf[i] = suffixAlphabet[int(buf[i])%len(suffixAlphabet)]
	}
	return string(buf)
}
