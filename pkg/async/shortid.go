package async

import (
	"crypto/rand"
	"encoding/binary"
	mathrand "math/rand/v2"
	"sync"
)

// idAlphabet is the URL-safe alphabet used for short identifiers.
const idAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// idLength is the number of characters in a short identifier. 62^16 gives
// collision odds comfortably below anything a single deployment will see.
const idLength = 16

var (
	idRandMu sync.Mutex
	idRand   = newSeededRand()
)

func newSeededRand() *mathrand.Rand {
	var seed [32]byte
	if _, err := rand.Read(seed[:]); err != nil {
		// Fall back to a fixed-ish seed; identifiers stay unique within a
		// process because the generator state still advances.
		binary.LittleEndian.PutUint64(seed[:], 0x9e3779b97f4a7c15)
	}
	var chacha [32]byte
	copy(chacha[:], seed[:])
	return mathrand.New(mathrand.NewChaCha8(chacha))
}

// ShortID returns a 16-character URL-safe random identifier. It is used for
// request ids, speech ids, and transcript segment ids throughout the runtime.
func ShortID() string {
	b := make([]byte, idLength)
	idRandMu.Lock()
	for i := range b {
		b[i] = idAlphabet[idRand.IntN(len(idAlphabet))]
	}
	idRandMu.Unlock()
	return string(b)
}

// ShortIDWith returns a short identifier with the given prefix and an
// underscore separator, e.g. ShortIDWith("speech") → "speech_Xy12…".
func ShortIDWith(prefix string) string {
	return prefix + "_" + ShortID()
}
