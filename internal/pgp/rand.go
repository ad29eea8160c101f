package pgp

import (
	"crypto/rand"
	"crypto/sha256"
	"hash"
	"io"
	"os"
	"sync"
	"time"
	"unsafe"
)

// entropyPool holds additive seed material for the engine's CSPRNG (§4.D.9,
// §9 "global RNG seed state... thread-safe singleton"). Seeding never
// replaces the underlying crypto/rand.Reader; it only perturbs its output.
type entropyPool struct {
	mu sync.Mutex
	h  hash.Hash
}

var pool = &entropyPool{h: sha256.New()}

// RandSeed mixes additional entropy into the process-wide pool. Safe to
// call from any goroutine.
func RandSeed(b []byte) {
	pool.mu.Lock()
	defer pool.mu.Unlock()
	pool.h.Write(b)
}

// seedProcessEntropy mixes in the opaque bytes the pipeline is specified to
// seed with at keygen time: wall clock, a stack address, a heap address,
// goroutine-local stand-in (pid, since Go has no thread id), and pid
// (§4.D.1, §4.D.9).
func seedProcessEntropy() {
	var stackVar byte
	heapVar := new(byte)
	now := time.Now().UnixNano()

	var buf [32]byte
	buf[0] = byte(now)
	buf[1] = byte(now >> 8)
	buf[2] = byte(now >> 16)
	buf[3] = byte(now >> 24)
	stackAddr := uintptr(unsafe.Pointer(&stackVar))
	heapAddr := uintptr(unsafe.Pointer(heapVar))
	buf[4] = byte(stackAddr)
	buf[5] = byte(heapAddr)
	pid := os.Getpid()
	buf[6] = byte(pid)
	buf[7] = byte(pid >> 8)
	RandSeed(buf[:8])
}

// Reader returns an io.Reader that XORs crypto/rand.Reader output with the
// accumulated entropy pool (§4.D.9). The base randomness always comes from
// crypto/rand; the pool only perturbs it, never substitutes for it.
func Reader() io.Reader { return mixedReader{} }

type mixedReader struct{}

func (mixedReader) Read(p []byte) (int, error) {
	n, err := rand.Read(p)
	if err != nil {
		return n, err
	}
	pool.mu.Lock()
	sum := pool.h.Sum(nil)
	pool.mu.Unlock()
	for i := 0; i < n; i++ {
		p[i] ^= sum[i%len(sum)]
	}
	return n, nil
}
