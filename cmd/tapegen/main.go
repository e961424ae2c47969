// Command tapegen writes a fixture tape file in the wire format
// internal/tape validates, for exercising the gateway's ingress path
// without a real game client.
package main

import (
	"crypto/rand"
	"flag"
	"log"
	"os"

	"github.com/luxfi/proofgw/internal/tape"
)

func main() {
	var (
		out        = flag.String("out", "tape.bin", "output file path")
		seed       = flag.Uint("seed", 1, "tape seed")
		frameCount = flag.Uint("frames", 600, "number of input frames")
		finalScore = flag.Uint("score", 100, "final score (0 produces a fixture the gateway rejects)")
		rngState   = flag.Uint("rng", 0, "final RNG state")
	)
	flag.Parse()

	frames := make([]byte, *frameCount)
	if _, err := rand.Read(frames); err != nil {
		log.Fatalf("tapegen: generating random frames: %v", err)
	}

	buf, err := tape.Serialize(uint32(*seed), uint32(*frameCount), uint32(*finalScore), uint32(*rngState), frames)
	if err != nil {
		log.Fatalf("tapegen: serializing tape: %v", err)
	}

	if err := os.WriteFile(*out, buf, 0o644); err != nil {
		log.Fatalf("tapegen: writing %s: %v", *out, err)
	}
	log.Printf("tapegen: wrote %d bytes to %s (seed=%d frames=%d score=%d)", len(buf), *out, *seed, *frameCount, *finalScore)
}
