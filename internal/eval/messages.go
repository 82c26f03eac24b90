package eval

import (
	"math/rand/v2"
	"sync"
)

// messagePools holds the fixed, age-appropriate message pool per feedback
// tier. Selection within a pool is randomized per attempt; the tier itself
// never varies for a given score.
var messagePools = map[Tier][]string{
	TierExcellent: {
		"Amazing! You said it perfectly!",
		"Wow, that was spot on!",
		"Perfect! You sound like a star!",
		"Incredible! Three shiny stars for you!",
	},
	TierGood: {
		"Great job! That was really close!",
		"So close! You're almost there!",
		"Nice work! One more try for three stars?",
		"Really good! Your practice is paying off!",
	},
	TierOkay: {
		"Good try! Let's practice a little more.",
		"Not bad! Listen once more and try again.",
		"You're getting there! Keep going!",
	},
	TierTryAgain: {
		"Let's try that one more time — you can do it!",
		"Hmm, I didn't quite catch that. Try again!",
		"Take a deep breath and give it another go!",
		"Practice makes perfect — one more try!",
	},
}

// messagePicker samples a message from a tier's pool. The zero source uses
// the shared global generator; a seeded source makes selection reproducible
// for tests.
type messagePicker struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func newPicker() *messagePicker {
	return &messagePicker{}
}

func newSeededPicker(seed uint64) *messagePicker {
	return &messagePicker{rng: rand.New(rand.NewPCG(seed, seed))}
}

// pick returns one message from tier's pool, always staying within the tier.
func (p *messagePicker) pick(tier Tier) string {
	pool := messagePools[tier]
	if len(pool) == 0 {
		return ""
	}

	var i int
	if p.rng != nil {
		p.mu.Lock()
		i = p.rng.IntN(len(pool))
		p.mu.Unlock()
	} else {
		i = rand.IntN(len(pool))
	}
	return pool[i]
}
