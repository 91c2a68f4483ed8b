package sound

import (
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Kind selects which notification tone to synthesize.
type Kind string

const (
	// KindAgent is the higher tone played when an agent message arrives.
	KindAgent Kind = "agent"
	// KindVisitor is the lower tone played when a visitor message arrives.
	KindVisitor Kind = "visitor"
)

const (
	sampleRate   = 44100
	toneDuration = 150 * time.Millisecond
	agentFreq    = 880.0
	visitorFreq  = 520.0
)

// Player renders a buffer of 16-bit little-endian mono PCM.
type Player interface {
	Play(pcm []byte) error
}

// Engine owns notification playback for one process. It stays silent until
// Unlock is called after the first user gesture, and debounces bursts so a
// flood of messages produces a single tone.
type Engine struct {
	mu       sync.Mutex
	player   Player
	log      zerolog.Logger
	debounce time.Duration
	volume   float64
	now      func() time.Time

	unlocked bool
	lastPlay time.Time
}

// NewEngine creates an engine over the given player. Playback failures are
// logged and swallowed; notification sound is never worth an error path.
func NewEngine(player Player, debounce time.Duration, volume float64, log zerolog.Logger) *Engine {
	if debounce <= 0 {
		debounce = 800 * time.Millisecond
	}
	if volume <= 0 || volume > 1 {
		volume = 0.3
	}
	return &Engine{
		player:   player,
		log:      log.With().Str("component", "sound").Logger(),
		debounce: debounce,
		volume:   volume,
		now:      time.Now,
	}
}

// Unlock enables playback. Call it once the user has interacted.
func (e *Engine) Unlock() {
	e.mu.Lock()
	e.unlocked = true
	e.mu.Unlock()
}

// Unlocked reports whether playback is enabled.
func (e *Engine) Unlocked() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.unlocked
}

// Play synthesizes and plays the tone for kind. It reports whether a tone was
// actually played; locked engines and calls inside the debounce window are
// silent no-ops. The debounce window renews only on a successful play.
func (e *Engine) Play(kind Kind) bool {
	e.mu.Lock()
	if !e.unlocked {
		e.mu.Unlock()
		return false
	}
	now := e.now()
	if !e.lastPlay.IsZero() && now.Sub(e.lastPlay) < e.debounce {
		e.mu.Unlock()
		return false
	}
	e.lastPlay = now
	player := e.player
	volume := e.volume
	e.mu.Unlock()

	if err := player.Play(synthesize(kind, volume)); err != nil {
		e.log.Debug().Err(err).Str("kind", string(kind)).Msg("tone playback failed")
	}
	return true
}

// synthesize renders a short sine tone with an exponential decay envelope.
func synthesize(kind Kind, volume float64) []byte {
	freq := visitorFreq
	if kind == KindAgent {
		freq = agentFreq
	}

	samples := int(float64(sampleRate) * toneDuration.Seconds())
	pcm := make([]byte, samples*2)
	decay := math.Log(0.01/volume) / float64(samples)
	for i := 0; i < samples; i++ {
		gain := volume * math.Exp(decay*float64(i))
		v := math.Sin(2*math.Pi*freq*float64(i)/sampleRate) * gain
		s := int16(v * math.MaxInt16)
		pcm[2*i] = byte(s)
		pcm[2*i+1] = byte(s >> 8)
	}
	return pcm
}
