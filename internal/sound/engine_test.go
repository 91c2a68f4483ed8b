package sound

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

type recordingPlayer struct {
	plays int
	err   error
}

func (p *recordingPlayer) Play([]byte) error {
	p.plays++
	return p.err
}

func newTestEngine(player Player, debounce time.Duration) (*Engine, *time.Time) {
	e := NewEngine(player, debounce, 0.3, zerolog.Nop())
	now := time.Now()
	e.now = func() time.Time { return now }
	return e, &now
}

func TestPlayLockedUntilUnlock(t *testing.T) {
	player := &recordingPlayer{}
	e, _ := newTestEngine(player, 800*time.Millisecond)

	assert.False(t, e.Play(KindAgent))
	assert.Zero(t, player.plays)

	e.Unlock()
	assert.True(t, e.Unlocked())
	assert.True(t, e.Play(KindAgent))
	assert.Equal(t, 1, player.plays)
}

func TestPlayDebouncesBursts(t *testing.T) {
	player := &recordingPlayer{}
	e, now := newTestEngine(player, 600*time.Millisecond)
	e.Unlock()

	assert.True(t, e.Play(KindVisitor))

	*now = now.Add(300 * time.Millisecond)
	assert.False(t, e.Play(KindVisitor))

	// The window anchors on the last successful play, not the last attempt.
	*now = now.Add(350 * time.Millisecond)
	assert.True(t, e.Play(KindVisitor))

	assert.Equal(t, 2, player.plays)
}

func TestPlaySwallowsPlayerErrors(t *testing.T) {
	player := &recordingPlayer{err: errors.New("device gone")}
	e, _ := newTestEngine(player, time.Second)
	e.Unlock()

	assert.True(t, e.Play(KindAgent))
	assert.Equal(t, 1, player.plays)
}

func TestSynthesizeToneShape(t *testing.T) {
	agent := synthesize(KindAgent, 0.3)
	visitor := synthesize(KindVisitor, 0.3)

	wantLen := int(float64(sampleRate)*toneDuration.Seconds()) * 2
	assert.Equal(t, wantLen, len(agent))
	assert.Equal(t, wantLen, len(visitor))
	assert.NotEqual(t, agent, visitor)
}
