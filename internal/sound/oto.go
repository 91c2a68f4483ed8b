package sound

import (
	"bytes"
	"fmt"

	"github.com/hajimehoshi/oto/v2"
)

// otoPlayer plays PCM through the system audio device.
type otoPlayer struct {
	ctx *oto.Context
}

// NewOtoPlayer opens the audio device. On headless hosts this fails; callers
// should fall back to NoopPlayer.
func NewOtoPlayer() (Player, error) {
	ctx, ready, err := oto.NewContext(sampleRate, 1, 2)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio device: %w", err)
	}
	<-ready
	return &otoPlayer{ctx: ctx}, nil
}

func (p *otoPlayer) Play(pcm []byte) error {
	player := p.ctx.NewPlayer(bytes.NewReader(pcm))
	player.Play()
	return nil
}

// NoopPlayer discards all playback, for headless or muted runs.
type NoopPlayer struct{}

func (NoopPlayer) Play([]byte) error { return nil }
