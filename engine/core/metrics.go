package core

const AVG_COUNT uint8 = 30

// FrameMetrics keeps a rolling frame-time average and a once-per-second FPS
// counter. It is owned by the renderer; nothing here is shared.
type FrameMetrics struct {
	frameAVGCounter    uint8
	msTimes            [AVG_COUNT]float64
	msAvg              float64
	frames             int32
	accumulatedFrameMS float64
	fps                float64

	// counters fed by the renderer
	FramesSubmitted uint64
	FramesSkipped   uint64
	DrawCalls       uint64
	LightsDropped   uint64
}

func NewFrameMetrics() *FrameMetrics {
	return &FrameMetrics{}
}

// Update takes the elapsed time of the last frame in seconds.
func (m *FrameMetrics) Update(frameElapsed float64) {
	frameMS := frameElapsed * 1000.0
	m.msTimes[m.frameAVGCounter] = frameMS
	if m.frameAVGCounter == AVG_COUNT-1 {
		sum := 0.0
		for i := uint8(0); i < AVG_COUNT; i++ {
			sum += m.msTimes[i]
		}
		m.msAvg = sum / float64(AVG_COUNT)
	}
	m.frameAVGCounter++
	m.frameAVGCounter %= AVG_COUNT

	m.accumulatedFrameMS += frameMS
	if m.accumulatedFrameMS > 1000 {
		m.fps = float64(m.frames)
		m.accumulatedFrameMS -= 1000
		m.frames = 0
	}
	m.frames++
}

func (m *FrameMetrics) FPS() float64 {
	return m.fps
}

func (m *FrameMetrics) FrameTime() float64 {
	return m.msAvg
}

func (m *FrameMetrics) Frame() (float64, float64) {
	return m.fps, m.msAvg
}
