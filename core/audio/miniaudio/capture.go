//go:build cgo

package miniaudio

import (
	"fmt"
	"sync"
	"time"

	"github.com/gen2brain/malgo"
	"github.com/matlowai/local-voice-ai/core/audio"
)

type captureClient struct {
	audioContext *malgo.AllocatedContext
	device       *malgo.Device
	config       malgo.DeviceConfig

	onFrame  func(frame audio.Frame)
	onClosed func(err error)
	// stopping is set for the duration of a requested Stop or Uninit, so
	// the device stop callback can tell a clean stop from a backend one.
	stopping bool

	// pending accumulates device callbacks until a full frame's worth of
	// audio is available, so downstream always sees fixed-duration frames.
	pending   []byte
	frameSize int
	seq       uint64

	mu sync.Mutex
}

func (c *captureClient) Init(audioContext *malgo.AllocatedContext) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	encodingInfo := audio.GetDefaultEncodingInfo()
	channels := 1
	format := malgo.FormatS16
	bytesPerFrame := malgo.SampleSizeInBytes(format) * channels

	c.config = malgo.DefaultDeviceConfig(malgo.Capture)
	c.config.SampleRate = uint32(encodingInfo.SampleRate)
	c.config.Capture.Format = format
	c.config.Capture.Channels = uint32(channels)
	c.config.Alsa.NoMMap = 1
	c.config.PerformanceProfile = malgo.LowLatency
	c.config.PeriodSizeInFrames = 480
	c.config.Periods = 3

	c.audioContext = audioContext
	c.frameSize = encodingInfo.BytesFor(audio.DefaultFrameDuration)

	var err error
	c.device, err = malgo.InitDevice(c.audioContext.Context, c.config, malgo.DeviceCallbacks{
		Data: func(_, pInput []byte, frameCount uint32) {
			n := int(frameCount) * bytesPerFrame
			if len(pInput) < n || n == 0 {
				return
			}
			c.accumulate(pInput[:n])
		},
		Stop: func() {
			c.deviceStopped()
		},
	})
	if err != nil {
		return fmt.Errorf("failed to initialize capture device: %w", err)
	}

	return nil
}

// accumulate copies device audio into the pending buffer and emits one
// frame per full frameSize slice. The copy matters: malgo reuses pInput.
func (c *captureClient) accumulate(input []byte) {
	c.mu.Lock()
	onFrame := c.onFrame
	c.pending = append(c.pending, input...)

	var frames []audio.Frame
	for len(c.pending) >= c.frameSize {
		pcm := make([]byte, c.frameSize)
		copy(pcm, c.pending[:c.frameSize])
		c.pending = c.pending[c.frameSize:]
		frames = append(frames, audio.Frame{
			Seq:        c.seq,
			PCM:        pcm,
			CapturedAt: time.Now(),
		})
		c.seq++
	}
	c.mu.Unlock()

	if onFrame == nil {
		return
	}
	for _, frame := range frames {
		onFrame(frame)
	}
}

// deviceStopped runs on the miniaudio device stop callback. A stop nobody
// asked for means the backend tore the device down, e.g. the microphone
// was unplugged; surface it as a terminal capture failure.
func (c *captureClient) deviceStopped() {
	c.mu.Lock()
	if c.stopping {
		c.mu.Unlock()
		return
	}
	onClosed := c.onClosed
	c.onFrame = nil
	c.onClosed = nil
	c.pending = nil
	c.mu.Unlock()

	if onClosed != nil {
		onClosed(fmt.Errorf("capture device stopped unexpectedly"))
	}
}

func (c *captureClient) Start(onFrame func(frame audio.Frame), onClosed func(err error)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.device == nil {
		return fmt.Errorf("device not initialized")
	} else if c.device.IsStarted() {
		return nil
	}

	if err := c.device.Start(); err != nil {
		return fmt.Errorf("failed to start capture device: %w", err)
	}

	c.onFrame = onFrame
	c.onClosed = onClosed
	return nil
}

func (c *captureClient) Stop() error {
	// The stop callback may run on the calling thread inside device.Stop,
	// so the lock cannot be held across it.
	c.mu.Lock()
	if c.device == nil {
		c.mu.Unlock()
		return fmt.Errorf("device not initialized")
	} else if !c.device.IsStarted() {
		c.mu.Unlock()
		return nil
	}
	c.stopping = true
	device := c.device
	c.mu.Unlock()

	err := device.Stop()

	c.mu.Lock()
	c.stopping = false
	c.onFrame = nil
	c.onClosed = nil
	c.pending = nil
	c.mu.Unlock()

	if err != nil {
		return fmt.Errorf("failed to stop device: %w", err)
	}
	return nil
}

func (c *captureClient) Uninit() error {
	c.mu.Lock()
	c.stopping = true
	device := c.device
	c.device = nil
	c.mu.Unlock()

	if device != nil {
		device.Uninit()
	}

	c.mu.Lock()
	c.stopping = false
	c.onFrame = nil
	c.onClosed = nil
	c.pending = nil
	c.mu.Unlock()
	return nil
}
