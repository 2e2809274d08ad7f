package capture

import (
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"github.com/go-gst/go-gst/gst"
	"github.com/go-gst/go-gst/gst/app"
)

var gstInit sync.Once

// frameQueueLen buffers a couple of frames between the GStreamer streaming
// thread and the capture loop. The appsink drops older buffers itself, so a
// short queue is enough to decouple the two clocks.
const frameQueueLen = 2

// gstScreenSource returns the platform screen source element name and its
// properties.
func gstScreenSource() (string, map[string]any, error) {
	switch runtime.GOOS {
	case "linux":
		// use-damage would only deliver changed regions; the pipeline wants
		// full frames.
		return "ximagesrc", map[string]any{"use-damage": false}, nil
	case "windows":
		return "d3d11screencapturesrc", map[string]any{"show-cursor": true}, nil
	case "darwin":
		return "avfvideosrc", map[string]any{"capture-screen": true}, nil
	}
	return "", nil, fmt.Errorf("no screen source element for %s", runtime.GOOS)
}

// GStreamerBackend captures the display through a GStreamer pipeline:
//
//	<platform screen src> ! videoconvert ! video/x-raw,format=BGRA ! appsink
//
// Frames arrive on the streaming thread and are handed to the capture loop
// through a short queue; Capture polls that queue and reports ErrNoFrame
// when it is empty.
type GStreamerBackend struct {
	pipeline *gst.Pipeline
	sink     *app.Sink
	frames   chan []byte

	mu     sync.Mutex
	width  int
	height int

	closeOnce sync.Once
}

// NewGStreamerBackend builds and starts the capture pipeline. It fails when
// GStreamer or the platform source element is unavailable, letting the
// Source fall back to the next backend.
func NewGStreamerBackend() (Backend, error) {
	gstInit.Do(func() { gst.Init(nil) })

	srcName, srcProps, err := gstScreenSource()
	if err != nil {
		return nil, err
	}

	pipeline, err := gst.NewPipeline("beamcast-capture")
	if err != nil {
		return nil, fmt.Errorf("create pipeline: %w", err)
	}

	src, err := gst.NewElement(srcName)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", srcName, err)
	}
	if err := setProperties(src, srcProps); err != nil {
		return nil, err
	}

	conv, err := gst.NewElement("videoconvert")
	if err != nil {
		return nil, fmt.Errorf("create videoconvert: %w", err)
	}

	capsfilter, err := gst.NewElement("capsfilter")
	if err != nil {
		return nil, fmt.Errorf("create capsfilter: %w", err)
	}
	if err := capsfilter.SetProperty("caps", gst.NewCapsFromString("video/x-raw,format=BGRA")); err != nil {
		return nil, fmt.Errorf("set caps: %w", err)
	}

	sink, err := app.NewAppSink()
	if err != nil {
		return nil, fmt.Errorf("create appsink: %w", err)
	}
	// Keep only the newest frame; a screen share never wants a backlog.
	if err := setProperties(sink.Element, map[string]any{
		"sync":        false,
		"max-buffers": uint(1),
		"drop":        true,
	}); err != nil {
		return nil, err
	}

	if err := pipeline.AddMany(src, conv, capsfilter, sink.Element); err != nil {
		return nil, fmt.Errorf("assemble pipeline: %w", err)
	}
	if err := gst.ElementLinkMany(src, conv, capsfilter, sink.Element); err != nil {
		return nil, fmt.Errorf("link pipeline: %w", err)
	}

	b := &GStreamerBackend{
		pipeline: pipeline,
		sink:     sink,
		frames:   make(chan []byte, frameQueueLen),
	}

	sink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: b.onNewSample,
	})

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		return nil, fmt.Errorf("start pipeline: %w", err)
	}

	slog.Debug("gstreamer capture pipeline started", "source", srcName)
	return b, nil
}

// onNewSample runs on the GStreamer streaming thread. It copies the buffer
// out (GStreamer reuses it) and drops the frame when the capture loop is
// behind.
func (b *GStreamerBackend) onNewSample(sink *app.Sink) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		return gst.FlowOK
	}

	if caps := sample.GetCaps(); caps != nil {
		if st := caps.GetStructureAt(0); st != nil {
			b.updateDimensions(st)
		}
	}

	buffer := sample.GetBuffer()
	if buffer == nil {
		return gst.FlowOK
	}
	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		return gst.FlowOK
	}
	frame := make([]byte, len(data))
	copy(frame, data)
	buffer.Unmap()

	select {
	case b.frames <- frame:
	default:
		// Capture loop is behind; prefer the newer frame next time.
	}
	return gst.FlowOK
}

func (b *GStreamerBackend) updateDimensions(st *gst.Structure) {
	w, werr := st.GetValue("width")
	h, herr := st.GetValue("height")
	if werr != nil || herr != nil {
		return
	}
	wi, wok := w.(int)
	hi, hok := h.(int)
	if !wok || !hok || wi <= 0 || hi <= 0 {
		return
	}
	b.mu.Lock()
	b.width, b.height = wi, hi
	b.mu.Unlock()
}

// Capture returns the most recent frame from the pipeline, or ErrNoFrame
// when none has arrived since the last poll.
func (b *GStreamerBackend) Capture() ([]byte, error) {
	select {
	case frame := <-b.frames:
		return frame, nil
	default:
		return nil, ErrNoFrame
	}
}

func (b *GStreamerBackend) Width() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.width
}

func (b *GStreamerBackend) Height() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.height
}

func (b *GStreamerBackend) Close() error {
	var err error
	b.closeOnce.Do(func() {
		err = b.pipeline.SetState(gst.StateNull)
	})
	return err
}

func setProperties(e *gst.Element, props map[string]any) error {
	for k, v := range props {
		if err := e.SetProperty(k, v); err != nil {
			return fmt.Errorf("set %s: %w", k, err)
		}
	}
	return nil
}
