package tasklib

import (
	"fmt"

	"github.com/sentinelcam/sentinelcam/internal/model"
)

// detectorTask stands in for an image-pipeline analytic such as an object
// or face detector. It emits one deterministic "detection" per frame — a
// box covering the middle third of the image — so the ring-buffer, offset
// mapping, and CSV-persistence machinery around it has real per-frame
// output to carry, without pretending to implement object detection.
type detectorTask struct {
	refKey    string
	className string
	frames    int
}

func newDetectorTask(cfg Config) (Task, error) {
	refKey, _ := cfg["refkey"].(string)
	if refKey == "" {
		refKey = model.TypeObj
	}
	className, _ := cfg["class"].(string)
	if className == "" {
		className = "object"
	}
	return &detectorTask{refKey: refKey, className: className}, nil
}

func (t *detectorTask) Pipeline(frame *Frame) ([]Result, bool, error) {
	if frame == nil {
		return nil, false, fmt.Errorf("detectorTask requires an image stream")
	}

	x1, y1 := frame.Width/3, frame.Height/3
	x2, y2 := frame.Width-x1, frame.Height-y1

	t.frames++
	return []Result{{
		RefKey: t.refKey,
		Offset: frame.Offset,
		Class:  t.className,
		Rect:   model.Rect{X1: x1, Y1: y1, X2: x2, Y2: y2},
	}}, true, nil
}

func (t *detectorTask) Finalize() error { return nil }
