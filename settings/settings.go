// Package settings holds the capture configuration a flow is started with.
//
// Settings is a plain value type: it contains no pointers, maps or slices, so
// an assignment is a full copy. A flow keeps the copy it was started with and
// never observes later edits.
package settings

import (
	"fmt"
	"time"

	"github.com/creasty/defaults"
)

type Capture struct {
	// Head pose limits in degrees
	MaxYaw   float64 `json:"max_yaw" default:"25" validate:"gte=0,lte=90"`
	MaxPitch float64 `json:"max_pitch" default:"25" validate:"gte=0,lte=90"`
	MaxRoll  float64 `json:"max_roll" default:"25" validate:"gte=0,lte=90"`

	MinQuality     float64 `json:"min_quality" default:"0.5" validate:"gte=0,lte=1"`
	BestShotCount  int     `json:"best_shot_count" default:"1" validate:"gte=1,lte=10"`
	TimeoutSeconds int     `json:"timeout_seconds" default:"60" validate:"gte=1,lte=600"`
}

type Liveness struct {
	Enabled             bool `json:"enabled" default:"true"`
	InteractionsEnabled bool `json:"interactions_enabled"`
	InteractionCount    int  `json:"interaction_count" validate:"gte=0,lte=5"`
}

type Document struct {
	OCREnabled bool `json:"ocr_enabled"`
	// Minimum similarity between the document portrait and the best shot.
	MatchThreshold float64 `json:"match_threshold" default:"0.82" validate:"gte=0,lte=1"`
}

type Remote struct {
	ListID               string `json:"list_id" validate:"max=64"`
	SendDocumentMetadata bool   `json:"send_document_metadata" default:"true"`
	TimeoutSeconds       int    `json:"timeout_seconds" default:"30" validate:"gte=1,lte=120"`
}

type Settings struct {
	Capture  Capture  `json:"capture"`
	Liveness Liveness `json:"liveness"`
	Document Document `json:"document"`
	Remote   Remote   `json:"remote"`
}

// Default returns the settings used when nothing has been persisted yet.
func Default() Settings {
	var s Settings
	if err := defaults.Set(&s); err != nil {
		// only reachable with a malformed default tag
		panic(fmt.Sprintf("settings: invalid default tags: %v", err))
	}
	return s
}

func (c Capture) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func (r Remote) Timeout() time.Duration {
	return time.Duration(r.TimeoutSeconds) * time.Second
}
