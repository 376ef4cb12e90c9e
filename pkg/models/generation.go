// Package models contains shared data models used across the reelforge codebase.
package models

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidRequest is returned by GenerationRequest.Validate.
var ErrInvalidRequest = errors.New("invalid generation request")

// DurationClass buckets a request into a frame-count ceiling.
type DurationClass string

const (
	DurationShort  DurationClass = "short"
	DurationMedium DurationClass = "medium"
	DurationLong   DurationClass = "long"
)

// FrameCeiling returns the maximum number of frames allowed for the class.
// Unknown classes fall back to the long ceiling.
func (d DurationClass) FrameCeiling() int {
	switch d {
	case DurationShort:
		return 30
	case DurationMedium:
		return 120
	default:
		return 600
	}
}

func (d DurationClass) Valid() bool {
	return d == DurationShort || d == DurationMedium || d == DurationLong
}

// Request defaults applied when a client omits the field.
const (
	DefaultWidth  = 512
	DefaultHeight = 512
	DefaultFrames = 16
)

const (
	minDimension = 64
	maxDimension = 2048
)

// GenerationRequest is the client-supplied description of a video to generate.
// Overlay is the optional style overlay (a LoRA on the engine side).
type GenerationRequest struct {
	Prompt       string        `json:"prompt"`
	Checkpoint   string        `json:"checkpoint"`
	Overlay      *string       `json:"lora,omitempty"`
	Width        int           `json:"width"`
	Height       int           `json:"height"`
	Frames       int           `json:"frames"`
	DurationType DurationClass `json:"duration_type"`
}

// ApplyDefaults fills zero-valued optional fields.
func (r *GenerationRequest) ApplyDefaults() {
	if r.Width == 0 {
		r.Width = DefaultWidth
	}
	if r.Height == 0 {
		r.Height = DefaultHeight
	}
	if r.Frames == 0 {
		r.Frames = DefaultFrames
	}
	if r.DurationType == "" {
		r.DurationType = DurationShort
	}
	if r.Overlay != nil && *r.Overlay == "" {
		r.Overlay = nil
	}
}

// ClampedFrames returns the frame count bounded by the duration class ceiling.
func (r GenerationRequest) ClampedFrames() int {
	return min(r.Frames, r.DurationType.FrameCeiling())
}

// Validate rejects structurally invalid requests before compilation.
func (r GenerationRequest) Validate() error {
	if r.Prompt == "" {
		return fmt.Errorf("%w: prompt is required", ErrInvalidRequest)
	}
	if r.Checkpoint == "" {
		return fmt.Errorf("%w: checkpoint is required", ErrInvalidRequest)
	}
	if err := validDimension("width", r.Width); err != nil {
		return err
	}
	if err := validDimension("height", r.Height); err != nil {
		return err
	}
	if r.Frames < 1 {
		return fmt.Errorf("%w: frames must be at least 1", ErrInvalidRequest)
	}
	if !r.DurationType.Valid() {
		return fmt.Errorf("%w: duration_type must be one of short, medium, long; got %q",
			ErrInvalidRequest, r.DurationType)
	}
	return nil
}

func validDimension(name string, v int) error {
	if v < minDimension || v > maxDimension {
		return fmt.Errorf("%w: %s must be between %d and %d", ErrInvalidRequest, name, minDimension, maxDimension)
	}
	if v%8 != 0 {
		return fmt.Errorf("%w: %s must be a multiple of 8", ErrInvalidRequest, name)
	}
	return nil
}

// GenerationStatus is the lifecycle state of a GenerationRecord.
type GenerationStatus string

const (
	StatusPending    GenerationStatus = "pending"
	StatusProcessing GenerationStatus = "processing"
	StatusCompleted  GenerationStatus = "completed"
	StatusFailed     GenerationStatus = "failed"
)

// IsTerminal reports whether no further transition is allowed.
func (s GenerationStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// GenerationRecord is the durable lifecycle record of one request.
// The client polls GET /api/v1/generations/{id} until status is completed or failed.
type GenerationRecord struct {
	ID           string           `db:"id"            json:"id"`
	Prompt       string           `db:"prompt"        json:"prompt"`
	Checkpoint   string           `db:"checkpoint"    json:"checkpoint"`
	Overlay      *string          `db:"lora"          json:"lora,omitempty"`
	Width        int              `db:"width"         json:"width"`
	Height       int              `db:"height"        json:"height"`
	Frames       int              `db:"frames"        json:"frames"`
	DurationType DurationClass    `db:"duration_type" json:"duration_type"`
	Status       GenerationStatus `db:"status"        json:"status"`
	CreatedAt    time.Time        `db:"created_at"    json:"created_at"`
	CompletedAt  *time.Time       `db:"completed_at"  json:"completed_at,omitempty"`
	ResultPath   *string          `db:"result_path"   json:"result_path,omitempty"`
	ErrorMessage *string          `db:"error_message" json:"error_message,omitempty"`
	PromptID     *string          `db:"prompt_id"     json:"prompt_id,omitempty"`
}

// NewGenerationRecord returns a pending record copying the request fields.
func NewGenerationRecord(id string, req GenerationRequest, now time.Time) *GenerationRecord {
	return &GenerationRecord{
		ID:           id,
		Prompt:       req.Prompt,
		Checkpoint:   req.Checkpoint,
		Overlay:      cloneString(req.Overlay),
		Width:        req.Width,
		Height:       req.Height,
		Frames:       req.Frames,
		DurationType: req.DurationType,
		Status:       StatusPending,
		CreatedAt:    now.UTC(),
	}
}

// Clone returns a deep copy so callers can mutate without aliasing.
func (r *GenerationRecord) Clone() *GenerationRecord {
	if r == nil {
		return nil
	}
	c := *r
	c.Overlay = cloneString(r.Overlay)
	c.ResultPath = cloneString(r.ResultPath)
	c.ErrorMessage = cloneString(r.ErrorMessage)
	c.PromptID = cloneString(r.PromptID)
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
