// Package crosscheck compares the portrait on a scanned document with the
// biometric best shot.
package crosscheck

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go-identity-flow/capture"
	"go-identity-flow/face"
)

var ErrNoFaceInDocument = errors.New("no face detected in document image")

// MismatchError is returned when the two faces are not similar enough.
type MismatchError struct {
	Similarity float64
	Threshold  float64
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("similarity %.3f below threshold %.3f", e.Similarity, e.Threshold)
}

type Matcher interface {
	DetectFaces(ctx context.Context, image []byte) (*face.DetectResult, error)
	MatchFaces(ctx context.Context, document, live []byte) (*face.MatchResult, error)
}

type Result struct {
	Similarity float64
	Threshold  float64
}

type Validator struct {
	matcher Matcher
}

func NewValidator(matcher Matcher) *Validator {
	return &Validator{matcher: matcher}
}

// Validate accepts when the similarity is at or above threshold.
func (v *Validator) Validate(ctx context.Context, shot *capture.BestShot, doc *capture.DocumentRecognition, threshold float64) (Result, error) {
	if shot == nil || len(shot.Image) == 0 {
		return Result{}, errors.New("no best shot to compare")
	}
	if !doc.HasFace() {
		return Result{}, ErrNoFaceInDocument
	}

	detected, err := v.matcher.DetectFaces(ctx, doc.FaceImage)
	if err != nil {
		return Result{}, fmt.Errorf("detect document face: %w", err)
	}
	if len(detected.DetectedFaces) == 0 {
		return Result{}, ErrNoFaceInDocument
	}

	match, err := v.matcher.MatchFaces(ctx, doc.FaceImage, shot.Image)
	if err != nil {
		return Result{}, fmt.Errorf("match faces: %w", err)
	}

	res := Result{Similarity: match.Similarity, Threshold: threshold}
	if match.Similarity < threshold {
		slog.Info("Document face does not match best shot", "similarity", match.Similarity, "threshold", threshold)
		return res, &MismatchError{Similarity: match.Similarity, Threshold: threshold}
	}

	slog.Debug("Document face matches best shot", "similarity", match.Similarity, "threshold", threshold)
	return res, nil
}
