package vision

import (
	"context"
	"image"
	"math"

	"github.com/radprogressor-server/internal/domain"
)

// IntensityClassifier derives label probabilities from regional brightness
// statistics of the normalized image. It is deterministic and needs no model
// weights; it makes no clinical claim and exists so the pipeline can run
// without an inference server.
type IntensityClassifier struct{}

// NewIntensityClassifier creates a local, deterministic vision classifier
func NewIntensityClassifier() *IntensityClassifier {
	return &IntensityClassifier{}
}

type regionStats struct {
	mean   float64
	stddev float64
}

// Predict implements domain.VisionClassifier.
func (c *IntensityClassifier) Predict(ctx context.Context, img *image.Gray) (domain.FindingsVector, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if img == nil || img.Bounds().Empty() {
		return nil, domain.NewValidationError("image", "image is empty", nil)
	}

	b := img.Bounds()
	midX := b.Min.X + b.Dx()/2
	midY := b.Min.Y + b.Dy()/2

	whole := stats(img, b)
	upper := stats(img, image.Rect(b.Min.X, b.Min.Y, b.Max.X, midY))
	lower := stats(img, image.Rect(b.Min.X, midY, b.Max.X, b.Max.Y))
	leftLower := stats(img, image.Rect(b.Min.X, midY, midX, b.Max.Y))
	rightLower := stats(img, image.Rect(midX, midY, b.Max.X, b.Max.Y))
	asymmetry := math.Abs(leftLower.mean - rightLower.mean)

	return domain.NewFindingsVector(map[domain.Label]float64{
		domain.Atelectasis:   sigmoid(8 * (asymmetry - 0.15)),
		domain.Consolidation: sigmoid(6 * (lower.mean - 0.6)),
		domain.Effusion:      sigmoid(6 * (lower.mean - upper.mean - 0.2)),
		domain.Infiltration:  sigmoid(10 * (whole.stddev - 0.3)),
		domain.Pneumonia:     sigmoid(5 * (whole.mean + lower.stddev - 0.9)),
	})
}

func stats(img *image.Gray, r image.Rectangle) regionStats {
	r = r.Intersect(img.Bounds())
	n := float64(r.Dx() * r.Dy())
	if n == 0 {
		return regionStats{}
	}

	var sum, sumSq float64
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			v := float64(img.GrayAt(x, y).Y) / 255
			sum += v
			sumSq += v * v
		}
	}
	mean := sum / n
	variance := sumSq/n - mean*mean
	if variance < 0 {
		variance = 0
	}
	return regionStats{mean: mean, stddev: math.Sqrt(variance)}
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
