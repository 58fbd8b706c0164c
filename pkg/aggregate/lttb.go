// LTTB smoothing enrichment (SPEC_FULL.md §4.9 addition): downsamples
// a result series to a target point count for chart-friendly rendering
// without a fixed time interval. Ported directly from the teacher's
// resampler.LargestTriangleThreeBucket (pkg/resampler/resampler.go),
// adapted to operate on compress.Sample (ts, value) pairs instead of a
// fixed-frequency schema.Float slice, since the TSDB's samples are not
// necessarily evenly spaced.
package aggregate

import (
	"fmt"
	"math"

	"github.com/nova-ts/tsdb/pkg/compress"
)

// LTTB reduces samples to at most targetPoints points using the
// Largest-Triangle-Three-Buckets algorithm, preserving visual shape
// better than naive stride decimation. Series with fewer than 100
// samples are returned unchanged, whatever targetPoints is.
func LTTB(samples []compress.Sample, targetPoints int) ([]compress.Sample, error) {
	if targetPoints <= 0 {
		return nil, fmt.Errorf("aggregate: targetPoints must be positive")
	}
	if len(samples) < 100 || targetPoints >= len(samples) {
		return samples, nil
	}

	out := make([]compress.Sample, 0, targetPoints)
	out = append(out, samples[0])

	bucketSize := float64(len(samples)-2) / float64(targetPoints-2)

	bucketLow := 1
	bucketMiddle := int(math.Floor(bucketSize)) + 1
	prevMaxAreaPoint := 0

	for i := 0; i < targetPoints-2; i++ {
		bucketHigh := int(math.Floor(float64(i+2)*bucketSize)) + 1
		if bucketHigh >= len(samples)-1 {
			bucketHigh = len(samples) - 2
		}

		avgX, avgY := averagePoint(samples[bucketMiddle : bucketHigh+1])

		pointX := float64(prevMaxAreaPoint)
		pointY := samples[prevMaxAreaPoint].Value

		maxArea := -1.0
		maxAreaPoint := bucketLow
		for j := bucketLow; j < bucketMiddle; j++ {
			area := triangleArea(pointX, float64(pointY), avgX, avgY, float64(j), float64(samples[j].Value))
			if area > maxArea {
				maxArea = area
				maxAreaPoint = j
			}
		}

		out = append(out, samples[maxAreaPoint])
		prevMaxAreaPoint = maxAreaPoint

		bucketLow = bucketMiddle
		bucketMiddle = bucketHigh
	}

	out = append(out, samples[len(samples)-1])
	return out, nil
}

func averagePoint(window []compress.Sample) (x, y float64) {
	if len(window) == 0 {
		return 0, 0
	}
	var sumY float64
	for _, s := range window {
		sumY += float64(s.Value)
	}
	return float64(len(window)) / 2, sumY / float64(len(window))
}

func triangleArea(ax, ay, bx, by, cx, cy float64) float64 {
	return math.Abs((ax-cx)*(by-ay)-(ax-bx)*(cy-ay)) * 0.5
}
