package humanize

import (
	"math"
	"testing"
)

func TestGenerateBezierPathEndpoints(t *testing.T) {
	start := Point{X: 10, Y: 20}
	end := Point{X: 500, Y: 400}

	path := generateBezierPath(start, end, 25)

	if len(path) != 25 {
		t.Fatalf("Expected 25 points, got %d", len(path))
	}

	first := path[0]
	if math.Abs(first.X-start.X) > 0.001 || math.Abs(first.Y-start.Y) > 0.001 {
		t.Errorf("Path must begin at the start point, got (%f, %f)", first.X, first.Y)
	}

	last := path[len(path)-1]
	if math.Abs(last.X-end.X) > 0.001 || math.Abs(last.Y-end.Y) > 0.001 {
		t.Errorf("Path must end at the target point, got (%f, %f)", last.X, last.Y)
	}
}

func TestGenerateBezierPathIsCurved(t *testing.T) {
	start := Point{X: 0, Y: 0}
	end := Point{X: 1000, Y: 0}

	// With randomized control points at least one interior point should
	// leave the straight line between start and end.
	curved := false
	for attempt := 0; attempt < 5 && !curved; attempt++ {
		path := generateBezierPath(start, end, 30)
		for _, p := range path[1 : len(path)-1] {
			if math.Abs(p.Y) > 1.0 {
				curved = true
				break
			}
		}
	}
	if !curved {
		t.Error("Expected Bezier path to deviate from the straight line")
	}
}

func TestGenerateBezierPathMinimumPoints(t *testing.T) {
	path := generateBezierPath(Point{X: 0, Y: 0}, Point{X: 10, Y: 10}, 1)
	if len(path) < 2 {
		t.Errorf("Expected at least 2 points, got %d", len(path))
	}
}

func TestGenerateBezierPathZeroDistance(t *testing.T) {
	p := Point{X: 100, Y: 100}
	path := generateBezierPath(p, p, 10)
	for i, pt := range path {
		if math.IsNaN(pt.X) || math.IsNaN(pt.Y) {
			t.Fatalf("Point %d is NaN for zero-distance path", i)
		}
	}
}

func TestEaseInOutCubic(t *testing.T) {
	if got := easeInOutCubic(0); got != 0 {
		t.Errorf("Expected easing(0) = 0, got %f", got)
	}
	if got := easeInOutCubic(1); math.Abs(got-1) > 0.001 {
		t.Errorf("Expected easing(1) = 1, got %f", got)
	}
	if got := easeInOutCubic(0.5); math.Abs(got-0.5) > 0.001 {
		t.Errorf("Expected easing(0.5) = 0.5, got %f", got)
	}

	// Monotonically non-decreasing across the unit interval.
	prev := -1.0
	for i := 0; i <= 100; i++ {
		v := easeInOutCubic(float64(i) / 100)
		if v < prev {
			t.Fatalf("Easing not monotonic at t=%f: %f < %f", float64(i)/100, v, prev)
		}
		prev = v
	}
}

func TestDefaultMouseConfig(t *testing.T) {
	cfg := DefaultMouseConfig()
	if cfg.MinSteps <= 0 || cfg.MaxSteps < cfg.MinSteps {
		t.Errorf("Invalid step bounds: %d..%d", cfg.MinSteps, cfg.MaxSteps)
	}
	if cfg.ClickOffsetRadius <= 0 {
		t.Error("Expected a positive click offset radius")
	}
}
