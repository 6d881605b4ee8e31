package humanize

import "math/rand"

// Point 视口坐标。
type Point struct {
	X float64
	Y float64
}

// BezierPath 生成从 start 到 end 的二次贝塞尔轨迹，共 steps+1 个点。
//
// 控制点在两端连线上随机取一点后再叠加 ±50px 的偏移，
// 首点等于 start，末点等于 end。
func BezierPath(start, end Point, steps int, rng *rand.Rand) []Point {
	if steps < 1 {
		steps = 1
	}
	ctrl := Point{
		X: start.X + (end.X-start.X)*rng.Float64() + (rng.Float64()*100 - 50),
		Y: start.Y + (end.Y-start.Y)*rng.Float64() + (rng.Float64()*100 - 50),
	}

	points := make([]Point, 0, steps+1)
	for i := 0; i <= steps; i++ {
		t := float64(i) / float64(steps)
		u := 1 - t
		points = append(points, Point{
			X: u*u*start.X + 2*u*t*ctrl.X + t*t*end.X,
			Y: u*u*start.Y + 2*u*t*ctrl.Y + t*t*end.Y,
		})
	}
	return points
}

// EaseOutQuad 二次缓出曲线，t 取值 [0,1]。
func EaseOutQuad(t float64) float64 {
	return t * (2 - t)
}

// ScrollDeltas 将 total 像素按缓出曲线拆成 steps 帧，各帧之和恰好等于 total。
func ScrollDeltas(total, steps int) []int {
	if steps < 1 {
		steps = 1
	}
	deltas := make([]int, 0, steps)
	current := 0
	for i := 1; i <= steps; i++ {
		next := int(float64(total) * EaseOutQuad(float64(i)/float64(steps)))
		if i == steps {
			next = total
		}
		deltas = append(deltas, next-current)
		current = next
	}
	return deltas
}
