package humanize

import (
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// PageSurface 基于 rod 页面的 Surface 实现。
type PageSurface struct {
	Page *rod.Page
}

// NewPageSurface 包装 rod 页面。
func NewPageSurface(page *rod.Page) *PageSurface {
	return &PageSurface{Page: page}
}

func (p *PageSurface) MoveMouse(x, y float64) error {
	return p.Page.Mouse.MoveTo(proto.Point{X: x, Y: y})
}

// ScrollBy 以真实滚轮事件滚动 dy 像素。
// 滚轮作用在指针所在元素上，指定 selector 时先把指针移进该元素。
func (p *PageSurface) ScrollBy(selector string, dy int) error {
	if selector != "" {
		if err := p.pointInto(selector); err != nil {
			return err
		}
	}
	// OrganicScroll 的每一帧对应一次滚轮事件
	return p.Page.Mouse.Scroll(0, float64(dy), 1)
}

func (p *PageSurface) pointInto(selector string) error {
	elements, err := p.Page.Elements(selector)
	if err != nil || len(elements) == 0 {
		return err
	}
	shape, err := elements[0].Shape()
	if err != nil || shape == nil {
		return err
	}
	box := shape.Box()
	if box == nil {
		return nil
	}
	pos := p.Page.Mouse.Position()
	if insideBox(Point{X: pos.X, Y: pos.Y}, box.X, box.Y, box.Width, box.Height) {
		return nil
	}
	return p.Page.Mouse.MoveTo(proto.Point{X: box.X + box.Width/2, Y: box.Y + box.Height/2})
}

// insideBox 判断点是否落在矩形内（含边界）。
func insideBox(pt Point, x, y, w, h float64) bool {
	return pt.X >= x && pt.X <= x+w && pt.Y >= y && pt.Y <= y+h
}

func (p *PageSurface) Centers(selector string) ([]Point, error) {
	elements, err := p.Page.Elements(selector)
	if err != nil {
		return nil, err
	}
	centers := make([]Point, 0, len(elements))
	for _, el := range elements {
		shape, err := el.Shape()
		if err != nil || shape == nil {
			continue
		}
		box := shape.Box()
		if box == nil || box.Width == 0 || box.Height == 0 {
			continue
		}
		centers = append(centers, Point{X: box.X + box.Width/2, Y: box.Y + box.Height/2})
	}
	return centers, nil
}

func (p *PageSurface) ViewportSize() (int, int, error) {
	res, err := p.Page.Eval(`() => ({ w: window.innerWidth, h: window.innerHeight })`)
	if err != nil {
		return 0, 0, err
	}
	return res.Value.Get("w").Int(), res.Value.Get("h").Int(), nil
}
