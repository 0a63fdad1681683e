// pkg/viewport/viewport.go
package viewport

import "math"

// Mapping 源屏幕与观察端画布之间的坐标映射
// 渲染与命中测试必须使用同一个 Mapping，避免缩放/偏移不一致
type Mapping struct {
	SourceW int
	SourceH int
	ViewerW int
	ViewerH int
}

// Rect 画布上的绘制区域
type Rect struct {
	X int
	Y int
	W int
	H int
}

// New 创建映射，尺寸必须为正
func New(sourceW, sourceH, viewerW, viewerH int) Mapping {
	return Mapping{
		SourceW: sourceW,
		SourceH: sourceH,
		ViewerW: viewerW,
		ViewerH: viewerH,
	}
}

// Valid 检查映射尺寸是否可用
func (m Mapping) Valid() bool {
	return m.SourceW > 0 && m.SourceH > 0 && m.ViewerW > 0 && m.ViewerH > 0
}

// scale 等比缩放系数，取宽高方向中较小者
func (m Mapping) scale() float64 {
	sx := float64(m.ViewerW) / float64(m.SourceW)
	sy := float64(m.ViewerH) / float64(m.SourceH)
	return math.Min(sx, sy)
}

// Fit 等比缩放后帧在画布上的绘制区域（信箱模式，居中）
func (m Mapping) Fit() Rect {
	s := m.scale()
	w := int(math.Round(float64(m.SourceW) * s))
	h := int(math.Round(float64(m.SourceH) * s))
	return Rect{
		X: (m.ViewerW - w) / 2,
		Y: (m.ViewerH - h) / 2,
		W: w,
		H: h,
	}
}

// ToSource 将画布坐标换算为源屏幕坐标
// 点落在信箱黑边内时返回 ok=false
func (m Mapping) ToSource(vx, vy int) (x, y int, ok bool) {
	if !m.Valid() {
		return 0, 0, false
	}

	fit := m.Fit()
	if vx < fit.X || vy < fit.Y || vx >= fit.X+fit.W || vy >= fit.Y+fit.H {
		return 0, 0, false
	}

	// realX = round(viewerX * sourceW / viewerW)，先扣除信箱偏移
	x = int(math.Round(float64(vx-fit.X) * float64(m.SourceW) / float64(fit.W)))
	y = int(math.Round(float64(vy-fit.Y) * float64(m.SourceH) / float64(fit.H)))

	// 四舍五入可能正好落在右/下边界外一个像素
	x = clamp(x, 0, m.SourceW-1)
	y = clamp(y, 0, m.SourceH-1)
	return x, y, true
}

// FromSource 将源屏幕坐标换算为画布坐标，ToSource 的逆映射
func (m Mapping) FromSource(x, y int) (vx, vy int) {
	fit := m.Fit()
	vx = fit.X + int(math.Round(float64(x)*float64(fit.W)/float64(m.SourceW)))
	vy = fit.Y + int(math.Round(float64(y)*float64(fit.H)/float64(m.SourceH)))
	return vx, vy
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
