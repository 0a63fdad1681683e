package viewport

import "testing"

func TestFit_Letterbox(t *testing.T) {
	// 16:9 源放进 4:3 画布，上下留边
	m := Mapping{SourceW: 1920, SourceH: 1080, ViewerW: 800, ViewerH: 600}

	r := m.Fit()
	if r.W != 800 {
		t.Fatalf("expected full width 800, got %d", r.W)
	}
	if r.H != 450 {
		t.Fatalf("expected scaled height 450, got %d", r.H)
	}
	if r.X != 0 {
		t.Errorf("expected x offset 0, got %d", r.X)
	}
	if r.Y != 75 {
		t.Errorf("expected centered y offset 75, got %d", r.Y)
	}
}

func TestToSource_CornersStayInBounds(t *testing.T) {
	m := Mapping{SourceW: 1920, SourceH: 1080, ViewerW: 800, ViewerH: 600}
	r := m.Fit()

	// 画面区域四角换算后必须落在源屏幕范围内
	corners := [][2]int{
		{r.X, r.Y},
		{r.X + r.W - 1, r.Y},
		{r.X, r.Y + r.H - 1},
		{r.X + r.W - 1, r.Y + r.H - 1},
	}
	for _, c := range corners {
		x, y, ok := m.ToSource(c[0], c[1])
		if !ok {
			t.Fatalf("corner (%d, %d) rejected", c[0], c[1])
		}
		if x < 0 || x >= m.SourceW || y < 0 || y >= m.SourceH {
			t.Errorf("corner (%d, %d) mapped out of bounds: (%d, %d)", c[0], c[1], x, y)
		}
	}
}

func TestToSource_RejectsLetterboxMargin(t *testing.T) {
	m := Mapping{SourceW: 1920, SourceH: 1080, ViewerW: 800, ViewerH: 600}

	// 上边距在画面区域之外
	if _, _, ok := m.ToSource(400, 10); ok {
		t.Error("click on letterbox margin should be rejected")
	}
	if _, _, ok := m.ToSource(400, 590); ok {
		t.Error("click on bottom margin should be rejected")
	}
}

func TestToSource_RoundTrip(t *testing.T) {
	m := Mapping{SourceW: 1920, SourceH: 1080, ViewerW: 960, ViewerH: 540}

	// 2:1 整数缩放下往返换算应当精确
	sx, sy := 1000, 500
	vx, vy := m.FromSource(sx, sy)
	gotX, gotY, ok := m.ToSource(vx, vy)
	if !ok {
		t.Fatalf("to source (%d, %d) rejected", vx, vy)
	}
	if gotX != sx || gotY != sy {
		t.Errorf("round trip drifted: (%d, %d) -> (%d, %d)", sx, sy, gotX, gotY)
	}
}

func TestToSource_ZeroSource(t *testing.T) {
	// 未收到帧之前源尺寸为零，任何坐标都不可换算
	m := Mapping{ViewerW: 800, ViewerH: 600}
	if _, _, ok := m.ToSource(100, 100); ok {
		t.Error("mapping without source dimensions should reject all coordinates")
	}
}
