// Package geometry 实现多边形表示与面积计算
package geometry

import "math"

// Point 图像像素坐标系中的点，y 轴向下
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Polygon 有序顶点序列，末点与首点之间隐含一条闭合边
type Polygon []Point

// MinVertices 构成非退化多边形所需的最少顶点数
const MinVertices = 3

// PolygonArea 使用鞋带公式计算多边形面积
//
// 顶点少于 3 个时返回 0。结果取绝对值，与顶点的顺时针/逆时针顺序无关。
// 自相交多边形返回公式的自然结果（各环带符号面积之和的绝对值），
// 并非直观意义上的"围成面积"，例如 8 字形的两个环会相互抵消。
func PolygonArea(p Polygon) float64 {
	n := len(p)
	if n < MinVertices {
		return 0
	}

	sum := 0.0
	prev := p[n-1]
	for _, cur := range p {
		sum += cur.X*prev.Y - cur.Y*prev.X
		prev = cur
	}

	return 0.5 * math.Abs(sum)
}

// TotalArea 各多边形面积之和，重叠区域会被重复计算
func TotalArea(ps []Polygon) float64 {
	total := 0.0
	for _, p := range ps {
		total += PolygonArea(p)
	}
	return total
}
