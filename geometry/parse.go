package geometry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// MalformedError 描述无法解析的多边形或顶点
type MalformedError struct {
	Polygon int // 多边形在列表中的下标
	Vertex  int // 顶点下标，-1 表示问题出在多边形本身
	Reason  string
}

func (e *MalformedError) Error() string {
	if e.Vertex < 0 {
		return fmt.Sprintf("polygon %d: %s", e.Polygon, e.Reason)
	}
	return fmt.Sprintf("polygon %d, vertex %d: %s", e.Polygon, e.Vertex, e.Reason)
}

var null = []byte("null")

// ParsePolygons 将 JSON 多边形列表解析为 Polygon，遇到第一个格式错误立即返回 *MalformedError
func ParsePolygons(raw []json.RawMessage) ([]Polygon, error) {
	polygons := make([]Polygon, 0, len(raw))
	for i, rp := range raw {
		p, err := parsePolygon(i, rp)
		if err != nil {
			return nil, err
		}
		polygons = append(polygons, p)
	}
	return polygons, nil
}

func parsePolygon(index int, raw json.RawMessage) (Polygon, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, null) || trimmed[0] != '[' {
		return nil, &MalformedError{Polygon: index, Vertex: -1, Reason: "expected a list of vertices"}
	}

	var vertices []json.RawMessage
	if err := json.Unmarshal(trimmed, &vertices); err != nil {
		return nil, &MalformedError{Polygon: index, Vertex: -1, Reason: err.Error()}
	}

	p := make(Polygon, 0, len(vertices))
	for j, rv := range vertices {
		pt, reason := parseVertex(rv)
		if reason != "" {
			return nil, &MalformedError{Polygon: index, Vertex: j, Reason: reason}
		}
		p = append(p, pt)
	}
	return p, nil
}

func parseVertex(raw json.RawMessage) (Point, string) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Point{}, "expected an object with numeric x and y"
	}

	// 键名区分大小写，{"X":1} 不算 x
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return Point{}, err.Error()
	}

	x, xReason := coordinate(fields, "x")
	y, yReason := coordinate(fields, "y")
	switch {
	case xReason == reasonMissing && yReason == reasonMissing:
		return Point{}, "missing x and y coordinates"
	case xReason == reasonMissing:
		return Point{}, "missing x coordinate"
	case xReason != "":
		return Point{}, xReason
	case yReason == reasonMissing:
		return Point{}, "missing y coordinate"
	case yReason != "":
		return Point{}, yReason
	}
	return Point{X: x, Y: y}, ""
}

const reasonMissing = "missing"

// coordinate 缺失或为 null 时返回 reasonMissing
func coordinate(fields map[string]json.RawMessage, name string) (float64, string) {
	raw, ok := fields[name]
	if !ok || bytes.Equal(bytes.TrimSpace(raw), null) {
		return 0, reasonMissing
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return 0, fmt.Sprintf("%s must be a number, got %s", name, typeErr.Value)
		}
		return 0, err.Error()
	}
	return v, ""
}

// TotalAreaJSON 解析并求和，格式错误时不返回部分结果
func TotalAreaJSON(raw []json.RawMessage) (float64, error) {
	polygons, err := ParsePolygons(raw)
	if err != nil {
		return 0, err
	}
	return TotalArea(polygons), nil
}
