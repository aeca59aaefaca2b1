package main

import (
	"fmt"
	"strconv"
	"strings"
)

// geometry is a parsed WKT value. Rings holds the polygon rings, Coords
// the point or line coordinates.
type geometry struct {
	Kind   string // POINT, LINESTRING or POLYGON
	Coords [][]float64
	Rings  [][][]float64
}

// parseWKT reads the 2D POINT, LINESTRING and POLYGON forms. Z and M
// ordinates are dropped.
func parseWKT(s string) (geometry, error) {
	s = strings.TrimSpace(s)
	open := strings.IndexByte(s, '(')
	if open == -1 || !strings.HasSuffix(s, ")") {
		return geometry{}, fmt.Errorf("wkt %q: missing parentheses", abbreviate(s))
	}
	tag := strings.Fields(strings.ToUpper(s[:open]))
	if len(tag) == 0 {
		return geometry{}, fmt.Errorf("wkt %q: missing geometry type", abbreviate(s))
	}
	kind := tag[0]
	body := s[open+1 : len(s)-1]

	g := geometry{Kind: kind}
	var err error
	switch kind {
	case "POINT":
		g.Coords, err = parseCoords(body)
		if err == nil && len(g.Coords) != 1 {
			err = fmt.Errorf("point with %d coordinates", len(g.Coords))
		}
	case "LINESTRING":
		g.Coords, err = parseCoords(body)
		if err == nil && len(g.Coords) < 2 {
			err = fmt.Errorf("linestring with %d coordinates", len(g.Coords))
		}
	case "POLYGON":
		for _, ring := range splitRings(body) {
			c, rerr := parseCoords(ring)
			if rerr != nil {
				err = rerr
				break
			}
			// the scene format does not repeat the first vertex
			if len(c) > 1 && c[0][0] == c[len(c)-1][0] && c[0][1] == c[len(c)-1][1] {
				c = c[:len(c)-1]
			}
			g.Rings = append(g.Rings, c)
		}
		if err == nil && len(g.Rings) == 0 {
			err = fmt.Errorf("polygon without rings")
		}
	default:
		err = fmt.Errorf("unsupported geometry %s", kind)
	}
	if err != nil {
		return geometry{}, fmt.Errorf("wkt %q: %w", abbreviate(s), err)
	}
	return g, nil
}

// splitRings splits "(a b, c d), (e f, ...)" into the ring bodies.
func splitRings(body string) []string {
	var rings []string
	depth, start := 0, -1
	for i, ch := range body {
		switch ch {
		case '(':
			if depth == 0 {
				start = i + 1
			}
			depth++
		case ')':
			depth--
			if depth == 0 && start >= 0 {
				rings = append(rings, body[start:i])
				start = -1
			}
		}
	}
	return rings
}

func parseCoords(body string) ([][]float64, error) {
	var out [][]float64
	for _, part := range strings.Split(body, ",") {
		fields := strings.Fields(part)
		if len(fields) < 2 {
			return nil, fmt.Errorf("coordinate %q", strings.TrimSpace(part))
		}
		x, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return nil, err
		}
		y, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return nil, err
		}
		out = append(out, []float64{x, y})
	}
	return out, nil
}

func abbreviate(s string) string {
	if len(s) > 40 {
		return s[:37] + "..."
	}
	return s
}
