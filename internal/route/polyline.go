package route

import "errors"

var errTruncatedPolyline = errors.New("truncated polyline")

// point is a decoded coordinate pair.
type point struct {
	Lat float64
	Lon float64
}

// decodePolyline decodes an encoded polyline with five decimal places of precision.
// Each coordinate is a zig-zag encoded signed delta split into 5-bit chunks offset by 63.
func decodePolyline(encoded string) ([]point, error) {
	var (
		points   []point
		lat, lon int
		index    int
	)
	for index < len(encoded) {
		dLat, next, err := decodeValue(encoded, index)
		if err != nil {
			return nil, err
		}
		dLon, next, err := decodeValue(encoded, next)
		if err != nil {
			return nil, err
		}
		index = next
		lat += dLat
		lon += dLon
		points = append(points, point{Lat: float64(lat) / 1e5, Lon: float64(lon) / 1e5})
	}
	return points, nil
}

func decodeValue(encoded string, index int) (int, int, error) {
	var result, shift int
	for {
		if index >= len(encoded) {
			return 0, index, errTruncatedPolyline
		}
		b := int(encoded[index]) - 63
		index++
		result |= (b & 0x1f) << shift
		shift += 5
		if b < 0x20 {
			break
		}
	}
	if result&1 != 0 {
		return ^(result >> 1), index, nil
	}
	return result >> 1, index, nil
}
