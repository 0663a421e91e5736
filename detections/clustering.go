package detections

import (
	"math"
	"sort"

	"github.com/Tutortoise/face-attendance-service/models"
)

const (
	DefaultClusterIoU = 0.45
	// minClusterDiameter keeps the neighbourhood useful when every box is tiny.
	minClusterDiameter = 50.0

	noise = -1
)

// BoxClusterer collapses the overlapping raw boxes the detector emits for
// one face. Boxes are grouped with DBSCAN over their corner coordinates, with
// a radius that follows the median box size. Boxes left as noise join the
// first group they overlap by more than IoU.
type BoxClusterer struct {
	IoU       float64
	MinRadius float64
}

func NewBoxClusterer(iou float64) BoxClusterer {
	if iou <= 0 || iou >= 1 {
		iou = DefaultClusterIoU
	}
	return BoxClusterer{IoU: iou, MinRadius: minClusterDiameter / 2}
}

// Cluster returns one box per face: groups in discovery order, then the
// noise boxes that overlapped nothing.
func (c BoxClusterer) Cluster(dets []models.Detection) [][4]int32 {
	if len(dets) == 0 {
		return nil
	}

	radius := max(medianSide(dets)/2, c.MinRadius)
	minPoints := 1
	if len(dets) > 3 {
		minPoints = 2
	}
	labels := dbscan(dets, radius, minPoints)

	var groups [][][4]int32
	for i, l := range labels {
		if l == noise {
			continue
		}
		for len(groups) <= l {
			groups = append(groups, nil)
		}
		groups[l] = append(groups[l], dets[i].BBox)
	}

	var loose [][4]int32
	for i, l := range labels {
		if l != noise {
			continue
		}
		box := dets[i].BBox
		if g := c.overlapping(groups, box); g >= 0 {
			groups[g] = append(groups[g], box)
		} else {
			loose = append(loose, box)
		}
	}

	out := make([][4]int32, 0, len(groups)+len(loose))
	for _, g := range groups {
		out = append(out, boundingBox(g))
	}
	return append(out, loose...)
}

func (c BoxClusterer) overlapping(groups [][][4]int32, box [4]int32) int {
	for g, members := range groups {
		for _, m := range members {
			if iou(box, m) > c.IoU {
				return g
			}
		}
	}
	return -1
}

// medianSide is the median of sqrt(area) over all boxes.
func medianSide(dets []models.Detection) float64 {
	sides := make([]float64, len(dets))
	for i, d := range dets {
		w := float64(d.BBox[2] - d.BBox[0])
		h := float64(d.BBox[3] - d.BBox[1])
		sides[i] = math.Sqrt(w * h)
	}
	sort.Float64s(sides)
	return sides[len(sides)/2]
}

func iou(a, b [4]int32) float64 {
	x1, y1 := max(a[0], b[0]), max(a[1], b[1])
	x2, y2 := min(a[2], b[2]), min(a[3], b[3])
	if x2 <= x1 || y2 <= y1 {
		return 0
	}

	inter := float64(x2-x1) * float64(y2-y1)
	areaA := float64(a[2]-a[0]) * float64(a[3]-a[1])
	areaB := float64(b[2]-b[0]) * float64(b[3]-b[1])
	return inter / (areaA + areaB - inter)
}

func boundingBox(boxes [][4]int32) [4]int32 {
	out := boxes[0]
	for _, b := range boxes[1:] {
		out[0] = min(out[0], b[0])
		out[1] = min(out[1], b[1])
		out[2] = max(out[2], b[2])
		out[3] = max(out[3], b[3])
	}
	return out
}

// dbscan labels each detection with a cluster index, or noise.
func dbscan(dets []models.Detection, radius float64, minPoints int) []int {
	labels := make([]int, len(dets))
	for i := range labels {
		labels[i] = noise
	}

	next := 0
	for i := range dets {
		if labels[i] != noise {
			continue
		}
		seeds := neighbours(dets, i, radius)
		if len(seeds) < minPoints {
			continue
		}

		labels[i] = next
		for k := 0; k < len(seeds); k++ {
			j := seeds[k]
			if labels[j] != noise {
				continue
			}
			labels[j] = next
			if more := neighbours(dets, j, radius); len(more) >= minPoints {
				seeds = append(seeds, more...)
			}
		}
		next++
	}
	return labels
}

func neighbours(dets []models.Detection, i int, radius float64) []int {
	var out []int
	for j := range dets {
		if cornerDistance(dets[i].BBox, dets[j].BBox) <= radius {
			out = append(out, j)
		}
	}
	return out
}

func cornerDistance(a, b [4]int32) float64 {
	var sum float64
	for k := range a {
		d := float64(a[k] - b[k])
		sum += d * d
	}
	return math.Sqrt(sum)
}
