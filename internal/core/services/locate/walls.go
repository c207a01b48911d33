package locate

import (
	"fmt"
	"math"
	"sort"

	"github.com/lcalzada-xor/wmesh/internal/core/domain"
)

const (
	// wallThresholdDB is the minimum attenuation below the free-space
	// expectation that counts as an obstruction.
	wallThresholdDB = 5
	// clusterToleranceM groups attenuation midpoints into one wall.
	clusterToleranceM = 2
)

type attenuation struct {
	midpoint domain.Point3D
	floor    int
	deltaDB  float64
}

// DetectWalls infers walls from path-loss residuals: for every (device,
// node) reading whose RSSI is at least 5 dB below the model's expectation at
// the straight-line distance, an attenuation delta is recorded at the
// link midpoint; deltas are clustered by midpoint and classified by
// magnitude. floor, when non-nil, restricts the result to one floor.
func (t *Triangulator) DetectWalls(positions []domain.DevicePosition, samples map[string]map[string]domain.SignalSample, floor *int) ([]domain.Wall, error) {
	var deltas []attenuation

	for _, dp := range positions {
		perNode := samples[dp.DeviceMAC]
		for nodeMAC, s := range perNode {
			np, ok := t.NodePosition(nodeMAC)
			if !ok {
				continue
			}
			dist := distance3D(dp.Position, np.Position)
			expected := t.ExpectedRSSI(dist)
			delta := expected - float64(s.RSSI)
			if delta < wallThresholdDB {
				continue
			}
			deltas = append(deltas, attenuation{
				midpoint: midpoint(dp.Position, np.Position),
				floor:    np.Floor,
				deltaDB:  delta,
			})
		}
	}

	if len(deltas) == 0 {
		return nil, fmt.Errorf("%w: no attenuated links observed", domain.ErrInsufficientData)
	}

	walls := clusterWalls(deltas)
	if floor != nil {
		filtered := walls[:0]
		for _, w := range walls {
			if w.Floor == *floor {
				filtered = append(filtered, w)
			}
		}
		walls = filtered
	}

	sort.Slice(walls, func(i, j int) bool { return walls[i].AttenuationDB > walls[j].AttenuationDB })
	return walls, nil
}

func clusterWalls(deltas []attenuation) []domain.Wall {
	type cluster struct {
		sumX, sumY, sumZ float64
		sumDelta         float64
		floor            int
		count            int
	}

	var clusters []*cluster
	for _, d := range deltas {
		var best *cluster
		for _, c := range clusters {
			centre := domain.Point3D{
				X: c.sumX / float64(c.count),
				Y: c.sumY / float64(c.count),
				Z: c.sumZ / float64(c.count),
			}
			if c.floor == d.floor && distance3D(centre, d.midpoint) <= clusterToleranceM {
				best = c
				break
			}
		}
		if best == nil {
			best = &cluster{floor: d.floor}
			clusters = append(clusters, best)
		}
		best.sumX += d.midpoint.X
		best.sumY += d.midpoint.Y
		best.sumZ += d.midpoint.Z
		best.sumDelta += d.deltaDB
		best.count++
	}

	walls := make([]domain.Wall, 0, len(clusters))
	for _, c := range clusters {
		n := float64(c.count)
		avg := c.sumDelta / n
		conf := 0.3 + 0.1*n
		if conf > 1 {
			conf = 1
		}
		walls = append(walls, domain.Wall{
			Midpoint:      domain.Point3D{X: c.sumX / n, Y: c.sumY / n, Z: c.sumZ / n},
			Floor:         c.floor,
			AttenuationDB: avg,
			Material:      materialFor(avg),
			Confidence:    conf,
			SampleCount:   c.count,
		})
	}
	return walls
}

// materialFor classifies a wall by its average attenuation.
func materialFor(deltaDB float64) domain.WallMaterial {
	switch {
	case deltaDB <= 5:
		return domain.MaterialGlass
	case deltaDB <= 10:
		return domain.MaterialDrywall
	case deltaDB <= 18:
		return domain.MaterialBrick
	case deltaDB <= 30:
		return domain.MaterialConcrete
	default:
		return domain.MaterialUnknown
	}
}

func midpoint(a, b domain.Point3D) domain.Point3D {
	return domain.Point3D{X: (a.X + b.X) / 2, Y: (a.Y + b.Y) / 2, Z: (a.Z + b.Z) / 2}
}

func distance3D(a, b domain.Point3D) float64 {
	return math.Sqrt(sq(a.X-b.X) + sq(a.Y-b.Y) + sq(a.Z-b.Z))
}
