// Package locate converts RSSI observations into device positions using a
// log-distance path-loss model, and infers walls from path-loss residuals.
package locate

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/lcalzada-xor/wmesh/internal/core/domain"
)

const (
	minDistanceM = 0.5
	rssiFloor    = -100
	rssiCeil     = -20
)

// Bounds is the house bounding box used to break ambiguity between two
// candidate solutions.
type Bounds struct {
	MinX, MinY float64
	MaxX, MaxY float64
}

// Contains reports whether a point lies inside the box (Z ignored).
func (b Bounds) Contains(p domain.Point3D) bool {
	return p.X >= b.MinX && p.X <= b.MaxX && p.Y >= b.MinY && p.Y <= b.MaxY
}

// Config tunes the path-loss model. One pair of parameters per deployment;
// call sites must not carry their own constants.
type Config struct {
	RefRSSI     float64 // reference RSSI at 1 m, default -40 dBm
	Exponent    float64 // path-loss exponent, default 3.5
	FloorHeight float64 // metres between floor ordinals, default 3
	Bounds      *Bounds // optional house bounding box
}

func (c Config) withDefaults() Config {
	if c.RefRSSI == 0 {
		c.RefRSSI = -40
	}
	if c.Exponent == 0 {
		c.Exponent = 3.5
	}
	if c.FloorHeight == 0 {
		c.FloorHeight = 3
	}
	return c
}

// Triangulator solves device positions from per-node RSSI readings and the
// registered node positions.
type Triangulator struct {
	mu        sync.RWMutex
	cfg       Config
	positions map[string]domain.NodePosition // keyed by node id (canonical MAC)
}

// New creates a triangulator. Zero config fields select the defaults.
func New(cfg Config) *Triangulator {
	return &Triangulator{
		cfg:       cfg.withDefaults(),
		positions: make(map[string]domain.NodePosition),
	}
}

// SetNodePosition registers or replaces the surveyed position of a node.
// When Z is zero it is defaulted from the floor ordinal.
func (t *Triangulator) SetNodePosition(pos domain.NodePosition) {
	pos.NodeID = domain.CanonicalMAC(pos.NodeID)
	if pos.Position.Z == 0 && pos.Floor != 0 {
		pos.Position.Z = float64(pos.Floor) * t.cfg.FloorHeight
	}
	t.mu.Lock()
	t.positions[pos.NodeID] = pos
	t.mu.Unlock()
}

// NodePositions returns the registered positions, sorted by node id.
func (t *Triangulator) NodePositions() []domain.NodePosition {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]domain.NodePosition, 0, len(t.positions))
	for _, p := range t.positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
	return out
}

// NodePosition returns one registered position.
func (t *Triangulator) NodePosition(nodeID string) (domain.NodePosition, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.positions[domain.CanonicalMAC(nodeID)]
	return p, ok
}

// Distance converts an RSSI to a distance estimate in metres using the
// log-distance model d = 10^((P0 - rssi) / (10 n)). RSSI is clamped to
// [-100, -20] and the result to >= 0.5 m.
func (t *Triangulator) Distance(rssi int) float64 {
	r := float64(rssi)
	if r < rssiFloor {
		r = rssiFloor
	}
	if r > rssiCeil {
		r = rssiCeil
	}
	d := math.Pow(10, (t.cfg.RefRSSI-r)/(10*t.cfg.Exponent))
	if d < minDistanceM {
		return minDistanceM
	}
	return d
}

// ExpectedRSSI is the model's RSSI at a straight-line distance, used for
// residual (wall) analysis.
func (t *Triangulator) ExpectedRSSI(distanceM float64) float64 {
	if distanceM < minDistanceM {
		distanceM = minDistanceM
	}
	return t.cfg.RefRSSI - 10*t.cfg.Exponent*math.Log10(distanceM)
}

type reading struct {
	node domain.NodePosition
	rssi int
	dist float64
}

// Locate solves the position of one device from its freshest per-node
// samples. Three or more non-collinear nodes give trilateration, two give
// bilateration, one gives a deterministic single-node fallback. Nodes
// without a registered position are ignored.
func (t *Triangulator) Locate(deviceMAC string, samples map[string]domain.SignalSample) (domain.DevicePosition, error) {
	deviceMAC = domain.CanonicalMAC(deviceMAC)

	t.mu.RLock()
	var rs []reading
	for nodeMAC, s := range samples {
		pos, ok := t.positions[domain.CanonicalMAC(nodeMAC)]
		if !ok {
			continue
		}
		rs = append(rs, reading{node: pos, rssi: s.RSSI, dist: t.Distance(s.RSSI)})
	}
	t.mu.RUnlock()

	if len(rs) == 0 {
		return domain.DevicePosition{}, fmt.Errorf("%w: no samples with known node positions for %s", domain.ErrInsufficientData, deviceMAC)
	}

	// Strongest reading first; it anchors the floor plane and the
	// linearisation.
	sort.Slice(rs, func(i, j int) bool { return rs[i].rssi > rs[j].rssi })

	if len(rs) >= 2 && identicalReadings(rs) {
		return domain.DevicePosition{}, fmt.Errorf("%w: readings indistinguishable for %s", domain.ErrInsufficientData, deviceMAC)
	}

	floor := rs[0].node.Floor
	planeZ := rs[0].node.Position.Z

	var pos domain.DevicePosition
	var err error
	switch {
	case len(rs) >= 3 && !collinear(rs):
		pos, err = t.trilaterate(rs, planeZ)
	case len(rs) >= 2:
		pos = t.bilaterate(rs[0], rs[1], planeZ)
	default:
		pos = t.singleNode(rs[0], planeZ)
	}
	if err != nil {
		return domain.DevicePosition{}, err
	}

	pos.DeviceMAC = deviceMAC
	pos.Floor = floor
	for _, r := range rs {
		pos.Readings = append(pos.Readings, domain.PositionReading{
			NodeMAC:   r.node.NodeID,
			RSSI:      r.rssi,
			DistanceM: r.dist,
		})
	}
	return pos, nil
}

// trilaterate linearises the sphere system around the first (strongest)
// node, least-squares solves on the floor plane, then runs a few
// Gauss-Newton refinement steps on the range residuals.
func (t *Triangulator) trilaterate(rs []reading, planeZ float64) (domain.DevicePosition, error) {
	ref := rs[0]
	rx, ry := ref.node.Position.X, ref.node.Position.Y

	// Normal equations of the linearised system: for each other node i,
	// 2(xi-x0)x + 2(yi-y0)y = d0^2 - di^2 + |pi|^2 - |p0|^2 (Z folded into
	// the right-hand side at the floor plane).
	var a11, a12, a22, b1, b2 float64
	for _, r := range rs[1:] {
		ax := 2 * (r.node.Position.X - rx)
		ay := 2 * (r.node.Position.Y - ry)
		rhs := ref.dist*ref.dist - r.dist*r.dist +
			sq(r.node.Position.X) - sq(rx) +
			sq(r.node.Position.Y) - sq(ry) +
			sq(r.node.Position.Z-planeZ) - sq(ref.node.Position.Z-planeZ)
		a11 += ax * ax
		a12 += ax * ay
		a22 += ay * ay
		b1 += ax * rhs
		b2 += ay * rhs
	}

	det := a11*a22 - a12*a12
	if math.Abs(det) < 1e-9 {
		return domain.DevicePosition{}, fmt.Errorf("%w: degenerate node geometry", domain.ErrInsufficientData)
	}
	x := (a22*b1 - a12*b2) / det
	y := (a11*b2 - a12*b1) / det

	x, y = t.refine(rs, x, y, planeZ)

	p := domain.Point3D{X: x, Y: y, Z: planeZ}
	resid := meanResidual(rs, p)

	// Residual of zero maps to full confidence, 4 m or worse to the 0.6
	// floor for trilateration.
	conf := 1.0 - resid/10
	if conf > 1 {
		conf = 1
	}
	if conf < 0.6 {
		conf = 0.6
	}

	return domain.DevicePosition{
		Position:   p,
		Confidence: conf,
		Method:     domain.MethodTrilateration,
	}, nil
}

// refine runs up to eight Gauss-Newton iterations on the range residuals
// |p - pi| - di, weighted by 1/di so near (strong) readings dominate.
func (t *Triangulator) refine(rs []reading, x, y, planeZ float64) (float64, float64) {
	for iter := 0; iter < 8; iter++ {
		var j11, j12, j22, g1, g2 float64
		for _, r := range rs {
			dx := x - r.node.Position.X
			dy := y - r.node.Position.Y
			dz := planeZ - r.node.Position.Z
			dist := math.Sqrt(dx*dx + dy*dy + dz*dz)
			if dist < 1e-6 {
				continue
			}
			w := 1 / r.dist
			res := dist - r.dist
			jx := dx / dist
			jy := dy / dist
			j11 += w * jx * jx
			j12 += w * jx * jy
			j22 += w * jy * jy
			g1 += w * jx * res
			g2 += w * jy * res
		}
		det := j11*j22 - j12*j12
		if math.Abs(det) < 1e-9 {
			break
		}
		stepX := (j22*g1 - j12*g2) / det
		stepY := (j11*g2 - j12*g1) / det
		x -= stepX
		y -= stepY
		if math.Hypot(stepX, stepY) < 1e-3 {
			break
		}
	}

	// Ambiguity tie-break: if the mirrored solution across the reference
	// node is inside the bounding box while this one is not, prefer it.
	if t.cfg.Bounds != nil {
		p := domain.Point3D{X: x, Y: y, Z: planeZ}
		if !t.cfg.Bounds.Contains(p) {
			ref := rs[0].node.Position
			mirror := domain.Point3D{X: 2*ref.X - x, Y: 2*ref.Y - y, Z: planeZ}
			if t.cfg.Bounds.Contains(mirror) && meanResidual(rs, mirror) <= meanResidual(rs, p) {
				return mirror.X, mirror.Y
			}
		}
	}
	return x, y
}

// bilaterate returns the midpoint of the two circle intersections on the
// floor plane, which is the foot of the radical axis on the centre line.
func (t *Triangulator) bilaterate(r1, r2 reading, planeZ float64) domain.DevicePosition {
	p1, p2 := r1.node.Position, r2.node.Position
	dx := p2.X - p1.X
	dy := p2.Y - p1.Y
	d := math.Hypot(dx, dy)

	conf := 0.5
	if d < 1e-6 {
		// Co-located nodes; fall back to the stronger node's vicinity.
		return domain.DevicePosition{
			Position:   domain.Point3D{X: p1.X + r1.dist, Y: p1.Y, Z: planeZ},
			Confidence: 0.3,
			Method:     domain.MethodBilateration,
		}
	}

	a := (d*d + r1.dist*r1.dist - r2.dist*r2.dist) / (2 * d)
	if r1.dist+r2.dist < d || math.Abs(r1.dist-r2.dist) > d {
		// Circles do not intersect; the foot point is still the best
		// single estimate but deserves less confidence.
		conf = 0.3
	}

	return domain.DevicePosition{
		Position: domain.Point3D{
			X: p1.X + a*dx/d,
			Y: p1.Y + a*dy/d,
			Z: planeZ,
		},
		Confidence: conf,
		Method:     domain.MethodBilateration,
	}
}

// singleNode offsets the node position by the estimated distance along +X.
// Deterministic by construction.
func (t *Triangulator) singleNode(r reading, planeZ float64) domain.DevicePosition {
	return domain.DevicePosition{
		Position: domain.Point3D{
			X: r.node.Position.X + r.dist,
			Y: r.node.Position.Y,
			Z: planeZ,
		},
		Confidence: 0.25,
		Method:     domain.MethodSingle,
	}
}

func identicalReadings(rs []reading) bool {
	for _, r := range rs[1:] {
		if r.rssi != rs[0].rssi {
			return false
		}
	}
	// Same RSSI everywhere means same derived distance everywhere; the
	// system carries no positional information beyond the centroid.
	return true
}

func collinear(rs []reading) bool {
	// Any non-degenerate triangle among the first three non-collinear
	// nodes is enough.
	for i := 0; i < len(rs); i++ {
		for j := i + 1; j < len(rs); j++ {
			for k := j + 1; k < len(rs); k++ {
				area := triangleArea(rs[i].node.Position, rs[j].node.Position, rs[k].node.Position)
				if area > 1e-6 {
					return false
				}
			}
		}
	}
	return true
}

func triangleArea(a, b, c domain.Point3D) float64 {
	return math.Abs((b.X-a.X)*(c.Y-a.Y)-(c.X-a.X)*(b.Y-a.Y)) / 2
}

func meanResidual(rs []reading, p domain.Point3D) float64 {
	var sum float64
	for _, r := range rs {
		dx := p.X - r.node.Position.X
		dy := p.Y - r.node.Position.Y
		dz := p.Z - r.node.Position.Z
		sum += math.Abs(math.Sqrt(dx*dx+dy*dy+dz*dz) - r.dist)
	}
	return sum / float64(len(rs))
}

func sq(v float64) float64 { return v * v }
