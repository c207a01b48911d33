package domain

// Point3D is a coordinate in metres. Z grows upwards.
type Point3D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// NodePosition is the surveyed location of a mesh node. Floor ordinals:
// -1 basement, 0 ground, 1..N upper floors; Outdoor marks garden units.
type NodePosition struct {
	NodeID    string           `json:"node_id"`
	Floor     int              `json:"floor"`
	Position  Point3D          `json:"position"`
	CoverageM map[Band]float64 `json:"coverage_m,omitempty"` // nominal radius per band
	Outdoor   bool             `json:"outdoor"`
}

// PositionMethod records how a device position was derived.
type PositionMethod string

const (
	MethodSingle        PositionMethod = "single"
	MethodBilateration  PositionMethod = "bilateration"
	MethodTrilateration PositionMethod = "trilateration"
)

// PositionReading is one (node, rssi, distance) input to a solve.
type PositionReading struct {
	NodeMAC   string  `json:"node"`
	RSSI      int     `json:"rssi"`
	DistanceM float64 `json:"distance_m"`
}

// DevicePosition is a derived client location.
type DevicePosition struct {
	DeviceMAC  string            `json:"device"`
	Position   Point3D           `json:"position"`
	Floor      int               `json:"floor"`
	Confidence float64           `json:"confidence"` // [0,1]
	Method     PositionMethod    `json:"method"`
	Readings   []PositionReading `json:"readings,omitempty"`
}

// WallMaterial classifies an inferred wall by its attenuation.
type WallMaterial string

const (
	MaterialGlass    WallMaterial = "glass"
	MaterialDrywall  WallMaterial = "drywall"
	MaterialBrick    WallMaterial = "brick"
	MaterialConcrete WallMaterial = "concrete"
	MaterialUnknown  WallMaterial = "unknown"
)

// Wall is an attenuation cluster inferred from path-loss residuals.
type Wall struct {
	Midpoint      Point3D      `json:"midpoint"`
	Floor         int          `json:"floor"`
	AttenuationDB float64      `json:"attenuation_db"`
	Material      WallMaterial `json:"material"`
	Confidence    float64      `json:"confidence"`
	SampleCount   int          `json:"samples"`
}
