// Package recommend turns a snapshot into ranked, tokenised optimisation
// suggestions and applies confirmed ones to the devices.
package recommend

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/lcalzada-xor/wmesh/internal/core/domain"
	"github.com/lcalzada-xor/wmesh/internal/core/ports"
	"github.com/lcalzada-xor/wmesh/internal/core/services/spectrum"
)

// Action types understood by Apply.
const (
	ActionSetChannel     = "setWifiChannel"
	ActionSetWidth       = "setChannelWidth"
	ActionEnableFeature  = "enableFeature"
	ActionDisableFeature = "disableFeature"
	ActionWireBackhaul   = "switchToWiredBackhaul"
)

var bandInterfaces = map[domain.Band]string{
	domain.Band24GHz: "wl0",
	domain.Band5GHz:  "wl1",
}

// maxZigbeeOverlap is the worst Wi-Fi/Zigbee co-channel overlap a channel
// suggestion may introduce on 2.4 GHz.
const maxZigbeeOverlap = 0.3

// Options wires an Engine.
type Options struct {
	Primary ports.Shell
	Pool    ports.NodePool
	Hub     ports.Hub // nil when no hub is configured
	Clock   clockwork.Clock
}

// Engine generates and applies suggestions. Tokens are scoped to one
// generated set: publishing a new set invalidates all previous tokens.
type Engine struct {
	opts Options

	mu     sync.Mutex
	tokens map[string]domain.Suggestion
}

// New creates an engine with an empty token set.
func New(opts Options) *Engine {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &Engine{opts: opts, tokens: make(map[string]domain.Suggestion)}
}

// rulePack inspects one aspect of the snapshot. Packs are independent; a
// pack returning nothing is normal.
type rulePack func(snap *domain.NetworkSnapshot, scans map[domain.Band]domain.SpectrumScan) []domain.Suggestion

// Generate runs the rule packs selected by targets, dedupes, ranks and
// tokenises the result. The new set replaces any previously issued tokens.
func (e *Engine) Generate(snap *domain.NetworkSnapshot, scans map[domain.Band]domain.SpectrumScan, targets []domain.OptimizationTarget) []domain.Suggestion {
	packs := map[domain.OptimizationTarget]rulePack{
		domain.TargetMinimiseInterference:  e.packMinimiseInterference,
		domain.TargetProtectZigbee:         e.packProtectZigbee,
		domain.TargetReduceNeighborOverlap: e.packReduceNeighborOverlap,
		domain.TargetMaximiseThroughput:    e.packMaximiseThroughput,
		domain.TargetImproveRoaming:        e.packImproveRoaming,
		domain.TargetBalanceCoverage:       e.packBalanceCoverage,
	}

	var all []domain.Suggestion
	for _, target := range targets {
		pack, ok := packs[target]
		if !ok {
			continue
		}
		all = append(all, pack(snap, scans)...)
	}

	// Dedupe by (actionType, parameters); the higher-priority duplicate wins.
	seen := make(map[string]int, len(all))
	var deduped []domain.Suggestion
	for _, s := range all {
		key := dedupeKey(s)
		if i, dup := seen[key]; dup {
			if s.Priority > deduped[i].Priority {
				deduped[i] = s
			}
			continue
		}
		seen[key] = len(deduped)
		deduped = append(deduped, s)
	}

	sort.SliceStable(deduped, func(i, j int) bool {
		if deduped[i].Priority != deduped[j].Priority {
			return deduped[i].Priority > deduped[j].Priority
		}
		return deduped[i].Confidence > deduped[j].Confidence
	})

	now := e.opts.Clock.Now()
	tokens := make(map[string]domain.Suggestion, len(deduped))
	for i := range deduped {
		deduped[i].Token = uuid.NewString()
		deduped[i].CreatedAt = now
		tokens[deduped[i].Token] = deduped[i]
	}

	e.mu.Lock()
	e.tokens = tokens
	e.mu.Unlock()
	return deduped
}

// Suggestions returns the currently valid suggestion set, ranked.
func (e *Engine) Suggestions() []domain.Suggestion {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.Suggestion, 0, len(e.tokens))
	for _, s := range e.tokens {
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].Confidence > out[j].Confidence
	})
	return out
}

func dedupeKey(s domain.Suggestion) string {
	keys := make([]string, 0, len(s.Parameters))
	for k := range s.Parameters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(s.ActionType)
	for _, k := range keys {
		fmt.Fprintf(&b, "|%s=%s", k, s.Parameters[k])
	}
	return b.String()
}

// bestAllowedChannel picks the highest-scoring channel; on 2.4 GHz with a
// Zigbee network present, candidates overlapping the Zigbee channel above
// the limit are excluded.
func bestAllowedChannel(scan domain.SpectrumScan, zigbeeChannel int) (int, float64) {
	best, bestScore := 0, -1.0
	for _, ch := range domain.ValidChannels(scan.Band) {
		if scan.Band == domain.Band24GHz && zigbeeChannel > 0 &&
			domain.ZigbeeOverlap(ch, zigbeeChannel) >= maxZigbeeOverlap {
			continue
		}
		s := spectrum.ScoreChannel(scan, ch, zigbeeChannel)
		if s > bestScore {
			best, bestScore = ch, s
		}
	}
	return best, bestScore
}

func zigbeeChannel(snap *domain.NetworkSnapshot) int {
	if snap.Zigbee == nil {
		return 0
	}
	return snap.Zigbee.CoordinatorChannel
}

func channelSuggestion(r domain.Radio, best int, improvement float64, priority int, why string) domain.Suggestion {
	return domain.Suggestion{
		Priority:   priority,
		Category:   domain.CategoryChannel,
		ActionType: ActionSetChannel,
		Parameters: map[string]string{
			"node":    r.NodeID,
			"band":    string(r.Band),
			"channel": fmt.Sprint(best),
		},
		CurrentValue:    fmt.Sprint(r.Channel),
		TargetValue:     fmt.Sprint(best),
		Risk:            domain.RiskMedium,
		Confidence:      confidenceFromImprovement(improvement),
		Improvement:     why,
		RequiresRestart: true,
	}
}

func confidenceFromImprovement(improvement float64) float64 {
	c := 0.5 + improvement/100
	if c > 0.95 {
		c = 0.95
	}
	return c
}
