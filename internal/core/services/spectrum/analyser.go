package spectrum

import (
	"math"

	"github.com/lcalzada-xor/wmesh/internal/core/domain"
)

// Assessment is the outcome of scoring a band against its current channel.
type Assessment struct {
	Band         domain.Band `json:"band"`
	Current      int         `json:"current"`
	CurrentScore float64     `json:"current_score"`
	Best         int         `json:"best"`
	BestScore    float64     `json:"best_score"`
	Improvement  float64     `json:"improvement"`
}

// ImprovementThreshold is the category-dependent minimum score gain before a
// channel-change suggestion is worth emitting.
func ImprovementThreshold(band domain.Band) float64 {
	if band == domain.Band24GHz {
		return 20
	}
	return 15
}

// ScoreChannel scores one candidate channel. Higher is better:
//
//	start at 100
//	- utilisation * 0.5
//	- 5 per interfering network on overlapping channels
//	- 10 per same-channel neighbor above -60 dBm, 5 above -70 dBm
//	- 30 * Zigbee overlap (2.4 GHz only)
//	+ 5 bonus for the non-overlapping trio 1/6/11 (2.4 GHz only)
//	clamped to >= 0
func ScoreChannel(scan domain.SpectrumScan, candidate, zigbeeChannel int) float64 {
	score := 100.0

	if cs, ok := scan.Channels[candidate]; ok {
		score -= float64(cs.Utilisation) * 0.5
		for _, n := range cs.Networks {
			switch {
			case n.RSSI > -60:
				score -= 10
			case n.RSSI > -70:
				score -= 5
			}
		}
	}

	score -= 5 * float64(interferingCount(scan, candidate))

	if scan.Band == domain.Band24GHz {
		if zigbeeChannel > 0 {
			score -= 30 * domain.ZigbeeOverlap(candidate, zigbeeChannel)
		}
		if candidate == 1 || candidate == 6 || candidate == 11 {
			score += 5
		}
	}

	if score < 0 {
		score = 0
	}
	return score
}

// interferingCount is the number of networks on other channels whose center
// frequency is close enough to overlap the candidate.
func interferingCount(scan domain.SpectrumScan, candidate int) int {
	cf := domain.ChannelFreqMHz(scan.Band, candidate)
	if cf == 0 {
		return 0
	}
	count := 0
	for ch, cs := range scan.Channels {
		if ch == candidate {
			continue
		}
		f := domain.ChannelFreqMHz(scan.Band, ch)
		if f == 0 {
			continue
		}
		if math.Abs(f-cf) < 20 {
			count += len(cs.Networks)
		}
	}
	return count
}

// BestChannel returns the highest-scoring channel of the band's plan.
func BestChannel(scan domain.SpectrumScan, zigbeeChannel int) (int, float64) {
	best, bestScore := 0, -1.0
	for _, ch := range domain.ValidChannels(scan.Band) {
		s := ScoreChannel(scan, ch, zigbeeChannel)
		if s > bestScore {
			best, bestScore = ch, s
		}
	}
	return best, bestScore
}

// Assess compares the current channel against the best candidate.
func Assess(scan domain.SpectrumScan, currentChannel, zigbeeChannel int) Assessment {
	best, bestScore := BestChannel(scan, zigbeeChannel)
	currentScore := ScoreChannel(scan, currentChannel, zigbeeChannel)
	return Assessment{
		Band:         scan.Band,
		Current:      currentChannel,
		CurrentScore: currentScore,
		Best:         best,
		BestScore:    bestScore,
		Improvement:  bestScore - currentScore,
	}
}
