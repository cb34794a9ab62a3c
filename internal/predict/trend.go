package predict

import "candlesight/internal/types"

// trend is the always-computed fallback: a long streak predicts reversal,
// otherwise the majority direction of the window carries.
func (e *Engine) trend(signature []types.Direction) (types.Direction, int) {
	up, down := 0, 0
	for _, d := range signature {
		if d == types.DirectionUp {
			up++
		} else {
			down++
		}
	}
	streak := streakLength(signature)
	last := signature[len(signature)-1]

	if streak >= 3 {
		conf := 60 + streak*5
		if conf > e.cfg.ConfidenceCap {
			conf = e.cfg.ConfidenceCap
		}
		return last.Opposite(), conf
	}

	dir := types.DirectionDown
	if up > down {
		dir = types.DirectionUp
	}
	diff := up - down
	if diff < 0 {
		diff = -diff
	}
	conf := 55 + diff*5
	if conf > e.cfg.ConfidenceCap {
		conf = e.cfg.ConfidenceCap
	}
	return dir, conf
}

// streakLength counts identical consecutive directions ending at the most
// recent observation.
func streakLength(signature []types.Direction) int {
	if len(signature) == 0 {
		return 0
	}
	last := signature[len(signature)-1]
	n := 0
	for i := len(signature) - 1; i >= 0; i-- {
		if signature[i] != last {
			break
		}
		n++
	}
	return n
}
