package correlation

// Align performs an inner join of two timestamped series on a caller
// supplied key function (spec.md §4.5 "aligned on common timestamps").
// PredictionOutcomePair already carries both legs pre-aligned by the
// producer (LS appends one pair per closed position), so Align exists for
// callers reconciling two independently-timestamped raw series before
// constructing PredictionOutcomePairs.
func Align(predTS []int64, predVals []float64, outTS []int64, outVals []float64) []PredictionOutcomePair {
	outByTS := make(map[int64]float64, len(outTS))
	for i, ts := range outTS {
		outByTS[ts] = outVals[i]
	}
	var pairs []PredictionOutcomePair
	for i, ts := range predTS {
		if v, ok := outByTS[ts]; ok {
			pairs = append(pairs, PredictionOutcomePair{Prediction: predVals[i], Realized: v})
		}
	}
	return pairs
}
