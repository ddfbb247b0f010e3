package evaluation

import (
	"fmt"

	"github.com/goccy/go-json"
)

// ClassScores holds the per-class (or averaged) precision, recall and F1.
type ClassScores struct {
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1Score   float64 `json:"f1-score"`
	Support   int     `json:"support"`
}

// Report mirrors the usual classification report: one entry per class
// name plus accuracy and the macro and support-weighted averages. In JSON
// the class names sit at the top level beside the summary keys.
type Report struct {
	Classes     map[string]ClassScores
	Accuracy    float64
	MacroAvg    ClassScores
	WeightedAvg ClassScores
}

const (
	accuracyKey    = "accuracy"
	macroAvgKey    = "macro avg"
	weightedAvgKey = "weighted avg"
)

func (r Report) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Classes)+3)
	for name, sc := range r.Classes {
		out[name] = sc
	}
	out[accuracyKey] = r.Accuracy
	out[macroAvgKey] = r.MacroAvg
	out[weightedAvgKey] = r.WeightedAvg
	return json.Marshal(out)
}

func (r *Report) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	rep := Report{Classes: make(map[string]ClassScores, len(raw))}
	for key, v := range raw {
		var err error
		switch key {
		case accuracyKey:
			err = json.Unmarshal(v, &rep.Accuracy)
		case macroAvgKey:
			err = json.Unmarshal(v, &rep.MacroAvg)
		case weightedAvgKey:
			err = json.Unmarshal(v, &rep.WeightedAvg)
		default:
			var sc ClassScores
			err = json.Unmarshal(v, &sc)
			rep.Classes[key] = sc
		}
		if err != nil {
			return fmt.Errorf("report key %q: %w", key, err)
		}
	}
	*r = rep
	return nil
}

func Accuracy(y, p []int) float64 {
	if len(y) == 0 {
		return 0
	}
	c := 0
	for i := range y {
		if y[i] == p[i] {
			c++
		}
	}
	return float64(c) / float64(len(y))
}

// ConfusionMatrix counts true class (row) against predicted class (column).
func ConfusionMatrix(y, p []int, nClasses int) ([][]int, error) {
	if len(y) != len(p) {
		return nil, fmt.Errorf("labels and predictions differ in length: %d vs %d", len(y), len(p))
	}
	cm := make([][]int, nClasses)
	for i := range cm {
		cm[i] = make([]int, nClasses)
	}
	for i := range y {
		if y[i] < 0 || y[i] >= nClasses || p[i] < 0 || p[i] >= nClasses {
			return nil, fmt.Errorf("label out of range at %d: true %d, predicted %d", i, y[i], p[i])
		}
		cm[y[i]][p[i]]++
	}
	return cm, nil
}

func ClassificationReport(y, p []int, classNames []string) (Report, error) {
	cm, err := ConfusionMatrix(y, p, len(classNames))
	if err != nil {
		return Report{}, err
	}
	rep := Report{
		Classes:  make(map[string]ClassScores, len(classNames)),
		Accuracy: Accuracy(y, p),
	}
	total := len(y)
	for c, name := range classNames {
		tp := cm[c][c]
		fp, fn := 0, 0
		for k := range classNames {
			if k == c {
				continue
			}
			fp += cm[k][c]
			fn += cm[c][k]
		}
		precision := safeDivide(float64(tp), float64(tp+fp))
		recall := safeDivide(float64(tp), float64(tp+fn))
		sc := ClassScores{
			Precision: precision,
			Recall:    recall,
			F1Score:   safeDivide(2*precision*recall, precision+recall),
			Support:   tp + fn,
		}
		rep.Classes[name] = sc

		n := float64(len(classNames))
		rep.MacroAvg.Precision += sc.Precision / n
		rep.MacroAvg.Recall += sc.Recall / n
		rep.MacroAvg.F1Score += sc.F1Score / n

		w := safeDivide(float64(sc.Support), float64(total))
		rep.WeightedAvg.Precision += sc.Precision * w
		rep.WeightedAvg.Recall += sc.Recall * w
		rep.WeightedAvg.F1Score += sc.F1Score * w
	}
	rep.MacroAvg.Support = total
	rep.WeightedAvg.Support = total
	return rep, nil
}

func safeDivide(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den
}
