package evaluation

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/floats"
)

// Report accumulates a confusion matrix and derives per-class and aggregate
// metrics from it.
type Report struct {
	NumClasses int
	ClassNames []string
	// Confusion[actual][predicted]
	Confusion [][]int
	Total     int
	Correct   int
	Skipped   int
}

// NewReport creates an empty report for numClasses classes.
func NewReport(numClasses int, classNames []string) *Report {
	confusion := make([][]int, numClasses)
	for i := range confusion {
		confusion[i] = make([]int, numClasses)
	}
	return &Report{
		NumClasses: numClasses,
		ClassNames: classNames,
		Confusion:  confusion,
	}
}

// Add records one (actual, predicted) pair.
func (r *Report) Add(actual, predicted int) {
	r.Confusion[actual][predicted]++
	r.Total++
	if actual == predicted {
		r.Correct++
	}
}

// Accuracy returns overall accuracy.
func (r *Report) Accuracy() float64 {
	if r.Total == 0 {
		return 0
	}
	return float64(r.Correct) / float64(r.Total)
}

// ClassMetrics holds precision, recall and F1 for one class.
type ClassMetrics struct {
	Name      string
	Support   int
	Precision float64
	Recall    float64
	F1        float64
}

// PerClass derives precision/recall/F1 per class from the confusion matrix.
func (r *Report) PerClass() []ClassMetrics {
	metrics := make([]ClassMetrics, r.NumClasses)
	for c := 0; c < r.NumClasses; c++ {
		tp := r.Confusion[c][c]
		var fp, fn int
		for o := 0; o < r.NumClasses; o++ {
			if o == c {
				continue
			}
			fp += r.Confusion[o][c]
			fn += r.Confusion[c][o]
		}

		m := ClassMetrics{Name: r.ClassNames[c], Support: tp + fn}
		if tp+fp > 0 {
			m.Precision = float64(tp) / float64(tp+fp)
		}
		if tp+fn > 0 {
			m.Recall = float64(tp) / float64(tp+fn)
		}
		if m.Precision+m.Recall > 0 {
			m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
		}
		metrics[c] = m
	}
	return metrics
}

// MacroF1 averages F1 over classes that have support.
func (r *Report) MacroF1() float64 {
	var f1s []float64
	for _, m := range r.PerClass() {
		if m.Support > 0 {
			f1s = append(f1s, m.F1)
		}
	}
	if len(f1s) == 0 {
		return 0
	}
	return floats.Sum(f1s) / float64(len(f1s))
}

// String renders a plain-text report with the confusion matrix and per-class
// table.
func (r *Report) String() string {
	var b strings.Builder

	fmt.Fprintf(&b, "samples: %d  skipped: %d\n", r.Total, r.Skipped)
	fmt.Fprintf(&b, "accuracy: %.4f  macro F1: %.4f\n\n", r.Accuracy(), r.MacroF1())

	nameWidth := 0
	for _, name := range r.ClassNames {
		if len(name) > nameWidth {
			nameWidth = len(name)
		}
	}

	fmt.Fprintf(&b, "%-*s  %9s  %9s  %9s  %7s\n", nameWidth, "class", "precision", "recall", "f1", "support")
	for _, m := range r.PerClass() {
		fmt.Fprintf(&b, "%-*s  %9.4f  %9.4f  %9.4f  %7d\n",
			nameWidth, m.Name, m.Precision, m.Recall, m.F1, m.Support)
	}

	b.WriteString("\nconfusion matrix (rows=actual, cols=predicted):\n")
	for c := 0; c < r.NumClasses; c++ {
		fmt.Fprintf(&b, "%-*s", nameWidth+2, r.ClassNames[c])
		for o := 0; o < r.NumClasses; o++ {
			fmt.Fprintf(&b, " %6d", r.Confusion[c][o])
		}
		b.WriteByte('\n')
	}
	return b.String()
}
