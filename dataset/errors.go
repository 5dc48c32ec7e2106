package dataset

import "errors"

// Construction-time errors are fatal: a dataset that fails validation must
// never be handed to a trainer.
var (
	// ErrLabelFileMissing indicates the labels.csv manifest is absent.
	ErrLabelFileMissing = errors.New("dataset: label file missing")

	// ErrLabelRange indicates a class index outside [0, NumClasses).
	ErrLabelRange = errors.New("dataset: label out of range")

	// ErrLabelParse indicates a malformed manifest row.
	ErrLabelParse = errors.New("dataset: malformed label row")

	// ErrEmptyDataset indicates zero entries survived indexing.
	ErrEmptyDataset = errors.New("dataset: no valid images found with corresponding labels")

	// ErrDegenerateClass indicates a class with zero samples, which would
	// make inverse-frequency weights divide by zero.
	ErrDegenerateClass = errors.New("dataset: class has zero samples")

	// ErrSplitTooSmall indicates a split that would leave either partition empty.
	ErrSplitTooSmall = errors.New("dataset: split produces an empty partition")
)
