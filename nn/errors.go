package nn

import "errors"

// Error taxonomy shared by every package in the module. Callers wrap these
// with fmt.Errorf("...: %w", ...) and test with errors.Is.
var (
	// ErrConfiguration reports bad or unsupported hyperparameters, unknown
	// descriptor fields, invalid sequence lengths or mismatched recurrence depth.
	ErrConfiguration = errors.New("configuration error")

	// ErrShape reports tensors whose shapes violate a layer contract.
	ErrShape = errors.New("shape error")

	// ErrValidation reports persisted artifacts that do not match what is loaded.
	ErrValidation = errors.New("validation error")

	// ErrIO reports missing or unreadable dataset and checkpoint files.
	ErrIO = errors.New("io error")
)
