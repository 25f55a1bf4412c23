// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package engine

// Outcome is the folded result of the reads attempted in one cycle
type Outcome int

const (
	Unknown Outcome = iota
	Success
	Failure
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Failure:
		return "failure"
	default:
		return "unknown"
	}
}

// Fold combines two outcomes. Success is sticky: once any read in a cycle
// has succeeded the cycle is a success regardless of later failures.
func (o Outcome) Fold(next Outcome) Outcome {
	switch {
	case o == Success || next == Success:
		return Success
	case o == Failure || next == Failure:
		return Failure
	default:
		return Unknown
	}
}

// FoldAll folds outcomes left to right starting from Unknown
func FoldAll(outcomes ...Outcome) Outcome {
	acc := Unknown
	for _, o := range outcomes {
		acc = acc.Fold(o)
	}
	return acc
}

// outcomeOf maps a read error to its outcome
func outcomeOf(err error) Outcome {
	if err != nil {
		return Failure
	}
	return Success
}

