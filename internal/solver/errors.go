package solver

import "errors"

// ErrSolveRequest indicates the solver could not be reached or rejected the request.
var ErrSolveRequest = errors.New("challenge solver request failed")

// ErrSolveResponse indicates the solver answered without a usable proof.
var ErrSolveResponse = errors.New("challenge solver returned no proof")

// ErrMissingChallenge indicates the payload lacks the gt or challenge value.
var ErrMissingChallenge = errors.New("challenge payload incomplete")

// ErrNotConfigured indicates no solver URL was configured.
var ErrNotConfigured = errors.New("no challenge solver configured")
