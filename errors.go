package bubbleads

import "errors"

// ErrMissingCredentials is returned when the publish target base URL or
// token is absent and the run is not a dry run.
var ErrMissingCredentials = errors.New("bubbleads: missing sharkey base URL or token")

// ErrNoRun is returned by stages that need a previous trends run when none
// has been recorded yet.
var ErrNoRun = errors.New("bubbleads: no trend run recorded, run the trends stage first")

// ErrNoCandidate is returned when a stage produced nothing to act on.
var ErrNoCandidate = errors.New("bubbleads: no candidates available")

// ErrStageBusy is returned when a stage is requested while another one is
// already running.
var ErrStageBusy = errors.New("bubbleads: a stage is already running")

// ErrInvalidConfig is returned when configuration fails validation.
var ErrInvalidConfig = errors.New("bubbleads: invalid configuration")
