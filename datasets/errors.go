package datasets

import "errors"

// Error taxonomy for item fetches. Failures are wrapped around one of these
// sentinels so callers can classify with errors.Is; the error chain carries
// the offending path or field. Errors propagate immediately for the index
// being fetched - the iteration layer decides whether to skip or abort.
var (
	// ErrLoad marks a file that is missing, unreadable or in an
	// unsupported format.
	ErrLoad = errors.New("kittidata: load failure")

	// ErrSchema marks a point record that decoded but lacks a required
	// member or carries one with the wrong shape.
	ErrSchema = errors.New("kittidata: record schema violation")

	// ErrConfig marks an invalid construction parameter or an input that
	// cannot satisfy it, such as an image smaller than the crop window or
	// a non-positive angle class count.
	ErrConfig = errors.New("kittidata: invalid configuration")
)
