package compressor

// Search is the result of the quality-reduction loop for one file.
type Search struct {
	FinalQuality int
	FinalSize    int64
	Attempts     int
}

// AttemptFunc encodes at the given quality, writes the result and reports the
// size on disk.
type AttemptFunc func(quality int) (int64, error)

// SearchQuality encodes at initial and, while the written size is above
// ceiling, retries at initial-step, initial-2*step, ... as long as the
// quality stays above zero. The last attempt is kept even if it never got
// under the ceiling. An error from attempt stops the search immediately.
func SearchQuality(initial int, ceiling int64, step int, attempt AttemptFunc) (Search, error) {
	size, err := attempt(initial)
	res := Search{FinalQuality: initial, FinalSize: size, Attempts: 1}
	if err != nil {
		return res, err
	}
	if size <= ceiling {
		return res, nil
	}

	for q := initial - step; q > 0; q -= step {
		size, err = attempt(q)
		res.FinalQuality = q
		res.FinalSize = size
		res.Attempts++
		if err != nil {
			return res, err
		}
		if size <= ceiling {
			break
		}
	}
	return res, nil
}

// MaxRetries returns the upper bound on retries SearchQuality can make.
func MaxRetries(initial, step int) int {
	if initial <= 1 || step <= 0 {
		return 0
	}
	return (initial - 1) / step
}
