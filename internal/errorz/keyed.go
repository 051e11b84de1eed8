package errorz

// Keyed attaches the input field or value that caused an error, so
// callers can report which part of the input was bad.
type Keyed struct {
	Key string
	Err error
}

func (k Keyed) Error() string {
	return k.Key + ": " + k.Err.Error()
}

func (k Keyed) Unwrap() error {
	return k.Err
}
