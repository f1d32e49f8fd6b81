package certificates

import "time"

// Clock abstracts wall-clock time so lifecycle rules can be tested at fixed
// instants.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// SystemClock returns a Clock backed by time.Now.
func SystemClock() Clock { return systemClock{} }
