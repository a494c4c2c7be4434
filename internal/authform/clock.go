package authform

import "time"

// Clock schedules deferred actions
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a cancelable deferred action
type Timer interface {
	Stop() bool
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
