package usecase

import "sync"

// AdmissionController bounds concurrent requests without queueing.
type AdmissionController struct {
	slots chan struct{}
}

func NewAdmissionController(limit int) *AdmissionController {
	if limit <= 0 {
		limit = 1
	}
	return &AdmissionController{slots: make(chan struct{}, limit)}
}

// TryAcquire never blocks. The returned release is safe to call more than once.
func (a *AdmissionController) TryAcquire() (release func(), ok bool) {
	select {
	case a.slots <- struct{}{}:
	default:
		return func() {}, false
	}
	var once sync.Once
	return func() {
		once.Do(func() { <-a.slots })
	}, true
}

func (a *AdmissionController) InFlight() int {
	return len(a.slots)
}

func (a *AdmissionController) Limit() int {
	return cap(a.slots)
}
