package service

import "sync"

// PatientLocker serializes work per patient within one process. Entries are
// reference counted and removed once no goroutine holds or waits on them.
type PatientLocker struct {
	mu    sync.Mutex
	locks map[string]*patientLock
}

type patientLock struct {
	mu   sync.Mutex
	refs int
}

// NewPatientLocker creates an empty locker
func NewPatientLocker() *PatientLocker {
	return &PatientLocker{locks: make(map[string]*patientLock)}
}

// Lock blocks until the caller holds the lock for patientID and returns the
// function that releases it.
func (l *PatientLocker) Lock(patientID string) (unlock func()) {
	l.mu.Lock()
	pl, ok := l.locks[patientID]
	if !ok {
		pl = &patientLock{}
		l.locks[patientID] = pl
	}
	pl.refs++
	l.mu.Unlock()

	pl.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			pl.mu.Unlock()

			l.mu.Lock()
			pl.refs--
			if pl.refs == 0 {
				delete(l.locks, patientID)
			}
			l.mu.Unlock()
		})
	}
}

func (l *PatientLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
