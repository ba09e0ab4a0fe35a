package appointments

import (
	"context"
	"sync"
)

// Directory looks up appointments owned by the scheduling side of the clinic.
type Directory interface {
	Get(ctx context.Context, id string) (*Appointment, error)
}

// InMemoryDirectory is a Directory used in development and tests.
type InMemoryDirectory struct {
	mu           sync.RWMutex
	appointments map[string]*Appointment
}

// NewInMemoryDirectory creates an empty directory.
func NewInMemoryDirectory() *InMemoryDirectory {
	return &InMemoryDirectory{appointments: make(map[string]*Appointment)}
}

// Put registers or replaces an appointment.
func (d *InMemoryDirectory) Put(appt Appointment) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.appointments[appt.ID] = &appt
}

// Get returns a copy of the appointment.
func (d *InMemoryDirectory) Get(ctx context.Context, id string) (*Appointment, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	appt, ok := d.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	out := *appt
	return &out, nil
}
