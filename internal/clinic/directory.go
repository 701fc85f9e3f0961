// Package clinic reads the clinic profile, doctors and services from the
// record store.
package clinic

import (
	"context"
	"fmt"

	"callbridge/internal/schedule"
	"callbridge/internal/store"
)

// Directory is a read view over the clinic collections.
// It does not cache: every call reads the store, so seed imports are
// visible to the next call without a restart.
type Directory struct {
	store store.Store
}

func NewDirectory(s store.Store) *Directory {
	return &Directory{store: s}
}

// Clinic returns the clinic profile with working-hour defaults applied.
func (d *Directory) Clinic(ctx context.Context) (Clinic, error) {
	var c Clinic
	if _, err := store.ReadInto(ctx, d.store, store.CollectionClinic, &c); err != nil {
		return Clinic{}, fmt.Errorf("clinic: %w", err)
	}
	c.WorkingHours = c.WorkingHours.WithDefaults()
	return c, nil
}

// WorkingHours returns the clinic's working hours. It satisfies
// appointments.HoursFunc.
func (d *Directory) WorkingHours(ctx context.Context) (schedule.WorkingHours, error) {
	c, err := d.Clinic(ctx)
	if err != nil {
		return schedule.WorkingHours{}, err
	}
	return c.WorkingHours, nil
}

func (d *Directory) Doctors(ctx context.Context) ([]Doctor, error) {
	out := []Doctor{}
	if _, err := store.ReadInto(ctx, d.store, store.CollectionDoctors, &out); err != nil {
		return nil, fmt.Errorf("doctors: %w", err)
	}
	return out, nil
}

func (d *Directory) Services(ctx context.Context) ([]Service, error) {
	out := []Service{}
	if _, err := store.ReadInto(ctx, d.store, store.CollectionServices, &out); err != nil {
		return nil, fmt.Errorf("services: %w", err)
	}
	return out, nil
}

// Doctor looks up one doctor by id.
func (d *Directory) Doctor(ctx context.Context, id string) (Doctor, bool, error) {
	docs, err := d.Doctors(ctx)
	if err != nil {
		return Doctor{}, false, err
	}
	for _, doc := range docs {
		if doc.ID == id {
			return doc, true, nil
		}
	}
	return Doctor{}, false, nil
}

// Service looks up one service by id.
func (d *Directory) Service(ctx context.Context, id string) (Service, bool, error) {
	svcs, err := d.Services(ctx)
	if err != nil {
		return Service{}, false, err
	}
	for _, s := range svcs {
		if s.ID == id {
			return s, true, nil
		}
	}
	return Service{}, false, nil
}

// Snapshot is everything a call needs about the clinic, read once.
type Snapshot struct {
	Clinic   Clinic
	Doctors  []Doctor
	Services []Service
}

func (d *Directory) Snapshot(ctx context.Context) (Snapshot, error) {
	c, err := d.Clinic(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	docs, err := d.Doctors(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	svcs, err := d.Services(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Clinic: c, Doctors: docs, Services: svcs}, nil
}

// DoctorName returns the doctor's display name, or id when unknown.
func (s Snapshot) DoctorName(id string) string {
	for _, d := range s.Doctors {
		if d.ID == id {
			return d.Name
		}
	}
	return id
}

// ServiceName returns the service's display name, or id when unknown.
func (s Snapshot) ServiceName(id string) string {
	for _, svc := range s.Services {
		if svc.ID == id {
			return svc.Name
		}
	}
	return id
}
