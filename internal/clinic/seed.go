package clinic

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"callbridge/internal/schedule"
	"callbridge/internal/store"

	"gopkg.in/yaml.v3"
)

// Seed is the YAML document imported by the seed command.
type Seed struct {
	Clinic   Clinic    `yaml:"clinic"`
	Doctors  []Doctor  `yaml:"doctors"`
	Services []Service `yaml:"services"`
}

// LoadSeed decodes a seed document. Unknown keys are rejected.
func LoadSeed(r io.Reader) (Seed, error) {
	var s Seed
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return Seed{}, fmt.Errorf("seed: decode: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Seed{}, err
	}
	return s, nil
}

func (s Seed) Validate() error {
	var errs []error
	if strings.TrimSpace(s.Clinic.Name) == "" {
		errs = append(errs, errors.New("clinic.name is required"))
	}
	if _, err := schedule.GenerateSlots(s.Clinic.WorkingHours.WithDefaults()); err != nil {
		errs = append(errs, fmt.Errorf("clinic.working_hours: %w", err))
	}

	services := make(map[string]struct{}, len(s.Services))
	for i, svc := range s.Services {
		if svc.ID == "" {
			errs = append(errs, fmt.Errorf("services[%d].id is required", i))
			continue
		}
		if _, dup := services[svc.ID]; dup {
			errs = append(errs, fmt.Errorf("services[%d]: duplicate id %q", i, svc.ID))
		}
		services[svc.ID] = struct{}{}
	}

	doctors := make(map[string]struct{}, len(s.Doctors))
	for i, d := range s.Doctors {
		if d.ID == "" {
			errs = append(errs, fmt.Errorf("doctors[%d].id is required", i))
			continue
		}
		if _, dup := doctors[d.ID]; dup {
			errs = append(errs, fmt.Errorf("doctors[%d]: duplicate id %q", i, d.ID))
		}
		doctors[d.ID] = struct{}{}
		for _, sid := range d.AvailableServices {
			if _, ok := services[sid]; !ok {
				errs = append(errs, fmt.Errorf("doctors[%d]: unknown service %q", i, sid))
			}
		}
	}
	return errors.Join(errs...)
}

// Import replaces the clinic, doctors and services collections.
// Appointments are left alone.
func (d *Directory) Import(ctx context.Context, s Seed) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if s.Doctors == nil {
		s.Doctors = []Doctor{}
	}
	if s.Services == nil {
		s.Services = []Service{}
	}
	if err := store.WriteJSON(ctx, d.store, store.CollectionClinic, s.Clinic); err != nil {
		return fmt.Errorf("seed: clinic: %w", err)
	}
	if err := store.WriteJSON(ctx, d.store, store.CollectionDoctors, s.Doctors); err != nil {
		return fmt.Errorf("seed: doctors: %w", err)
	}
	if err := store.WriteJSON(ctx, d.store, store.CollectionServices, s.Services); err != nil {
		return fmt.Errorf("seed: services: %w", err)
	}
	return nil
}
