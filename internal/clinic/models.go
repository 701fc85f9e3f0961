package clinic

import "callbridge/internal/schedule"

type Clinic struct {
	Name              string                `json:"name" yaml:"name"`
	Phone             string                `json:"phone,omitempty" yaml:"phone"`
	Address           string                `json:"address,omitempty" yaml:"address"`
	GreetingTemplates []string              `json:"greeting_templates,omitempty" yaml:"greeting_templates"`
	WorkingHours      schedule.WorkingHours `json:"working_hours" yaml:"working_hours"`
}

type Doctor struct {
	ID             string `json:"id" yaml:"id"`
	Name           string `json:"name" yaml:"name"`
	Specialization string `json:"specialization" yaml:"specialization"`

	// AvailableServices holds Service IDs.
	AvailableServices []string `json:"available_services" yaml:"available_services"`
}

// Offers reports whether the doctor performs the given service.
func (d Doctor) Offers(serviceID string) bool {
	for _, s := range d.AvailableServices {
		if s == serviceID {
			return true
		}
	}
	return false
}

type Service struct {
	ID              string  `json:"id" yaml:"id"`
	Name            string  `json:"name" yaml:"name"`
	Price           float64 `json:"price" yaml:"price"`
	DurationMinutes int     `json:"duration_minutes" yaml:"duration_minutes"`
	Description     string  `json:"description,omitempty" yaml:"description"`
}
