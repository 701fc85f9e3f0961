// Package tools defines the functions the voice assistant may call and
// dispatches provider function calls to the appointment manager.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"callbridge/internal/appointments"
	"callbridge/internal/clinic"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const (
	NameCreateAppointment  = "create_appointment"
	NameListAvailableSlots = "list_available_slots"
)

// CreateAppointmentArgs are the create_appointment parameters. The date is
// always the current day.
type CreateAppointmentArgs struct {
	DoctorID     string `json:"doctor_id" jsonschema:"description=Doctor id from the DOCTORS list,minLength=1"`
	Time         string `json:"time" jsonschema:"description=Start time in HH:MM format,pattern=^([01]?[0-9]|2[0-3]):[0-5][0-9]$"`
	PatientName  string `json:"patient_name" jsonschema:"description=Patient full name,minLength=1"`
	PatientPhone string `json:"patient_phone" jsonschema:"description=Patient phone number,minLength=3"`
	ServiceID    string `json:"service_id" jsonschema:"description=Service id from the SERVICES list,minLength=1"`
}

type ListAvailableSlotsArgs struct {
	DoctorID string `json:"doctor_id" jsonschema:"description=Doctor id from the DOCTORS list,minLength=1"`
}

type tool struct {
	def    Definition
	schema *jsonschema.Schema
	run    func(ctx context.Context, callID string, args map[string]any) (any, error)
}

// Registry holds the callable tools for one process. It is safe for
// concurrent use once built.
type Registry struct {
	appts *appointments.Manager
	dir   *clinic.Directory
	tools map[string]tool
}

func NewRegistry(appts *appointments.Manager, dir *clinic.Directory) (*Registry, error) {
	r := &Registry{appts: appts, dir: dir, tools: make(map[string]tool)}

	if err := r.register(NameCreateAppointment,
		"Book an appointment for today once the caller has given every required detail.",
		&CreateAppointmentArgs{}, r.createAppointment); err != nil {
		return nil, err
	}
	if err := r.register(NameListAvailableSlots,
		"List today's free appointment times for a doctor.",
		&ListAvailableSlotsArgs{}, r.listAvailableSlots); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) register(name, desc string, args any, run func(context.Context, string, map[string]any) (any, error)) error {
	params, schema, err := reflectParameters(name, args)
	if err != nil {
		return err
	}
	r.tools[name] = tool{
		def:    Definition{Type: "function", Name: name, Description: desc, Parameters: params},
		schema: schema,
		run:    run,
	}
	return nil
}

// Definitions returns tool definitions ordered by name.
func (r *Registry) Definitions() []Definition {
	out := make([]Definition, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t.def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Dispatch runs the named tool and returns its JSON result. Unknown tools
// and invalid arguments produce a failure-shaped result, not an error; an
// error means the tool itself broke.
func (r *Registry) Dispatch(ctx context.Context, callID, name string, args map[string]any) (string, error) {
	t, ok := r.tools[name]
	if !ok {
		return Failure(fmt.Sprintf("Unknown function: %s", name)), nil
	}
	if err := t.schema.Validate(orEmpty(args)); err != nil {
		return Failure("invalid arguments: " + flattenValidation(err)), nil
	}
	out, err := t.run(ctx, callID, args)
	if err != nil {
		return "", err
	}
	b, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("tools: encode %s result: %w", name, err)
	}
	return string(b), nil
}

func (r *Registry) createAppointment(ctx context.Context, callID string, raw map[string]any) (any, error) {
	var args CreateAppointmentArgs
	if err := decodeArgs(r.tools[NameCreateAppointment].schema, raw, &args); err != nil {
		return failure{Error: err.Error()}, nil
	}
	doc, ok, err := r.dir.Doctor(ctx, args.DoctorID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return failure{Error: fmt.Sprintf("Unknown doctor: %s", args.DoctorID)}, nil
	}
	svc, ok, err := r.dir.Service(ctx, args.ServiceID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return failure{Error: fmt.Sprintf("Unknown service: %s", args.ServiceID)}, nil
	}

	res, err := r.appts.Create(ctx, appointments.CreateInput{
		DoctorID:     args.DoctorID,
		Date:         r.appts.Today(),
		Time:         args.Time,
		PatientName:  args.PatientName,
		PatientPhone: args.PatientPhone,
		ServiceID:    args.ServiceID,
		CreatedBy:    "call-" + shortID(callID),
	})
	if err != nil {
		return nil, err
	}
	if !res.Success {
		return failure{Error: res.Message}, nil
	}

	a := res.Appointment
	return map[string]any{
		"success": true,
		"message": res.Message,
		"appointment": map[string]any{
			"doctor_name":  doc.Name,
			"service_name": svc.Name,
			"date":         a.Date,
			"time":         a.Time,
			"patient_name": a.PatientName,
		},
	}, nil
}

func (r *Registry) listAvailableSlots(ctx context.Context, _ string, raw map[string]any) (any, error) {
	var args ListAvailableSlotsArgs
	if err := decodeArgs(r.tools[NameListAvailableSlots].schema, raw, &args); err != nil {
		return failure{Error: err.Error()}, nil
	}
	doc, ok, err := r.dir.Doctor(ctx, args.DoctorID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return failure{Error: fmt.Sprintf("Unknown doctor: %s", args.DoctorID)}, nil
	}
	c, err := r.dir.Clinic(ctx)
	if err != nil {
		return nil, err
	}
	day := r.appts.Today()
	slots, err := r.appts.AvailableSlots(ctx, doc.ID, day, c.WorkingHours)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"success":     true,
		"doctor_name": doc.Name,
		"date":        day,
		"slots":       slots,
	}, nil
}

type failure struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// Failure renders the failure-shaped result the provider expects.
func Failure(msg string) string {
	b, _ := json.Marshal(failure{Error: msg})
	return string(b)
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func flattenValidation(err error) string {
	var ve *jsonschema.ValidationError
	if v, ok := err.(*jsonschema.ValidationError); ok {
		ve = v
	}
	if ve == nil {
		return err.Error()
	}
	var msgs []string
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			loc := e.InstanceLocation
			if loc == "" {
				loc = "/"
			}
			msgs = append(msgs, loc+": "+e.Message)
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	return strings.Join(msgs, "; ")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
