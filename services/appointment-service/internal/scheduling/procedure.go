package scheduling

import "time"

// Procedure is a catalog code such as "higiene" or "implantes".
type Procedure string

const (
	Valoracion          Procedure = "valoracion"
	ExodonciaSimple     Procedure = "exodoncia_simple"
	ExodonciaQuirurgica Procedure = "exodoncia_quirurgica"
	MontajeOrtodoncia   Procedure = "montaje_ortodoncia"
	ControlOrtodoncia   Procedure = "control_ortodoncia"
	Calza               Procedure = "calza"
	Higiene             Procedure = "higiene"
	Rehabilitacion      Procedure = "rehabilitacion"
	Implantes           Procedure = "implantes"
	Aclaramiento        Procedure = "aclaramiento"
)

// DefaultDuration applies to codes outside the catalog, including the empty code.
const DefaultDuration = 10 * time.Minute

type catalogEntry struct {
	code     Procedure
	label    string
	duration time.Duration
}

// catalog is in display order. It is never mutated after init.
var catalog = []catalogEntry{
	{Valoracion, "Valoración", 10 * time.Minute},
	{ExodonciaSimple, "Exodoncia Simple", 40 * time.Minute},
	{ExodonciaQuirurgica, "Exodoncia Quirúrgica", 90 * time.Minute},
	{MontajeOrtodoncia, "Montaje Ortodoncia", time.Hour},
	{ControlOrtodoncia, "Control Ortodoncia", 30 * time.Minute},
	{Calza, "Calza", 30 * time.Minute},
	{Higiene, "Higiene", 20 * time.Minute},
	{Rehabilitacion, "Rehabilitación", 40 * time.Minute},
	{Implantes, "Implantes", time.Hour},
	{Aclaramiento, "Aclaramiento", time.Hour},
}

var byCode = func() map[Procedure]catalogEntry {
	m := make(map[Procedure]catalogEntry, len(catalog))
	for _, e := range catalog {
		m[e.code] = e
	}
	return m
}()

// DurationOf returns the standard duration of a procedure. It never fails: unknown
// codes get DefaultDuration.
func DurationOf(code Procedure) time.Duration {
	if e, ok := byCode[code]; ok {
		return e.duration
	}
	return DefaultDuration
}

// Known reports whether code is part of the catalog.
func (p Procedure) Known() bool {
	_, ok := byCode[p]
	return ok
}

// Label is the human readable name with its duration, e.g. "Higiene (20 min)".
func (p Procedure) Label() string {
	e, ok := byCode[p]
	if !ok {
		return string(p) + " (" + formatDuration(DefaultDuration) + ")"
	}
	return e.label + " (" + formatDuration(e.duration) + ")"
}

// Procedures lists the catalog in display order.
func Procedures() []Procedure {
	out := make([]Procedure, 0, len(catalog))
	for _, e := range catalog {
		out = append(out, e.code)
	}
	return out
}

func formatDuration(d time.Duration) string {
	h := int(d / time.Hour)
	m := int((d % time.Hour) / time.Minute)
	switch {
	case h == 0:
		return itoa(m) + " min"
	case m == 0:
		return itoa(h) + "h"
	default:
		return itoa(h) + "h " + itoa(m) + "min"
	}
}
