// Package statevar implements the typed state-variable engine: a closed
// algebraic description of UPnP's state-variable types with a uniform
// cast/compare/equal/inRange/isValid API. No reflection or dynamic
// dispatch is used at runtime — each Type maps to one Go branch.
package statevar

import (
	"fmt"
)

// Type is one of the UPnP data types a state variable may declare.
type Type string

const (
	TypeUI1            Type = "ui1"
	TypeUI2            Type = "ui2"
	TypeUI4            Type = "ui4"
	TypeI1             Type = "i1"
	TypeI2             Type = "i2"
	TypeI4             Type = "i4"
	TypeInt            Type = "int"
	TypeR4             Type = "r4"
	TypeR8             Type = "r8"
	TypeNumber         Type = "number"
	TypeFixed14_4      Type = "fixed.14.4"
	TypeBoolean        Type = "boolean"
	TypeString         Type = "string"
	TypeChar           Type = "char"
	TypeDate           Type = "date"
	TypeDateTime       Type = "dateTime"
	TypeDateTimeTZ     Type = "dateTime.tz"
	TypeTime           Type = "time"
	TypeTimeTZ         Type = "time.tz"
	TypeUUID           Type = "uuid"
	TypeURI            Type = "uri"
	TypeBinBase64      Type = "bin.base64"
	TypeBinHex         Type = "bin.hex"
)

// Modifier describes a composite shape layered over a scalar Type.
// Most state variables are Atomic; List/Map/Struct are used by the few
// services (e.g. queue snapshots surfaced as state variables) that need
// a structured value rather than a single scalar.
type Modifier int

const (
	ModifierAtomic Modifier = iota
	ModifierList
	ModifierMap
	ModifierStruct
)

// Range is an inclusive [Min,Max] bound on an ordered type. A nil Range
// means unbounded.
type Range struct {
	Min, Max any
}

// Definition is the immutable, shared description of one state variable.
// Definitions are owned by a Service and referenced, never copied, by
// every ServiceInstance built from that Service.
type Definition struct {
	Name          string
	VarType       Type
	Range         *Range
	AllowedValues []string // empty means unconstrained
	SendEvents    bool
	Modifiable    bool
	Step          any
	Default       any
	Modifier      Modifier
	// Parse converts a raw wire string into a typed Go value using this
	// definition's VarType. Callers normally use the package-level Cast
	// instead; Parse exists so a Definition can be handed to code that
	// only has the raw string and the definition, not the type constant.
}

// Parse casts raw per the definition's declared type.
func (d *Definition) Parse(raw string) (any, error) {
	return Cast(raw, d.VarType)
}

// Valid reports whether v is valid for this definition: it must cast,
// lie in Range (if any), and appear in AllowedValues (if any are
// declared). v is expected already-cast (the Go-typed value), matching
// IsValid's contract below.
func (d *Definition) Valid(v any) bool {
	if !inRangeTyped(v, d.Range) {
		return false
	}
	if len(d.AllowedValues) > 0 {
		s := fmt.Sprintf("%v", v)
		found := false
		for _, a := range d.AllowedValues {
			if a == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
