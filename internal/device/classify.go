package device

import (
	"strings"

	"fleethub/pkg/fleet"
)

// ClassFilter is one rule in the class-resolution table: a device
// matches when every predicate in Match returns true against its
// inventory record. The first matching filter in ClassFilters wins;
// a device matching none of them falls back to ICMPable, exactly as the
// original manager's device_map.yml fallback does for unclassified
// hardware.
type ClassFilter struct {
	Class Class
	Match func(rec fleet.DeviceRecord) bool
}

// roleContains reports whether rec.Role contains substr, generalizing
// the original's compare_fields/recursive_get dotted-path filter lookup
// into a direct Go predicate since this service's inventory schema is
// fixed (no longer arbitrary JSON paths).
func roleContains(substr string) func(fleet.DeviceRecord) bool {
	return func(rec fleet.DeviceRecord) bool {
		return strings.Contains(strings.ToLower(rec.Role), strings.ToLower(substr))
	}
}

func roleEquals(role string) func(fleet.DeviceRecord) bool {
	return func(rec fleet.DeviceRecord) bool {
		return rec.Role == role
	}
}

func hasTag(tag string) func(fleet.DeviceRecord) bool {
	return func(rec fleet.DeviceRecord) bool {
		for _, t := range rec.Tags {
			if t == tag {
				return true
			}
		}
		return false
	}
}

func modelPrefix(prefix string) func(fleet.DeviceRecord) bool {
	return func(rec fleet.DeviceRecord) bool {
		return strings.Contains(strings.ToLower(rec.DeviceType.Model), strings.ToLower(prefix))
	}
}

// ClassFilters is the ordered resolution table, grounded on
// original_source/misc/__init__.py's device_map.yml-driven
// get_device_class: PDUs resolve by role and vendor model, displays by
// role (and model for LG), BrightSign players by model, computers by role
// substring, WOL devices by tag; everything else, network switches
// included, falls through to plain ICMP liveness.
var ClassFilters = []ClassFilter{
	{Class: ClassGudePDU, Match: func(rec fleet.DeviceRecord) bool {
		return roleEquals("PDU")(rec) && modelPrefix("Gude")(rec)
	}},
	{Class: ClassPJLink, Match: roleEquals("Projektor")},
	{Class: ClassWebOSTV, Match: func(rec fleet.DeviceRecord) bool {
		return roleEquals("Monitor")(rec) && modelPrefix("LG")(rec)
	}},
	{Class: ClassBrightSign, Match: modelPrefix("BrightSign")},
	{Class: ClassComputer, Match: roleContains("Medienstation")},
	{Class: ClassWOLable, Match: hasTag("wol")},
}

// ResolveClass walks ClassFilters in order and returns the first match,
// or ClassICMPable if nothing matches.
func ResolveClass(rec fleet.DeviceRecord) Class {
	for _, f := range ClassFilters {
		if f.Match(rec) {
			return f.Class
		}
	}
	return ClassICMPable
}
