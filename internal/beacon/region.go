package beacon

import (
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// MaxRegionIDs is the number of identifier components a region may constrain
const MaxRegionIDs = 3

// Region is a set of beacon identifiers the engine monitors for enter/exit.
// Identifier is the only equality key; IDs and BluetoothAddress are filters.
type Region struct {
	Identifier       string   `json:"identifier"`
	IDs              []string `json:"ids,omitempty"`
	BluetoothAddress string   `json:"bluetoothAddress,omitempty"`
}

// Normalize validates the region and returns a copy with canonical identifiers:
// id1 as a lower-case UUID, id2/id3 as decimal 16-bit values.
func (r Region) Normalize() (Region, error) {
	if strings.TrimSpace(r.Identifier) == "" {
		return Region{}, Errorf(CodeInvalidArgument, "region identifier is required")
	}
	if len(r.IDs) > MaxRegionIDs {
		return Region{}, Errorf(CodeInvalidArgument, "region %q has %d ids, at most %d allowed", r.Identifier, len(r.IDs), MaxRegionIDs)
	}

	out := Region{
		Identifier:       r.Identifier,
		BluetoothAddress: strings.ToUpper(strings.TrimSpace(r.BluetoothAddress)),
	}
	if len(r.IDs) > 0 {
		out.IDs = make([]string, len(r.IDs))
	}
	for i, id := range r.IDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if i == 0 {
			u, err := uuid.Parse(id)
			if err != nil {
				return Region{}, Errorf(CodeInvalidArgument, "region %q: id1 %q is not a UUID", r.Identifier, id)
			}
			out.IDs[i] = u.String()
			continue
		}
		n, err := strconv.ParseUint(id, 10, 16)
		if err != nil {
			return Region{}, Errorf(CodeInvalidArgument, "region %q: id%d %q is not a 16-bit value", r.Identifier, i+1, id)
		}
		out.IDs[i] = strconv.FormatUint(n, 10)
	}

	// trailing wildcards carry no information
	for len(out.IDs) > 0 && out.IDs[len(out.IDs)-1] == "" {
		out.IDs = out.IDs[:len(out.IDs)-1]
	}
	if len(out.IDs) == 0 {
		out.IDs = nil
	}
	return out, nil
}

// Matches reports whether a sighted beacon falls inside the region.
// Empty region ids act as wildcards.
func (r Region) Matches(b Beacon) bool {
	for i, id := range r.IDs {
		if id == "" {
			continue
		}
		if i >= len(b.IDs) || !strings.EqualFold(id, b.IDs[i]) {
			return false
		}
	}
	if r.BluetoothAddress != "" && !strings.EqualFold(r.BluetoothAddress, b.BluetoothAddress) {
		return false
	}
	return true
}

// SameFields reports whether two regions carry identical filters
func (r Region) SameFields(o Region) bool {
	if r.Identifier != o.Identifier || !strings.EqualFold(r.BluetoothAddress, o.BluetoothAddress) {
		return false
	}
	if len(r.IDs) != len(o.IDs) {
		return false
	}
	for i := range r.IDs {
		if !strings.EqualFold(r.IDs[i], o.IDs[i]) {
			return false
		}
	}
	return true
}
