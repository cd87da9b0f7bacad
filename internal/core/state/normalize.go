package state

import (
	"sort"

	"github.com/frostdev-ops/pma-hub-go/internal/adapters/homeassistant"
)

// Normalization maps transport payloads onto the single entity model.
// REST and WebSocket return the same logical records in the same wire
// shapes, so callers of this package never observe which transport
// served a query.

func normalizeState(raw homeassistant.HAState) Entity {
	e := Entity{
		EntityID:    raw.EntityID,
		Domain:      entityDomain(raw.EntityID),
		State:       raw.State,
		Attributes:  raw.Attributes,
		LastUpdated: raw.LastUpdated,
	}
	if name, ok := raw.Attributes["friendly_name"].(string); ok {
		e.FriendlyName = name
	}
	return e
}

func normalizeStates(raw []homeassistant.HAState) []Entity {
	entities := make([]Entity, 0, len(raw))
	for _, s := range raw {
		entities = append(entities, normalizeState(s))
	}
	return entities
}

func normalizeDevice(raw homeassistant.HADeviceEntry) Device {
	d := Device{
		ID:   raw.ID,
		Name: raw.Name,
	}
	// A user-assigned name wins over the integration-provided one.
	if raw.NameByUser != nil && *raw.NameByUser != "" {
		d.Name = *raw.NameByUser
	}
	if raw.AreaID != nil {
		d.AreaID = *raw.AreaID
	}
	if raw.Manufacturer != nil {
		d.Manufacturer = *raw.Manufacturer
	}
	if raw.Model != nil {
		d.Model = *raw.Model
	}
	return d
}

// buildAreas joins the three registries into area views with resolved
// membership. An entity belongs to its own area when the registry assigns
// one, otherwise to its device's area. Disabled records are skipped.
// Membership lists are sorted so repeated builds are byte-identical.
func buildAreas(areas []homeassistant.HAAreaEntry, devices []homeassistant.HADeviceEntry, entities []homeassistant.HAEntityEntry) []Area {
	deviceArea := make(map[string]string, len(devices))
	devicesByArea := make(map[string][]string)
	for _, d := range devices {
		if d.DisabledBy != nil {
			continue
		}
		if d.AreaID != nil && *d.AreaID != "" {
			deviceArea[d.ID] = *d.AreaID
			devicesByArea[*d.AreaID] = append(devicesByArea[*d.AreaID], d.ID)
		}
	}

	entitiesByArea := make(map[string][]string)
	for _, e := range entities {
		if e.DisabledBy != nil {
			continue
		}
		areaID := ""
		if e.AreaID != nil && *e.AreaID != "" {
			areaID = *e.AreaID
		} else if e.DeviceID != nil {
			areaID = deviceArea[*e.DeviceID]
		}
		if areaID != "" {
			entitiesByArea[areaID] = append(entitiesByArea[areaID], e.EntityID)
		}
	}

	result := make([]Area, 0, len(areas))
	for _, a := range areas {
		deviceIDs := devicesByArea[a.AreaID]
		entityIDs := entitiesByArea[a.AreaID]
		sort.Strings(deviceIDs)
		sort.Strings(entityIDs)
		if deviceIDs == nil {
			deviceIDs = []string{}
		}
		if entityIDs == nil {
			entityIDs = []string{}
		}
		result = append(result, Area{
			AreaID:    a.AreaID,
			Name:      a.Name,
			DeviceIDs: deviceIDs,
			EntityIDs: entityIDs,
		})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].AreaID < result[j].AreaID })
	return result
}

// areaEntityIDs resolves the entity membership of one area.
func areaEntityIDs(areaID string, devices []homeassistant.HADeviceEntry, entities []homeassistant.HAEntityEntry) []string {
	deviceArea := make(map[string]string, len(devices))
	for _, d := range devices {
		if d.DisabledBy == nil && d.AreaID != nil {
			deviceArea[d.ID] = *d.AreaID
		}
	}

	var ids []string
	for _, e := range entities {
		if e.DisabledBy != nil {
			continue
		}
		own := ""
		if e.AreaID != nil {
			own = *e.AreaID
		}
		if own == "" && e.DeviceID != nil {
			own = deviceArea[*e.DeviceID]
		}
		if own == areaID {
			ids = append(ids, e.EntityID)
		}
	}
	sort.Strings(ids)
	return ids
}
