package sensors

import (
	"regexp"
	"strings"
)

// Category buckets heterogeneous sensor entities into stable groups.
type Category string

const (
	CategoryWeather    Category = "weather"
	CategoryPool       Category = "pool"
	CategoryAirQuality Category = "air_quality"
	CategoryHVAC       Category = "hvac"
	CategoryEnergy     Category = "energy"
	CategorySecurity   Category = "security"
	CategoryMedia      Category = "media"
	CategoryNetwork    Category = "network"
	CategorySystem     Category = "system"
)

// Categories lists every category in classification precedence order,
// ending with the default bucket.
var Categories = []Category{
	CategoryPool,
	CategoryHVAC,
	CategoryAirQuality,
	CategoryWeather,
	CategoryEnergy,
	CategorySecurity,
	CategoryMedia,
	CategoryNetwork,
	CategorySystem,
}

// Valid reports whether name is a known category.
func Valid(name string) bool {
	for _, c := range Categories {
		if string(c) == name {
			return true
		}
	}
	return false
}

// Input is the entity material the classifier inspects.
type Input struct {
	EntityID     string
	Domain       string
	DeviceClass  string
	FriendlyName string
}

// rule pairs a predicate with the category it assigns.
type rule struct {
	category Category
	match    func(in Input, text string) bool
}

// The rule list is evaluated in order and the first match wins. Order
// matters because patterns overlap: "pool" must be checked before the
// generic temperature rules so a pool temperature sensor lands in pool,
// not weather; hvac before air_quality so "ventilation setpoint" style
// names resolve to hvac. Anything unmatched falls into system.
var rules = []rule{
	{CategoryPool, func(in Input, text string) bool {
		return poolPattern.MatchString(text)
	}},
	{CategoryHVAC, func(in Input, text string) bool {
		return in.Domain == "climate" || hvacPattern.MatchString(text)
	}},
	{CategoryAirQuality, func(in Input, text string) bool {
		switch in.DeviceClass {
		case "carbon_dioxide", "carbon_monoxide", "pm1", "pm10", "pm25",
			"volatile_organic_compounds", "aqi":
			return true
		}
		return airQualityPattern.MatchString(text)
	}},
	{CategoryWeather, func(in Input, text string) bool {
		if in.Domain == "weather" {
			return true
		}
		switch in.DeviceClass {
		case "temperature", "humidity", "pressure":
			return true
		}
		return weatherPattern.MatchString(text)
	}},
	{CategoryEnergy, func(in Input, text string) bool {
		switch in.DeviceClass {
		case "power", "energy", "voltage", "current", "power_factor", "gas":
			return true
		}
		return energyPattern.MatchString(text)
	}},
	{CategorySecurity, func(in Input, text string) bool {
		switch in.Domain {
		case "lock", "alarm_control_panel", "camera":
			return true
		}
		switch in.DeviceClass {
		case "motion", "door", "window", "lock", "garage_door", "occupancy", "tamper":
			return true
		}
		return securityPattern.MatchString(text)
	}},
	{CategoryMedia, func(in Input, text string) bool {
		return in.Domain == "media_player" || mediaPattern.MatchString(text)
	}},
	{CategoryNetwork, func(in Input, text string) bool {
		return in.Domain == "device_tracker" || networkPattern.MatchString(text)
	}},
}

var (
	poolPattern       = regexp.MustCompile(`pool|spa\b|hot[_ ]?tub|jacuzzi|chlorine|ph[_ ]?level|alkalinity`)
	hvacPattern       = regexp.MustCompile(`thermostat|hvac|furnace|air[_ ]?condition|heating|cooling|heat[_ ]?pump|boiler|radiator|set[_ ]?point|target[_ ]?temp|climate|duct|damper`)
	airQualityPattern = regexp.MustCompile(`air[_ ]?quality|aqi|co2|carbon[_ ]?dioxide|carbon[_ ]?monoxide|voc|volatile[_ ]?organic|pm[0-9.]+|particulate|radon|formaldehyde|smoke|ventilation|purifier`)
	weatherPattern    = regexp.MustCompile(`weather|forecast|precipitation|rain\b|snow|wind[_ ]?speed|wind[_ ]?direction|barometr|uv[_ ]?index|solar[_ ]?radiation|visibility|cloud|storm|lightning|dew[_ ]?point|feels[_ ]?like|(outdoor|outside|exterior)[_ ].*temp`)
	energyPattern     = regexp.MustCompile(`\bkwh\b|watt|energy|power[_ ]?(usage|consumption|meter)|solar[_ ]?production|grid`)
	securityPattern   = regexp.MustCompile(`motion|door\b|window|lock\b|camera|alarm|siren|intrusion`)
	mediaPattern      = regexp.MustCompile(`media|speaker|volume|now[_ ]?playing|\btv\b`)
	networkPattern    = regexp.MustCompile(`wifi|wi-fi|ssid|rssi|signal[_ ]?strength|ip[_ ]?address|router|gateway|network|ethernet|bandwidth|latency`)
)

// Classify maps an entity onto exactly one category. It is pure and total:
// the same input always yields the same category and unmatched inputs
// resolve to the system bucket.
func Classify(in Input) Category {
	text := strings.ToLower(in.EntityID + " " + in.FriendlyName + " " + in.DeviceClass)
	for _, r := range rules {
		if r.match(in, text) {
			return r.category
		}
	}
	return CategorySystem
}

// IsSensorDomain reports whether a domain participates in sensor
// categorization at all.
func IsSensorDomain(domain string) bool {
	switch domain {
	case "sensor", "binary_sensor", "weather":
		return true
	}
	return false
}
