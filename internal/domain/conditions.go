package domain

type AQICategory string

const (
	AQIGood      AQICategory = "Good"
	AQIModerate  AQICategory = "Moderate"
	AQISensitive AQICategory = "Sensitive"
	AQIPoor      AQICategory = "Poor"
	AQIVeryPoor  AQICategory = "Very Poor"
)

// CategoryFor maps a US AQI value onto its category.
func CategoryFor(aqi int) AQICategory {
	switch {
	case aqi <= 50:
		return AQIGood
	case aqi <= 100:
		return AQIModerate
	case aqi <= 150:
		return AQISensitive
	case aqi <= 200:
		return AQIPoor
	default:
		return AQIVeryPoor
	}
}

// Conditions is the environmental snapshot for one location. Nil fields
// mean the value could not be obtained.
type Conditions struct {
	RainProbability *int        `json:"rain_probability,omitempty"`
	AQI             *int        `json:"aqi,omitempty"`
	AQICategory     AQICategory `json:"aqi_category,omitempty"`
}

func (c Conditions) Empty() bool {
	return c.RainProbability == nil && c.AQI == nil
}
