// Package alerts turns a conditions snapshot into alert candidates.
package alerts

import (
	"fmt"

	"github.com/sigaire/pushalerts/internal/domain"
)

const (
	RainLikelyThreshold   = 60
	RainPossibleThreshold = 30
)

type Options struct {
	TestMode bool
}

// Decide applies each rule independently and returns candidates in rule
// order: test, rain, air. Absent values suppress their rule.
func Decide(c domain.Conditions, opts Options) []domain.Alert {
	var out []domain.Alert

	if opts.TestMode {
		out = append(out, domain.Alert{
			Title: domain.DefaultTitle,
			Body:  "🧪 Automatic dispatch test",
			Tag:   domain.TagTest,
		})
	}

	if p := c.RainProbability; p != nil {
		switch {
		case *p >= RainLikelyThreshold:
			out = append(out, domain.Alert{
				Title: domain.DefaultTitle,
				Body:  fmt.Sprintf("🌧️ Rain likely (%d%%). Take an umbrella.", *p),
				Tag:   domain.TagRain,
			})
		case *p >= RainPossibleThreshold:
			out = append(out, domain.Alert{
				Title: domain.DefaultTitle,
				Body:  fmt.Sprintf("🌦️ Possible rain (%d%%).", *p),
				Tag:   domain.TagRain,
			})
		}
	}

	if a := c.AQI; a != nil {
		cat := c.AQICategory
		if cat == "" {
			cat = domain.CategoryFor(*a)
		}
		if cat != domain.AQIGood {
			out = append(out, domain.Alert{
				Title: domain.DefaultTitle,
				Body:  fmt.Sprintf("%s Air quality %s (AQI %d).", aqiIcon(cat), cat, *a),
				Tag:   domain.TagAir,
			})
		}
	}

	return out
}

func aqiIcon(cat domain.AQICategory) string {
	switch cat {
	case domain.AQIModerate:
		return "🙂"
	case domain.AQISensitive:
		return "⚠️"
	case domain.AQIPoor:
		return "😷"
	default:
		return "🚫"
	}
}
