// Package conditions maps a day's predicted metrics to a display condition.
//
// The rules form an ordered priority chain: precipitation dominates cloud
// cover, which dominates temperature. The first matching rule wins.
package conditions

import (
	"math"
	"strconv"
)

// Code is the stable machine identifier of a condition.
type Code string

const (
	CodeHeavyRain    Code = "heavy_rain"
	CodeRain         Code = "rain"
	CodeOvercast     Code = "overcast"
	CodeShowers      Code = "showers"
	CodePartlyCloudy Code = "partly_cloudy"
	CodeHotSunny     Code = "hot_sunny"
	CodeChilly       Code = "chilly"
	CodeClear        Code = "clear"
)

// Condition is a classified weather condition with its display label and icon.
type Condition struct {
	Code  Code   `json:"code"`
	Label string `json:"label"`
	Icon  string `json:"icon"`
}

var catalog = map[Code]Condition{
	CodeHeavyRain:    {Code: CodeHeavyRain, Label: "Heavy Rain", Icon: "🌧️"},
	CodeRain:         {Code: CodeRain, Label: "Rain", Icon: "☔"},
	CodeOvercast:     {Code: CodeOvercast, Label: "Overcast", Icon: "☁️"},
	CodeShowers:      {Code: CodeShowers, Label: "Showers", Icon: "🌦️"},
	CodePartlyCloudy: {Code: CodePartlyCloudy, Label: "Partly Cloudy", Icon: "⛅"},
	CodeHotSunny:     {Code: CodeHotSunny, Label: "Hot & Sunny", Icon: "🌞"},
	CodeChilly:       {Code: CodeChilly, Label: "Chilly", Icon: "🥶"},
	CodeClear:        {Code: CodeClear, Label: "Clear/Sunny", Icon: "☀️"},
}

// Lookup returns the condition for a code. Unknown codes yield the zero value.
func Lookup(code Code) Condition {
	return catalog[code]
}

// Classify evaluates the rule chain against rounded inputs: temperature and
// cloud cover to whole numbers, precipitation to one decimal place.
//
// The comparison operators are part of the contract. Precipitation of exactly
// 1.0 is not "Rain" and cloud cover of exactly 40 is not cloudy.
func Classify(temperature, precipitation, cloudCover float64) Condition {
	temp := roundTo(temperature, 0)
	precip := roundTo(precipitation, 1)
	cloud := roundTo(cloudCover, 0)

	switch {
	case precip >= 5:
		return catalog[CodeHeavyRain]
	case precip > 1:
		return catalog[CodeRain]
	case cloud > 85:
		return catalog[CodeOvercast]
	case cloud > 40 && precip > 0.1:
		return catalog[CodeShowers]
	case cloud > 40:
		return catalog[CodePartlyCloudy]
	case temp >= 30:
		return catalog[CodeHotSunny]
	case temp < 10:
		return catalog[CodeChilly]
	default:
		return catalog[CodeClear]
	}
}

// roundTo rounds x to the given number of decimal places using the exact
// binary value of x, with ties going to the even digit. 9.5 rounds to 10,
// 10.5 to 10, and 0.15 (stored as 0.1499...) to 0.1.
func roundTo(x float64, places int) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return x
	}
	v, err := strconv.ParseFloat(strconv.FormatFloat(x, 'f', places, 64), 64)
	if err != nil {
		return x
	}
	return v
}
