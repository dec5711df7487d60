package openmeteo

// wmoDescriptions maps WMO weather interpretation codes to descriptions.
var wmoDescriptions = map[int]string{
	0:  "clear sky",
	1:  "mainly clear",
	2:  "partly cloudy",
	3:  "overcast",
	45: "fog",
	48: "depositing rime fog",
	51: "light drizzle",
	53: "moderate drizzle",
	55: "dense drizzle",
	56: "light freezing drizzle",
	57: "dense freezing drizzle",
	61: "slight rain",
	63: "moderate rain",
	65: "heavy rain",
	66: "light freezing rain",
	67: "heavy freezing rain",
	71: "slight snow fall",
	73: "moderate snow fall",
	75: "heavy snow fall",
	77: "snow grains",
	80: "slight rain showers",
	81: "moderate rain showers",
	82: "violent rain showers",
	85: "slight snow showers",
	86: "heavy snow showers",
	95: "thunderstorm",
	96: "thunderstorm with slight hail",
	99: "thunderstorm with heavy hail",
}

// wmoIcons maps WMO codes onto OpenWeatherMap icon ids so clients see one
// icon vocabulary regardless of provider.
var wmoIcons = map[int]string{
	0:  "01d",
	1:  "02d",
	2:  "03d",
	3:  "04d",
	45: "50d",
	48: "50d",
	51: "09d",
	53: "09d",
	55: "09d",
	56: "13d",
	57: "13d",
	61: "10d",
	63: "10d",
	65: "10d",
	66: "13d",
	67: "13d",
	71: "13d",
	73: "13d",
	75: "13d",
	77: "13d",
	80: "09d",
	81: "09d",
	82: "09d",
	85: "13d",
	86: "13d",
	95: "11d",
	96: "11d",
	99: "11d",
}
