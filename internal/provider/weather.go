package provider

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nugget/apiconsole/internal/apperr"
)

// Coordinates locate a gazetteer city.
type Coordinates struct {
	Lat float64
	Lon float64
}

type city struct {
	name   string
	coords Coordinates
}

// gazetteer is ordered so the "not available" error lists cities in a
// stable order.
var gazetteer = []city{
	{"berlin", Coordinates{52.52, 13.41}},
	{"tokyo", Coordinates{35.6762, 139.6503}},
	{"london", Coordinates{51.5074, -0.1278}},
	{"paris", Coordinates{48.8566, 2.3522}},
	{"new york", Coordinates{40.7128, -74.0060}},
	{"los angeles", Coordinates{34.0522, -118.2437}},
	{"sydney", Coordinates{-33.8688, 151.2093}},
	{"moscow", Coordinates{55.7558, 37.6176}},
	{"madrid", Coordinates{40.4168, -3.7038}},
	{"rome", Coordinates{41.9028, 12.4964}},
	{"amsterdam", Coordinates{52.3676, 4.9041}},
	{"dubai", Coordinates{25.2048, 55.2708}},
	{"miami", Coordinates{25.7617, -80.1918}},
	{"barcelona", Coordinates{41.3851, 2.1734}},
	{"istanbul", Coordinates{41.0082, 28.9784}},
	{"singapore", Coordinates{1.3521, 103.8198}},
}

var weatherConditions = map[int]string{
	0:  "Clear sky",
	1:  "Mainly clear",
	2:  "Partly cloudy",
	3:  "Overcast",
	45: "Foggy",
	48: "Depositing rime fog",
	51: "Light drizzle",
	61: "Slight rain",
	80: "Rain showers",
	95: "Thunderstorm",
}

// SupportedCities returns the gazetteer city names in order.
func SupportedCities() []string {
	names := make([]string, len(gazetteer))
	for i, c := range gazetteer {
		names[i] = c.name
	}
	return names
}

// LookupCity matches name case-insensitively against the gazetteer.
func LookupCity(name string) (Coordinates, bool) {
	key := strings.ToLower(name)
	for _, c := range gazetteer {
		if c.name == key {
			return c.coords, true
		}
	}
	return Coordinates{}, false
}

// Condition maps an Open-Meteo weather code to a readable description.
func Condition(code int) string {
	if s, ok := weatherConditions[code]; ok {
		return s
	}
	return fmt.Sprintf("Unknown weather (code: %d)", code)
}

// Weather is the normalized current-weather payload.
type Weather struct {
	Location    string    `json:"location"`
	Temperature string    `json:"temperature"`
	Condition   string    `json:"condition"`
	WindSpeed   string    `json:"windSpeed"`
	Timestamp   time.Time `json:"timestamp"`
}

type forecastResponse struct {
	CurrentWeather struct {
		Temperature float64 `json:"temperature"`
		WindSpeed   float64 `json:"windspeed"`
		WeatherCode int     `json:"weathercode"`
	} `json:"current_weather"`
}

// WeatherClient reads current conditions from Open-Meteo.
type WeatherClient struct {
	base
}

// NewWeather creates a weather adapter rooted at baseURL
// (https://api.open-meteo.com/v1 in production).
func NewWeather(baseURL string, client *http.Client, logger *slog.Logger) *WeatherClient {
	return &WeatherClient{base: newBase("weather", baseURL, client, logger)}
}

// Get returns the current weather for a gazetteer city. Unknown cities
// fail with a validation error listing the supported ones, before any
// network call.
func (w *WeatherClient) Get(ctx context.Context, cityName string) (*Weather, error) {
	coords, ok := LookupCity(cityName)
	if !ok {
		return nil, apperr.Validation("weather.get", fmt.Sprintf(
			"Weather data not available for %q. Available cities: %s",
			cityName, strings.Join(SupportedCities(), ", "),
		))
	}

	q := url.Values{}
	q.Set("latitude", strconv.FormatFloat(coords.Lat, 'f', -1, 64))
	q.Set("longitude", strconv.FormatFloat(coords.Lon, 'f', -1, 64))
	q.Set("current_weather", "true")

	var resp forecastResponse
	if err := w.getJSON(ctx, "weather.get", "/forecast", q, &resp); err != nil {
		return nil, err
	}

	cw := resp.CurrentWeather
	return &Weather{
		Location:    cityName,
		Temperature: strconv.FormatFloat(cw.Temperature, 'f', -1, 64) + "°C",
		Condition:   Condition(cw.WeatherCode),
		WindSpeed:   strconv.FormatFloat(cw.WindSpeed, 'f', -1, 64) + " km/h",
		Timestamp:   w.now(),
	}, nil
}
