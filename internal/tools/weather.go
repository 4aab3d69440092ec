package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// WeatherTool looks up current conditions via the Open-Meteo public API
// (geocoding then forecast, no credentials required).
type WeatherTool struct {
	httpClient *http.Client
}

// NewWeatherTool creates a weather lookup tool.
func NewWeatherTool() *WeatherTool {
	return &WeatherTool{
		httpClient: &http.Client{
			Timeout: 8 * time.Second,
		},
	}
}

func (t *WeatherTool) Name() string { return "weather" }

func (t *WeatherTool) Description() string {
	return "Get the current weather for a city or place name."
}

func (t *WeatherTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"location": map[string]any{
				"type":        "string",
				"description": "City or place name, e.g. 'Berlin' or 'San Francisco'.",
			},
		},
		"required": []string{"location"},
	}
}

// weatherCodes maps WMO interpretation codes to descriptions.
var weatherCodes = map[int]string{
	0: "clear sky", 1: "mainly clear", 2: "partly cloudy", 3: "overcast",
	45: "fog", 48: "depositing rime fog",
	51: "light drizzle", 53: "drizzle", 55: "dense drizzle",
	61: "light rain", 63: "rain", 65: "heavy rain",
	71: "light snow", 73: "snow", 75: "heavy snow",
	80: "rain showers", 81: "rain showers", 82: "violent rain showers",
	95: "thunderstorm", 96: "thunderstorm with hail", 99: "thunderstorm with heavy hail",
}

func (t *WeatherTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	location := strings.TrimSpace(GetString(params, "location", ""))
	if location == "" {
		return "", fmt.Errorf("location is required")
	}

	lat, lon, resolved, err := t.geocode(ctx, location)
	if err != nil {
		return "", err
	}

	u := fmt.Sprintf("https://api.open-meteo.com/v1/forecast?latitude=%f&longitude=%f&current=temperature_2m,relative_humidity_2m,wind_speed_10m,weather_code", lat, lon)
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return "", err
	}
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("weather lookup: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("weather lookup: status %d", resp.StatusCode)
	}

	var parsed struct {
		Current struct {
			Temperature float64 `json:"temperature_2m"`
			Humidity    float64 `json:"relative_humidity_2m"`
			WindSpeed   float64 `json:"wind_speed_10m"`
			WeatherCode int     `json:"weather_code"`
		} `json:"current"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("parse weather response: %w", err)
	}

	conditions := weatherCodes[parsed.Current.WeatherCode]
	if conditions == "" {
		conditions = "unknown"
	}
	out, err := json.Marshal(map[string]any{
		"location":      resolved,
		"temperature_c": parsed.Current.Temperature,
		"humidity_pct":  parsed.Current.Humidity,
		"wind_kmh":      parsed.Current.WindSpeed,
		"conditions":    conditions,
	})
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (t *WeatherTool) geocode(ctx context.Context, location string) (lat, lon float64, resolved string, err error) {
	u := "https://geocoding-api.open-meteo.com/v1/search?count=1&name=" + url.QueryEscape(location)
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return 0, 0, "", err
	}
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return 0, 0, "", fmt.Errorf("geocode %q: %w", location, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, 0, "", fmt.Errorf("geocode %q: status %d", location, resp.StatusCode)
	}

	var parsed struct {
		Results []struct {
			Name      string  `json:"name"`
			Country   string  `json:"country"`
			Latitude  float64 `json:"latitude"`
			Longitude float64 `json:"longitude"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return 0, 0, "", fmt.Errorf("parse geocode response: %w", err)
	}
	if len(parsed.Results) == 0 {
		return 0, 0, "", fmt.Errorf("unknown location: %s", location)
	}
	r := parsed.Results[0]
	resolved = r.Name
	if r.Country != "" {
		resolved += ", " + r.Country
	}
	return r.Latitude, r.Longitude, resolved, nil
}
