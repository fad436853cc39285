package tools

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
)

const openWeatherURL = "https://api.openweathermap.org/data/2.5"

// WeatherTool reads current conditions and forecasts from OpenWeatherMap.
type WeatherTool struct {
	apiKey  string
	client  *apiClient
	actions *actionSet
}

func NewWeatherTool(apiKey, baseURL string, hc *http.Client) *WeatherTool {
	if baseURL == "" {
		baseURL = openWeatherURL
	}
	w := &WeatherTool{apiKey: apiKey, client: newAPIClient(baseURL, hc)}

	w.actions = newActionSet(w.Name())
	w.actions.add(Action{
		Name:        "current",
		Aliases:     []string{"get_current_weather"},
		Description: "Current weather for a city",
		Parameters: schema([]string{"city"}, map[string]any{
			"city":  prop("string", "City name, e.g. London"),
			"units": prop("string", "metric, imperial or standard (default metric)"),
		}),
	}, w.current)
	w.actions.add(Action{
		Name:        "forecast",
		Aliases:     []string{"get_forecast"},
		Description: "Daily forecast for a city, 1-5 days",
		Parameters: schema([]string{"city"}, map[string]any{
			"city":  prop("string", "City name"),
			"days":  prop("integer", "Number of days, 1-5 (default 3)"),
			"units": prop("string", "metric, imperial or standard (default metric)"),
		}),
	}, w.forecast)
	return w
}

func (w *WeatherTool) Name() string { return "weather" }

func (w *WeatherTool) Description() string {
	return "Current weather and short-range forecasts for cities (OpenWeatherMap)."
}

func (w *WeatherTool) Actions() []Action { return w.actions.actions }

func (w *WeatherTool) Invoke(ctx context.Context, action string, params map[string]any) (any, error) {
	return w.actions.invoke(ctx, action, params)
}

type owmConditions struct {
	Main struct {
		Temp      float64 `json:"temp"`
		FeelsLike float64 `json:"feels_like"`
		Humidity  float64 `json:"humidity"`
	} `json:"main"`
	Weather []struct {
		Description string `json:"description"`
	} `json:"weather"`
}

func (c owmConditions) description() string {
	if len(c.Weather) == 0 {
		return ""
	}
	return c.Weather[0].Description
}

func tempUnit(units string) string {
	switch units {
	case "metric":
		return "°C"
	case "imperial":
		return "°F"
	}
	return "K"
}

func (w *WeatherTool) query(p Params) (url.Values, string, string, error) {
	if w.apiKey == "" {
		return nil, "", "", &Error{Class: ClassInvalid, Err: fmt.Errorf("%w: OPENWEATHERMAP_API_KEY is not set", ErrNotConfigured)}
	}
	city, err := p.Required("city")
	if err != nil {
		return nil, "", "", err
	}
	units := p.String("units", "metric")
	q := url.Values{}
	q.Set("q", city)
	q.Set("appid", w.apiKey)
	q.Set("units", units)
	return q, city, units, nil
}

func cityNotFound(err error, city string) error {
	var te *Error
	if isNotFound(err) && errors.As(err, &te) {
		te.Err = fmt.Errorf("%w: city %q not found, check the spelling or add a country code (e.g. \"Paris,FR\")", ErrNotFound, city)
	}
	return err
}

func (w *WeatherTool) current(ctx context.Context, p Params) (any, error) {
	q, city, units, err := w.query(p)
	if err != nil {
		return nil, err
	}

	var data struct {
		owmConditions
		Name string `json:"name"`
		Sys  struct {
			Country string `json:"country"`
		} `json:"sys"`
		Wind struct {
			Speed float64 `json:"speed"`
		} `json:"wind"`
		Coord struct {
			Lat float64 `json:"lat"`
			Lon float64 `json:"lon"`
		} `json:"coord"`
	}
	if err := w.client.getJSON(ctx, "/weather", q, &data); err != nil {
		return nil, cityNotFound(err, city)
	}

	unit := tempUnit(units)
	return map[string]any{
		"city":        data.Name,
		"country":     data.Sys.Country,
		"temperature": fmt.Sprintf("%.1f%s", data.Main.Temp, unit),
		"feels_like":  fmt.Sprintf("%.1f%s", data.Main.FeelsLike, unit),
		"humidity":    fmt.Sprintf("%.0f%%", data.Main.Humidity),
		"description": data.description(),
		"wind_speed":  fmt.Sprintf("%.1f m/s", data.Wind.Speed),
		"coordinates": map[string]any{"lat": data.Coord.Lat, "lon": data.Coord.Lon},
	}, nil
}

func (w *WeatherTool) forecast(ctx context.Context, p Params) (any, error) {
	q, city, units, err := w.query(p)
	if err != nil {
		return nil, err
	}
	days := clampInt(p.Int("days", 3), 1, 5)
	q.Set("cnt", fmt.Sprint(min(days*8, 40)))

	var data struct {
		List []struct {
			owmConditions
			DtTxt string `json:"dt_txt"`
		} `json:"list"`
		City struct {
			Name    string `json:"name"`
			Country string `json:"country"`
		} `json:"city"`
	}
	if err := w.client.getJSON(ctx, "/forecast", q, &data); err != nil {
		return nil, cityNotFound(err, city)
	}

	unit := tempUnit(units)
	// Entries are three hours apart; take one per day.
	var entries []any
	for i := 0; i < len(data.List) && len(entries) < days; i += 8 {
		item := data.List[i]
		entries = append(entries, map[string]any{
			"date":        item.DtTxt,
			"temperature": fmt.Sprintf("%.1f%s", item.Main.Temp, unit),
			"description": item.description(),
			"humidity":    fmt.Sprintf("%.0f%%", item.Main.Humidity),
		})
	}
	return map[string]any{
		"city":     data.City.Name,
		"country":  data.City.Country,
		"forecast": entries,
	}, nil
}
