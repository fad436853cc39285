package tools

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
)

const restCountriesURL = "https://restcountries.com/v3.1"

// CountriesTool reads country facts from REST Countries.
type CountriesTool struct {
	client  *apiClient
	actions *actionSet
}

func NewCountriesTool(baseURL string, hc *http.Client) *CountriesTool {
	if baseURL == "" {
		baseURL = restCountriesURL
	}
	c := &CountriesTool{client: newAPIClient(baseURL, hc)}

	c.actions = newActionSet(c.Name())
	c.actions.add(Action{
		Name:        "get_country_by_name",
		Aliases:     []string{"by_name", "country"},
		Description: "Facts about a country by full or partial name",
		Parameters: schema([]string{"name"}, map[string]any{
			"name": prop("string", "Country name"),
		}),
	}, c.byName)
	c.actions.add(Action{
		Name:        "get_countries_by_region",
		Aliases:     []string{"by_region", "region"},
		Description: "Countries in a region, most populous first",
		Parameters: schema([]string{"region"}, map[string]any{
			"region": prop("string", "Africa, Americas, Asia, Europe or Oceania"),
		}),
	}, c.byRegion)
	c.actions.add(Action{
		Name:        "get_country_by_code",
		Aliases:     []string{"by_code"},
		Description: "Facts about a country by ISO code",
		Parameters: schema([]string{"code"}, map[string]any{
			"code": prop("string", "ISO 3166 code, e.g. US, GB, IN"),
		}),
	}, c.byCode)
	return c
}

func (c *CountriesTool) Name() string { return "countries" }

func (c *CountriesTool) Description() string {
	return "Country facts: capital, population, languages, currencies (REST Countries)."
}

func (c *CountriesTool) Actions() []Action { return c.actions.actions }

func (c *CountriesTool) Invoke(ctx context.Context, action string, params map[string]any) (any, error) {
	return c.actions.invoke(ctx, action, params)
}

type rcCountry struct {
	Name struct {
		Common   string `json:"common"`
		Official string `json:"official"`
	} `json:"name"`
	Capital    []string          `json:"capital"`
	Region     string            `json:"region"`
	Subregion  string            `json:"subregion"`
	Population int64             `json:"population"`
	Area       float64           `json:"area"`
	Languages  map[string]string `json:"languages"`
	Currencies map[string]any    `json:"currencies"`
	Timezones  []string          `json:"timezones"`
	Flag       string            `json:"flag"`
	Maps       struct {
		OpenStreetMaps string `json:"openStreetMaps"`
	} `json:"maps"`
}

func (r rcCountry) capital() string {
	if len(r.Capital) == 0 {
		return "N/A"
	}
	return r.Capital[0]
}

func sortedValues(m map[string]string) []any {
	vals := make([]string, 0, len(m))
	for _, v := range m {
		vals = append(vals, v)
	}
	sort.Strings(vals)
	out := make([]any, len(vals))
	for i, v := range vals {
		out[i] = v
	}
	return out
}

func sortedKeys(m map[string]any) []any {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]any, len(keys))
	for i, k := range keys {
		out[i] = k
	}
	return out
}

func (r rcCountry) details() map[string]any {
	subregion := r.Subregion
	if subregion == "" {
		subregion = "N/A"
	}
	tz := make([]any, len(r.Timezones))
	for i, z := range r.Timezones {
		tz[i] = z
	}
	out := map[string]any{
		"name":          r.Name.Common,
		"official_name": r.Name.Official,
		"capital":       r.capital(),
		"region":        r.Region,
		"subregion":     subregion,
		"population":    r.Population,
		"area":          fmt.Sprintf("%.0f km²", r.Area),
		"languages":     sortedValues(r.Languages),
		"currencies":    sortedKeys(r.Currencies),
		"timezones":     tz,
		"flag":          r.Flag,
	}
	if r.Maps.OpenStreetMaps != "" {
		out["link"] = r.Maps.OpenStreetMaps
	}
	return out
}

func (c *CountriesTool) byName(ctx context.Context, p Params) (any, error) {
	name, err := p.Required("name")
	if err != nil {
		return nil, err
	}
	var data []rcCountry
	if err := c.client.getJSON(ctx, "/name/"+url.PathEscape(name), nil, &data); err != nil {
		return nil, countryNotFound(err, name)
	}
	if len(data) == 0 {
		return nil, countryNotFound(StatusError(http.StatusNotFound, ""), name)
	}
	return data[0].details(), nil
}

func (c *CountriesTool) byCode(ctx context.Context, p Params) (any, error) {
	code, err := p.Required("code")
	if err != nil {
		return nil, err
	}
	// The alpha endpoint answers with an object or a one element list
	// depending on the API revision.
	var raw any
	if err := c.client.getJSON(ctx, "/alpha/"+url.PathEscape(code), nil, &raw); err != nil {
		return nil, countryNotFound(err, code)
	}
	if list, ok := raw.([]any); ok {
		if len(list) == 0 {
			return nil, countryNotFound(StatusError(http.StatusNotFound, ""), code)
		}
		raw = list[0]
	}
	var country rcCountry
	if err := remarshal(raw, &country); err != nil {
		return nil, fmt.Errorf("decode country: %w", err)
	}
	return country.details(), nil
}

func (c *CountriesTool) byRegion(ctx context.Context, p Params) (any, error) {
	region, err := p.Required("region")
	if err != nil {
		return nil, err
	}
	var data []rcCountry
	if err := c.client.getJSON(ctx, "/region/"+url.PathEscape(region), nil, &data); err != nil {
		return nil, err
	}
	sort.SliceStable(data, func(i, j int) bool { return data[i].Population > data[j].Population })

	list := make([]any, 0, len(data))
	for _, r := range data {
		list = append(list, map[string]any{
			"name":       r.Name.Common,
			"capital":    r.capital(),
			"population": r.Population,
			"flag":       r.Flag,
		})
	}
	return map[string]any{
		"region":    region,
		"count":     len(list),
		"countries": list,
	}, nil
}

func countryNotFound(err error, name string) error {
	var te *Error
	if isNotFound(err) && errors.As(err, &te) {
		te.Err = fmt.Errorf("%w: country '%s' not found, check the spelling", ErrNotFound, name)
	}
	return err
}
