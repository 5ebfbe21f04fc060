package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// ErrNoResult is returned when a geocoder found nothing for an address.
var ErrNoResult = errors.New("geo: no result")

type Geocoder interface {
	Geocode(ctx context.Context, address string) (Point, error)
}

var defaultHTTPClient = &http.Client{Timeout: 10 * time.Second}

func getJSON(ctx context.Context, client *http.Client, endpoint string, header http.Header, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	for k, v := range header {
		req.Header[k] = v
	}
	if client == nil {
		client = defaultHTTPClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(dest)
}

// =============================================================================
// YANDEX
// =============================================================================

const yandexEndpoint = "https://geocode-maps.yandex.ru/1.x/"

type Yandex struct {
	APIKey   string
	Endpoint string // defaults to the public API
	Client   *http.Client
}

type yandexResponse struct {
	Response struct {
		GeoObjectCollection struct {
			FeatureMember []struct {
				GeoObject struct {
					Point struct {
						Pos string `json:"pos"` // "lon lat"
					} `json:"Point"`
				} `json:"GeoObject"`
			} `json:"featureMember"`
		} `json:"GeoObjectCollection"`
	} `json:"response"`
}

func (y *Yandex) Geocode(ctx context.Context, address string) (Point, error) {
	endpoint := y.Endpoint
	if endpoint == "" {
		endpoint = yandexEndpoint
	}
	q := url.Values{"apikey": {y.APIKey}, "geocode": {address}, "format": {"json"}}

	var body yandexResponse
	if err := getJSON(ctx, y.Client, endpoint+"?"+q.Encode(), nil, &body); err != nil {
		return Point{}, fmt.Errorf("yandex: %w", err)
	}
	members := body.Response.GeoObjectCollection.FeatureMember
	if len(members) == 0 {
		return Point{}, fmt.Errorf("yandex: %w", ErrNoResult)
	}
	pos := strings.Fields(members[0].GeoObject.Point.Pos)
	if len(pos) != 2 {
		return Point{}, fmt.Errorf("yandex: malformed pos %q", members[0].GeoObject.Point.Pos)
	}
	lon, err1 := strconv.ParseFloat(pos[0], 64)
	lat, err2 := strconv.ParseFloat(pos[1], 64)
	if err := errors.Join(err1, err2); err != nil {
		return Point{}, fmt.Errorf("yandex: %w", err)
	}
	return Point{Lat: lat, Lon: lon}, nil
}

// =============================================================================
// NOMINATIM
// =============================================================================

const nominatimEndpoint = "https://nominatim.openstreetmap.org/search"

// Nominatim queries OpenStreetMap. The public instance allows one request per
// second and requires a User-Agent.
type Nominatim struct {
	UserAgent string
	Endpoint  string
	Client    *http.Client
	Limiter   *rate.Limiter // nil disables throttling
}

func NewNominatim(userAgent string) *Nominatim {
	return &Nominatim{UserAgent: userAgent, Limiter: rate.NewLimiter(rate.Every(time.Second), 1)}
}

type nominatimPlace struct {
	Lat string `json:"lat"`
	Lon string `json:"lon"`
}

func (n *Nominatim) Geocode(ctx context.Context, address string) (Point, error) {
	if n.Limiter != nil {
		if err := n.Limiter.Wait(ctx); err != nil {
			return Point{}, fmt.Errorf("nominatim: %w", err)
		}
	}
	endpoint := n.Endpoint
	if endpoint == "" {
		endpoint = nominatimEndpoint
	}
	q := url.Values{"q": {address}, "format": {"json"}, "limit": {"1"}}
	header := http.Header{"User-Agent": {n.UserAgent}}

	var places []nominatimPlace
	if err := getJSON(ctx, n.Client, endpoint+"?"+q.Encode(), header, &places); err != nil {
		return Point{}, fmt.Errorf("nominatim: %w", err)
	}
	if len(places) == 0 {
		return Point{}, fmt.Errorf("nominatim: %w", ErrNoResult)
	}
	lat, err1 := strconv.ParseFloat(places[0].Lat, 64)
	lon, err2 := strconv.ParseFloat(places[0].Lon, 64)
	if err := errors.Join(err1, err2); err != nil {
		return Point{}, fmt.Errorf("nominatim: %w", err)
	}
	return Point{Lat: lat, Lon: lon}, nil
}

// =============================================================================
// CHAIN
// =============================================================================

// Chain tries each geocoder in order and returns the first hit.
type Chain []Geocoder

func (c Chain) Geocode(ctx context.Context, address string) (Point, error) {
	if len(c) == 0 {
		return Point{}, ErrNoResult
	}
	var errs []error
	for _, g := range c {
		p, err := g.Geocode(ctx, address)
		if err == nil {
			return p, nil
		}
		if ctx.Err() != nil {
			return Point{}, ctx.Err()
		}
		errs = append(errs, err)
	}
	return Point{}, errors.Join(errs...)
}
