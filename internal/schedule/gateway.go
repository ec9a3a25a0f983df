package schedule

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sebastiankruger/shopfloor-oee/internal/errors"
)

const (
	DefaultTimeout               = 5 * time.Second
	DefaultAvailabilityPercent   = 100.0
	DefaultOperatingHoursPerDay  = 8.0
	DefaultDayStart              = "06:00"
	availabilityPathTemplate     = "/api/equipment/%s/availability"
	maxAvailabilityResponseBytes = 1 << 20
)

// Config controls the scheduling service client and its fallbacks.
type Config struct {
	URL     string
	Timeout time.Duration
	// DefaultAvailability scales the default operating hours, in percent.
	DefaultAvailability   float64
	DefaultOperatingHours float64
	// ShiftModel names a built-in model used before the plain defaults.
	// Empty disables it.
	ShiftModel string
	Timezone   string
	// DayStart is the local "HH:MM" at which each day's default window opens.
	DayStart string
}

// Gateway looks up planned operating windows for a device.
type Gateway struct {
	cfg        Config
	httpClient *http.Client
	shifts     *ShiftModel
	location   *time.Location
	dayStart   time.Duration
}

// NewGateway validates cfg and fills in defaults.
func NewGateway(cfg Config) (*Gateway, error) {
	errFactory := errors.New()

	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.DefaultAvailability == 0 {
		cfg.DefaultAvailability = DefaultAvailabilityPercent
	}
	if cfg.DefaultOperatingHours == 0 {
		cfg.DefaultOperatingHours = DefaultOperatingHoursPerDay
	}
	if cfg.DefaultAvailability < 0 || cfg.DefaultAvailability > 100 {
		return nil, errFactory.WithMessage(errors.ErrPercentageOutOfRange, "default availability must be between 0 and 100")
	}
	if cfg.DefaultOperatingHours < 0 || cfg.DefaultOperatingHours > 24 {
		return nil, errFactory.WithMessage(errors.ErrInvalidConfig, "default operating hours must be between 0 and 24")
	}
	if cfg.DayStart == "" {
		cfg.DayStart = DefaultDayStart
	}
	startClock, err := time.Parse("15:04", cfg.DayStart)
	if err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
	}

	g := &Gateway{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		location: time.UTC,
		dayStart: time.Duration(startClock.Hour())*time.Hour + time.Duration(startClock.Minute())*time.Minute,
	}

	if cfg.Timezone != "" {
		loc, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
		}
		g.location = loc
	}

	if cfg.ShiftModel != "" {
		m, err := NewShiftModel(cfg.ShiftModel, cfg.Timezone)
		if err != nil {
			return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
		}
		g.shifts = m
	}

	return g, nil
}

// PlannedAvailability returns the planned windows of device in [from, to).
// Scheduling service failures never surface; the plan then comes from the
// shift model or the configured defaults and Source says which.
func (g *Gateway) PlannedAvailability(ctx context.Context, device string, from, to time.Time) (Plan, error) {
	if !to.After(from) {
		return Plan{}, errors.New().WithMessage(errors.ErrInvalidPeriod, "period end must be after start")
	}

	if g.cfg.URL != "" {
		windows, err := g.fetch(ctx, device, from, to)
		if err == nil {
			return newPlan(device, from, to, windows, SourceGateway), nil
		}
		log.Warn().
			Err(err).
			Str("device", device).
			Msg("Scheduling service unavailable, using fallback availability")
	}

	return g.Fallback(device, from, to), nil
}

// Fallback builds a plan without asking the scheduling service.
func (g *Gateway) Fallback(device string, from, to time.Time) Plan {
	if g.shifts != nil {
		return newPlan(device, from, to, g.shifts.Windows(from, to), SourceShiftModel)
	}
	return newPlan(device, from, to, g.defaultWindows(from, to), SourceDefault)
}

// defaultWindows opens one window of DefaultOperatingHours ×
// DefaultAvailability% per local day at DayStart, clipped to [from, to).
// A period covering part of a day only gets the part of that day's window
// it overlaps.
func (g *Gateway) defaultWindows(from, to time.Time) []Window {
	perDay := time.Duration(g.cfg.DefaultOperatingHours * g.cfg.DefaultAvailability / 100 * float64(time.Hour))
	if perDay <= 0 {
		return nil
	}

	// Start a day early so a window opened before midnight is still seen.
	local := from.In(g.location).AddDate(0, 0, -1)
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, g.location)

	var windows []Window
	for ; day.Before(to); day = day.AddDate(0, 0, 1) {
		start := day.Add(g.dayStart)
		end := start.Add(perDay)
		if start.Before(from) {
			start = from
		}
		if end.After(to) {
			end = to
		}
		if !end.After(start) {
			continue
		}
		windows = append(windows, Window{Start: start, End: end, Label: "default"})
	}
	return windows
}

type availabilityResponse struct {
	Windows []Window `json:"windows"`
}

func (g *Gateway) fetch(ctx context.Context, device string, from, to time.Time) ([]Window, error) {
	errFactory := errors.New()

	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	q := url.Values{}
	q.Set("from", from.UTC().Format(time.RFC3339))
	q.Set("to", to.UTC().Format(time.RFC3339))
	endpoint := strings.TrimRight(g.cfg.URL, "/") +
		fmt.Sprintf(availabilityPathTemplate, url.PathEscape(device)) + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errFactory.Wrap(errors.ErrGatewayUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, errFactory.Wrap(errors.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, errFactory.WithData(errors.ErrGatewayUnavailable, struct {
			Status int
			Device string
		}{
			Status: resp.StatusCode,
			Device: device,
		})
	}

	var body availabilityResponse
	dec := json.NewDecoder(io.LimitReader(resp.Body, maxAvailabilityResponseBytes))
	if err := dec.Decode(&body); err != nil {
		return nil, errFactory.Wrap(errors.ErrGatewayUnavailable, err)
	}

	for _, w := range body.Windows {
		if w.End.Before(w.Start) {
			return nil, errFactory.WithMessage(errors.ErrGatewayUnavailable, "scheduling service returned an inverted window")
		}
	}

	log.Debug().
		Str("device", device).
		Int("windows", len(body.Windows)).
		Msg("Planned availability fetched")

	return body.Windows, nil
}
