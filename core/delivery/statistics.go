package delivery

import (
	"context"
	"fmt"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/kilianp07/lastmile/core/model"
)

// Period is a calendar unit for driver statistics.
type Period string

const (
	PeriodDay   Period = "day"
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
	PeriodYear  Period = "year"
)

// ParsePeriod converts s into a Period. An empty string means day.
func ParsePeriod(s string) (Period, error) {
	switch Period(s) {
	case "":
		return PeriodDay, nil
	case PeriodDay, PeriodWeek, PeriodMonth, PeriodYear:
		return Period(s), nil
	default:
		return "", fmt.Errorf("%w: unknown period %q", ErrValidation, s)
	}
}

// PeriodStart returns the start of the calendar period containing now, in
// UTC. Weeks start on Monday.
func PeriodStart(p Period, now time.Time) (time.Time, error) {
	now = now.UTC()
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	switch p {
	case PeriodDay:
		return day, nil
	case PeriodWeek:
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset), nil
	case PeriodMonth:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC), nil
	case PeriodYear:
		return time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, time.UTC), nil
	default:
		return time.Time{}, fmt.Errorf("%w: unknown period %q", ErrValidation, p)
	}
}

// Statistics aggregates a driver's finished deliveries over a period.
type Statistics struct {
	DriverID        string    `json:"driverId"`
	Period          Period    `json:"period"`
	Since           time.Time `json:"since"`
	Delivered       int       `json:"delivered"`
	Failed          int       `json:"failed"`
	Cancelled       int       `json:"cancelled"`
	TotalEarnings   float64   `json:"totalEarnings"`
	AverageEarnings float64   `json:"averageEarnings"`
}

// DriverStatistics counts the driver's deliveries that reached a terminal
// state since the start of the current period. Earnings are the costs of
// delivered ones.
func (s *Service) DriverStatistics(ctx context.Context, driverID string, p Period) (Statistics, error) {
	since, err := PeriodStart(p, s.clock())
	if err != nil {
		return Statistics{}, err
	}
	// A terminal transition stamps UpdatedAt, so UpdatedSince never drops a
	// delivery that finished inside the period.
	ds, err := s.store.List(ctx, Query{
		DriverID:     driverID,
		Statuses:     []model.Status{model.StatusDelivered, model.StatusFailedDelivery, model.StatusCancelled},
		UpdatedSince: since,
	})
	if err != nil {
		return Statistics{}, fmt.Errorf("statistics of driver %s: %w", driverID, err)
	}
	st := Statistics{DriverID: driverID, Period: p, Since: since}
	var earnings []float64
	for _, d := range ds {
		at := d.TerminalAt()
		if at == nil || at.Before(since) {
			continue
		}
		switch d.Status {
		case model.StatusDelivered:
			st.Delivered++
			earnings = append(earnings, d.DeliveryCost)
		case model.StatusFailedDelivery:
			st.Failed++
		case model.StatusCancelled:
			st.Cancelled++
		}
	}
	if len(earnings) > 0 {
		st.TotalEarnings = floats.Sum(earnings)
		st.AverageEarnings = stat.Mean(earnings, nil)
	}
	return st, nil
}
