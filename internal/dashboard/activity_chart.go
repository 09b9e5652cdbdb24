// Package dashboard serves the desk's activity chart: loans opened and
// fines collected per day, week or month.
package dashboard

import (
	"context"
	"fmt"
	"sort"
	"time"

	"labdesk-backend/internal/apperr"
	"labdesk-backend/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Period string

const (
	PeriodDaily   Period = "daily"
	PeriodWeekly  Period = "weekly"
	PeriodMonthly Period = "monthly"
)

type ChartPoint struct {
	Label     string          `json:"label"` // bucket start date
	Loans     int             `json:"loans"`
	Returns   int             `json:"returns"`
	LateFines decimal.Decimal `json:"late_fines"`
	LostFines decimal.Decimal `json:"lost_fines"`
	Fines     decimal.Decimal `json:"fines"`
}

type GrandTotals struct {
	Loans     int             `json:"loans"`
	Returns   int             `json:"returns"`
	LateFines decimal.Decimal `json:"late_fines"`
	LostFines decimal.Decimal `json:"lost_fines"`
	Fines     decimal.Decimal `json:"fines"`
}

type ChartResponse struct {
	Period      Period       `json:"period"`
	From        string       `json:"from"`
	To          string       `json:"to"`
	Currency    string       `json:"currency,omitempty"`
	Points      []ChartPoint `json:"points"`
	GrandTotals GrandTotals  `json:"grand_totals"`
}

// Window returns the first bucket start and the exclusive end for count
// buckets of the period ending with the bucket that contains now.
func Window(period Period, count int, now time.Time) (start, end time.Time) {
	loc := now.Location()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)

	switch period {
	case PeriodWeekly:
		end = bucketStart(PeriodWeekly, today).AddDate(0, 0, 7)
		start = end.AddDate(0, 0, -7*count)
	case PeriodMonthly:
		end = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, loc).AddDate(0, 1, 0)
		start = end.AddDate(0, -count, 0)
	default:
		end = today.AddDate(0, 0, 1)
		start = end.AddDate(0, 0, -count)
	}
	return start, end
}

// bucketStart truncates t to its day, its Monday or the first of its month.
func bucketStart(period Period, t time.Time) time.Time {
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	switch period {
	case PeriodWeekly:
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	case PeriodMonthly:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	default:
		return day
	}
}

// BuildChart aggregates loans, returns and PAID fines inside the window.
// Fines in a currency other than currency are left out when currency is set.
func BuildChart(ctx context.Context, db *gorm.DB, period Period, count int, currency string, now time.Time) (*ChartResponse, error) {
	start, end := Window(period, count, now)
	loc := now.Location()

	var loans []models.Loan
	if err := db.WithContext(ctx).Select("id, created_at").
		Where("created_at >= ? AND created_at < ?", start, end).
		Find(&loans).Error; err != nil {
		return nil, apperr.Store(err)
	}

	var returns []models.LoanReturn
	if err := db.WithContext(ctx).Select("id, returned_at").
		Where("returned_at >= ? AND returned_at < ?", start, end).
		Find(&returns).Error; err != nil {
		return nil, apperr.Store(err)
	}

	q := db.WithContext(ctx).Select("id, reason, amount, currency, paid_at").
		Where("status = ? AND paid_at >= ? AND paid_at < ?", models.PaymentPaid, start, end)
	if currency != "" {
		q = q.Where("currency = ?", currency)
	}
	var fines []models.FinePayment
	if err := q.Find(&fines).Error; err != nil {
		return nil, apperr.Store(err)
	}

	buckets := make(map[time.Time]*ChartPoint)
	get := func(t time.Time) *ChartPoint {
		key := bucketStart(period, t.In(loc))
		p, ok := buckets[key]
		if !ok {
			p = &ChartPoint{Label: key.Format("2006-01-02")}
			buckets[key] = p
		}
		return p
	}

	for _, l := range loans {
		get(l.CreatedAt).Loans++
	}
	for _, r := range returns {
		get(r.ReturnedAt).Returns++
	}
	for _, f := range fines {
		if f.PaidAt == nil {
			continue
		}
		p := get(*f.PaidAt)
		switch f.Reason {
		case models.FineLate:
			p.LateFines = p.LateFines.Add(f.Amount)
		case models.FineLost:
			p.LostFines = p.LostFines.Add(f.Amount)
		}
	}

	keys := make([]time.Time, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Before(keys[j]) })

	resp := &ChartResponse{
		Period:   period,
		From:     start.Format("2006-01-02"),
		To:       end.AddDate(0, 0, -1).Format("2006-01-02"),
		Currency: currency,
		Points:   make([]ChartPoint, 0, len(keys)),
	}
	for _, k := range keys {
		p := buckets[k]
		p.Fines = p.LateFines.Add(p.LostFines)
		resp.Points = append(resp.Points, *p)

		resp.GrandTotals.Loans += p.Loans
		resp.GrandTotals.Returns += p.Returns
		resp.GrandTotals.LateFines = resp.GrandTotals.LateFines.Add(p.LateFines)
		resp.GrandTotals.LostFines = resp.GrandTotals.LostFines.Add(p.LostFines)
	}
	resp.GrandTotals.Fines = resp.GrandTotals.LateFines.Add(resp.GrandTotals.LostFines)

	return resp, nil
}

// GET /api/dashboard/activity?period=daily&count=7&currency=MXN
func ActivityChartHandler(db *gorm.DB, defaultCurrency string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		period := Period(c.Query("period", string(PeriodDaily)))

		var count int
		switch period {
		case PeriodWeekly:
			count = 8
		case PeriodMonthly:
			count = 12
		case PeriodDaily:
			count = 7
		default:
			return fiber.NewError(fiber.StatusBadRequest, "period must be daily, weekly or monthly")
		}
		if countStr := c.Query("count"); countStr != "" {
			if _, err := fmt.Sscan(countStr, &count); err != nil || count <= 0 || count > 366 {
				return fiber.NewError(fiber.StatusBadRequest, "Invalid count")
			}
		}

		resp, err := BuildChart(c.UserContext(), db, period, count, c.Query("currency", defaultCurrency), time.Now())
		if err != nil {
			return err
		}
		return c.JSON(resp)
	}
}
