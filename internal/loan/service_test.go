package loan

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"

	"labdesk-backend/internal/apperr"
	"labdesk-backend/internal/audit"
	"labdesk-backend/internal/events"
	"labdesk-backend/internal/inventory"
	"labdesk-backend/internal/metrics"
	"labdesk-backend/internal/models"
	"labdesk-backend/internal/testutil"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fixture struct {
	db      *gorm.DB
	svc     *Service
	events  *testutil.EventRecorder
	metrics *metrics.Metrics
	user    models.User
}

func setup(t *testing.T) *fixture {
	db := testutil.NewDB(t)
	rec := &testutil.EventRecorder{}
	m := metrics.New(prometheus.NewRegistry())
	return &fixture{
		db:      db,
		svc:     NewService(db, rec, m, testutil.Logger()),
		events:  rec,
		metrics: m,
		user:    testutil.SeedUser(t, db, "Ana"),
	}
}

func (f *fixture) loanStatus(t *testing.T, id uint) models.LoanStatus {
	var l models.Loan
	require.NoError(t, f.db.First(&l, id).Error)
	return l.Status
}

func TestLoanScenario(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	m := testutil.SeedMaterial(t, f.db, "Multimeter", 5)

	loan1, err := f.svc.CreateLoan(ctx, CreateLoanInput{UserID: f.user.ID, MaterialID: m.ID, Quantity: 3})
	require.NoError(t, err)
	assert.Equal(t, models.LoanActive, loan1.Status)
	assert.False(t, loan1.CreatedAt.IsZero())
	assert.Equal(t, 2, testutil.MaterialQuantity(t, f.db, m.ID))

	_, err = f.svc.CreateLoan(ctx, CreateLoanInput{UserID: f.user.ID, MaterialID: m.ID, Quantity: 3})
	assert.ErrorIs(t, err, inventory.ErrInsufficientStock)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	assert.Equal(t, 2, testutil.MaterialQuantity(t, f.db, m.ID))

	ret, err := f.svc.ReturnLoan(ctx, loan1.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, loan1.ID, ret.LoanID)
	assert.Equal(t, 5, testutil.MaterialQuantity(t, f.db, m.ID))
	assert.Equal(t, models.LoanReturned, f.loanStatus(t, loan1.ID))

	assert.Equal(t, []string{events.EventLoanCreated, events.EventLoanReturned}, f.events.Types())
	assert.Equal(t, 1.0, promtest.ToFloat64(f.metrics.LoansCreated))
	assert.Equal(t, 1.0, promtest.ToFloat64(f.metrics.LoansRejected.WithLabelValues("insufficient_stock")))
}

func TestCreateLoanRejectsNonPositiveQuantity(t *testing.T) {
	f := setup(t)
	m := testutil.SeedMaterial(t, f.db, "Oscilloscope", 100)

	for _, q := range []int{0, -1, -50} {
		_, err := f.svc.CreateLoan(context.Background(), CreateLoanInput{UserID: f.user.ID, MaterialID: m.ID, Quantity: q})
		assert.ErrorIs(t, err, ErrInvalidQuantity)
		assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	}
	assert.Equal(t, 100, testutil.MaterialQuantity(t, f.db, m.ID))

	var count int64
	f.db.Model(&models.Loan{}).Count(&count)
	assert.Zero(t, count)
}

func TestCreateLoanNotFound(t *testing.T) {
	f := setup(t)
	m := testutil.SeedMaterial(t, f.db, "Caliper", 2)

	_, err := f.svc.CreateLoan(context.Background(), CreateLoanInput{UserID: f.user.ID, MaterialID: 777, Quantity: 1})
	assert.ErrorIs(t, err, inventory.ErrMaterialNotFound)

	_, err = f.svc.CreateLoan(context.Background(), CreateLoanInput{UserID: 888, MaterialID: m.ID, Quantity: 1})
	assert.ErrorIs(t, err, ErrUserNotFound)
	assert.Equal(t, 2, testutil.MaterialQuantity(t, f.db, m.ID))
}

func TestReturnLoanTwice(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	m := testutil.SeedMaterial(t, f.db, "Thermometer", 4)

	loan, err := f.svc.CreateLoan(ctx, CreateLoanInput{UserID: f.user.ID, MaterialID: m.ID, Quantity: 2})
	require.NoError(t, err)

	notes := "  returned with scratches "
	ret, err := f.svc.ReturnLoan(ctx, loan.ID, &notes)
	require.NoError(t, err)
	require.NotNil(t, ret.Notes)
	assert.Equal(t, "returned with scratches", *ret.Notes)
	assert.Equal(t, 4, testutil.MaterialQuantity(t, f.db, m.ID))

	_, err = f.svc.ReturnLoan(ctx, loan.ID, nil)
	assert.ErrorIs(t, err, ErrAlreadyReturned)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	assert.Equal(t, 4, testutil.MaterialQuantity(t, f.db, m.ID))

	var returns int64
	f.db.Model(&models.LoanReturn{}).Where("loan_id = ?", loan.ID).Count(&returns)
	assert.Equal(t, int64(1), returns)
}

func TestReturnLoanNotFound(t *testing.T) {
	f := setup(t)

	_, err := f.svc.ReturnLoan(context.Background(), 404, nil)
	assert.ErrorIs(t, err, ErrLoanNotFound)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestReturnLoanIsAllOrNothing(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	m := testutil.SeedMaterial(t, f.db, "Centrifuge", 3)

	loan, err := f.svc.CreateLoan(ctx, CreateLoanInput{UserID: f.user.ID, MaterialID: m.ID, Quantity: 3})
	require.NoError(t, err)

	// Fail the last statement of the return transaction.
	failAudit := errors.New("audit table unavailable")
	require.NoError(t, f.db.Callback().Create().Before("gorm:create").Register("test:fail_audit", func(tx *gorm.DB) {
		if tx.Statement.Table == "audit_logs" {
			_ = tx.AddError(failAudit)
		}
	}))
	t.Cleanup(func() { _ = f.db.Callback().Create().Remove("test:fail_audit") })

	_, err = f.svc.ReturnLoan(ctx, loan.ID, nil)
	assert.ErrorIs(t, err, failAudit)

	assert.Equal(t, 0, testutil.MaterialQuantity(t, f.db, m.ID))
	assert.Equal(t, models.LoanActive, f.loanStatus(t, loan.ID))
	var returns int64
	f.db.Model(&models.LoanReturn{}).Count(&returns)
	assert.Zero(t, returns)
}

func TestConcurrentLoansDoNotOversell(t *testing.T) {
	f := setup(t)
	m := testutil.SeedMaterial(t, f.db, "Soldering iron", 10)

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.CreateLoan(context.Background(), CreateLoanInput{UserID: f.user.ID, MaterialID: m.ID, Quantity: 3})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, inventory.ErrInsufficientStock)
	}
	assert.Equal(t, 3, succeeded)
	assert.Equal(t, 1, testutil.MaterialQuantity(t, f.db, m.ID))
}

func TestRandomSequencesKeepStockConsistent(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	const initial = 7
	m := testutil.SeedMaterial(t, f.db, "Breadboard", initial)
	rng := rand.New(rand.NewSource(42))

	var active []*models.Loan
	lent := 0

	for step := 0; step < 200; step++ {
		if len(active) > 0 && rng.Intn(2) == 0 {
			i := rng.Intn(len(active))
			_, err := f.svc.ReturnLoan(ctx, active[i].ID, nil)
			require.NoError(t, err)
			lent -= active[i].Quantity
			active = append(active[:i], active[i+1:]...)
		} else {
			q := rng.Intn(5) - 1 // -1..3
			loan, err := f.svc.CreateLoan(ctx, CreateLoanInput{UserID: f.user.ID, MaterialID: m.ID, Quantity: q})
			switch {
			case q <= 0:
				require.ErrorIs(t, err, ErrInvalidQuantity)
			case q > initial-lent:
				require.ErrorIs(t, err, inventory.ErrInsufficientStock)
			default:
				require.NoError(t, err)
				active = append(active, loan)
				lent += q
			}
		}

		stock := testutil.MaterialQuantity(t, f.db, m.ID)
		require.GreaterOrEqual(t, stock, 0)
		require.LessOrEqual(t, stock, initial)
		require.Equal(t, initial, stock+lent)
	}
}

func TestListLoans(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	m := testutil.SeedMaterial(t, f.db, "Voltmeter", 5)

	l1, err := f.svc.CreateLoan(ctx, CreateLoanInput{UserID: f.user.ID, MaterialID: m.ID, Quantity: 1})
	require.NoError(t, err)
	_, err = f.svc.CreateLoan(ctx, CreateLoanInput{UserID: f.user.ID, MaterialID: m.ID, Quantity: 2})
	require.NoError(t, err)
	_, err = f.svc.ReturnLoan(ctx, l1.ID, nil)
	require.NoError(t, err)

	all, err := f.svc.ListLoans(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "Ana", all[0].UserName)
	assert.Equal(t, "Voltmeter", all[0].MaterialName)

	active, err := f.svc.ListLoans(ctx, models.LoanActive)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, 2, active[0].Quantity)
}

func TestAuditRecordsActor(t *testing.T) {
	f := setup(t)
	opID := uint(12)
	ctx := audit.WithActor(context.Background(), audit.Actor{OperatorID: &opID, Name: "Desk Clerk"})
	m := testutil.SeedMaterial(t, f.db, "Hot plate", 1)

	loan, err := f.svc.CreateLoan(ctx, CreateLoanInput{UserID: f.user.ID, MaterialID: m.ID, Quantity: 1})
	require.NoError(t, err)

	var entry models.AuditLog
	require.NoError(t, f.db.Where("entity_type = ? AND entity_id = ?", "loan", loan.ID).First(&entry).Error)
	assert.Equal(t, "Desk Clerk", entry.OperatorName)
	require.NotNil(t, entry.OperatorID)
	assert.Equal(t, opID, *entry.OperatorID)
	assert.Equal(t, models.AuditActionCreate, entry.Action)
}
