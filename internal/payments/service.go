package payments

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/angelmondragon/apmatch-backend/internal/gateway"
	"github.com/angelmondragon/apmatch-backend/internal/invoices"
	pkgdb "github.com/angelmondragon/apmatch-backend/pkg/db"
	"github.com/angelmondragon/apmatch-backend/pkg/db/models"
	"github.com/angelmondragon/apmatch-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/apmatch-backend/pkg/errors"
	"github.com/angelmondragon/apmatch-backend/pkg/logger"
	"github.com/angelmondragon/apmatch-backend/pkg/metrics"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// paymentNamespace seeds the name-based payment ids.
var paymentNamespace = uuid.MustParse("5b0c7c53-8a0e-4f5e-9d0e-6a1f5f2f7a11")

const reasonCanceledByOperator = "canceled_by_operator"

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service is the only entry point that moves money-bearing records.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*CreateResult, error)
	Confirm(ctx context.Context, paymentIntentID string) (*ConfirmResult, error)
	Cancel(ctx context.Context, paymentIntentID string) (*ConfirmResult, error)
	ListStale(ctx context.Context, olderThan time.Duration, limit int) ([]models.Payment, error)
}

type ServiceParams struct {
	Invoices invoices.Repository
	Payments Repository
	Gateway  gateway.Gateway
	Tx       txRunner
	Logger   *logger.Logger
	Metrics  *metrics.PaymentMetrics
}

type service struct {
	invoices invoices.Repository
	payments Repository
	gateway  gateway.Gateway
	tx       txRunner
	logg     *logger.Logger
	metrics  *metrics.PaymentMetrics
	now      func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.Invoices == nil {
		return nil, fmt.Errorf("invoices repository required")
	}
	if params.Payments == nil {
		return nil, fmt.Errorf("payments repository required")
	}
	if params.Gateway == nil {
		return nil, pkgerrors.New(pkgerrors.CodeConfiguration, "payment gateway required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		invoices: params.Invoices,
		payments: params.Payments,
		gateway:  params.Gateway,
		tx:       params.Tx,
		logg:     params.Logger,
		metrics:  params.Metrics,
		now:      time.Now,
	}, nil
}

// Create reserves the invoices and opens a payment intent for their combined
// total. Everything happens in one transaction: if the processor call fails
// the reservation is rolled back and the caller may retry with the same input.
func (s *service) Create(ctx context.Context, input CreateInput) (*CreateResult, error) {
	ids, err := normalizeInvoiceIDs(input.InvoiceIDs)
	if err != nil {
		return nil, err
	}
	email := strings.TrimSpace(input.Customer.Email)
	if email == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer email is required")
	}
	requested := enums.NormalizeCurrency(input.Currency)
	if requested != "" && !requested.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid currency")
	}

	var result *CreateResult
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		invoiceRepo := s.invoices.WithTx(tx)
		paymentRepo := s.payments.WithTx(tx)

		rows, err := invoiceRepo.LockByIDs(ctx, ids)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lock invoices")
		}
		if err := checkPayable(ids, rows); err != nil {
			return err
		}

		total, currency, err := settle(rows, requested)
		if err != nil {
			return err
		}
		minor, err := gateway.MinorUnits(total, currency.Lower())
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "payment amount not representable")
		}

		key := gateway.IdempotencyKey(ids, email, total, currency.Lower())
		failed, err := paymentRepo.CountByIdempotencyKey(ctx, key, enums.PaymentStatusFailed)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "count earlier attempts")
		}
		attemptKey := gateway.AttemptKey(key, failed)

		payment := &models.Payment{
			ID:             uuid.NewSHA1(paymentNamespace, []byte(attemptKey)),
			Amount:         total,
			Currency:       currency.String(),
			CustomerEmail:  email,
			CustomerName:   optional(strings.TrimSpace(input.Customer.Name)),
			IdempotencyKey: key,
			Status:         enums.PaymentStatusRequiresConfirmation,
			SaveMethod:     input.SaveMethod,
			Links:          buildLinks(rows),
		}
		if err := checkLinkSum(payment); err != nil {
			return err
		}
		if err := paymentRepo.Create(ctx, payment); err != nil {
			if pkgdb.IsUniqueViolation(err) {
				return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "payment already in progress for these invoices")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "insert payment")
		}

		reserved, err := invoiceRepo.UpdateStatuses(ctx, ids, enums.PayableInvoiceStatuses, enums.InvoiceStatusPaymentPending)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reserve invoices")
		}
		if reserved != int64(len(ids)) {
			return pkgerrors.New(pkgerrors.CodeConflict, "invoices changed while reserving")
		}

		intent, err := s.gateway.CreateIntent(ctx, gateway.IntentRequest{
			AmountMinor: minor,
			Currency:    currency.Lower(),
			Metadata: map[string]string{
				gateway.MetadataInvoiceIDs:    joinIDs(ids),
				gateway.MetadataPaymentID:     payment.ID.String(),
				gateway.MetadataCustomerEmail: email,
			},
			IdempotencyKey: attemptKey,
			ReceiptEmail:   email,
			SaveMethod:     input.SaveMethod,
		})
		if err != nil {
			return asDependency(err, "create payment intent")
		}
		if err := paymentRepo.SetIntentID(ctx, payment.ID, intent.ID); err != nil {
			if pkgdb.IsUniqueViolation(err) {
				return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "payment intent already recorded")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "store payment intent id")
		}

		result = &CreateResult{
			PaymentID:       payment.ID,
			ClientSecret:    intent.ClientSecret,
			PaymentIntentID: intent.ID,
			Amount:          total,
			Currency:        currency.Lower(),
			InvoiceIDs:      ids,
		}
		return nil
	})
	if err != nil {
		s.observeFailure(ctx, err, "payment create failed")
		return nil, err
	}

	s.metrics.Observe(metrics.PaymentCreated, len(result.InvoiceIDs))
	ctx = s.logg.WithFields(ctx, map[string]any{
		"payment_id":        result.PaymentID.String(),
		"payment_intent_id": result.PaymentIntentID,
		"invoice_count":     len(result.InvoiceIDs),
	})
	s.logg.Info(ctx, "payment intent created")
	return result, nil
}

// Confirm reads the intent from the processor and applies its outcome.
// Confirming a payment that already reached a terminal state changes nothing.
func (s *service) Confirm(ctx context.Context, paymentIntentID string) (*ConfirmResult, error) {
	intentID := strings.TrimSpace(paymentIntentID)
	if intentID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment intent id is required")
	}
	ctx = s.logg.WithPaymentIntentID(ctx, intentID)

	intent, err := s.gateway.RetrieveIntent(ctx, intentID)
	if err != nil {
		err = asDependency(err, "retrieve payment intent")
		s.observeFailure(ctx, err, "payment confirm failed")
		return nil, err
	}

	var result *ConfirmResult
	transition := ""
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		payment, err := s.lockPayment(ctx, tx, intentID)
		if err != nil {
			return err
		}
		result = newConfirmResult(payment, intent.Status)
		if payment.Status.IsTerminal() {
			if payment.Status == enums.PaymentStatusFailed && intent.Status == gateway.IntentStatusSucceeded {
				result.CollectedAfterRelease = true
			}
			return nil
		}

		switch {
		case intent.Status == gateway.IntentStatusSucceeded:
			if err := s.markSucceeded(ctx, tx, payment); err != nil {
				return err
			}
			result.PaymentStatus = enums.PaymentStatusSucceeded
			result.Changed = true
			transition = metrics.PaymentSucceeded
		case intent.Status.Failed():
			if err := s.revert(ctx, tx, payment, string(intent.Status)); err != nil {
				return err
			}
			result.PaymentStatus = enums.PaymentStatusFailed
			result.Changed = true
			transition = metrics.PaymentFailed
		}
		return nil
	})
	if err != nil {
		s.observeFailure(ctx, err, "payment confirm failed")
		return nil, err
	}

	if result.CollectedAfterRelease {
		s.metrics.Observe(metrics.PaymentCollectedAfterRelease, len(result.InvoiceIDs))
		s.logg.Error(ctx, "intent succeeded after the payment released its invoices",
			pkgerrors.Newf(pkgerrors.CodeStateConflict, "payment %s is failed but intent %s succeeded", result.PaymentID, intentID))
	}
	if transition != "" {
		s.metrics.Observe(transition, len(result.InvoiceIDs))
		s.logg.Info(s.logg.WithField(ctx, "status", string(intent.Status)), "payment confirmed")
	}
	return result, nil
}

// Cancel releases the invoices of a payment that has not succeeded, without
// consulting the processor.
func (s *service) Cancel(ctx context.Context, paymentIntentID string) (*ConfirmResult, error) {
	intentID := strings.TrimSpace(paymentIntentID)
	if intentID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment intent id is required")
	}
	ctx = s.logg.WithPaymentIntentID(ctx, intentID)

	var result *ConfirmResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		payment, err := s.lockPayment(ctx, tx, intentID)
		if err != nil {
			return err
		}
		result = newConfirmResult(payment, gateway.IntentStatusCanceled)
		if payment.Status == enums.PaymentStatusFailed {
			return nil
		}
		if !payment.Status.CanBecome(enums.PaymentStatusFailed) {
			return pkgerrors.Newf(pkgerrors.CodeStateConflict, "payment already %s", payment.Status)
		}

		if err := s.revert(ctx, tx, payment, reasonCanceledByOperator); err != nil {
			return err
		}
		result.PaymentStatus = enums.PaymentStatusFailed
		result.Changed = true
		return nil
	})
	if err != nil {
		s.observeFailure(ctx, err, "payment cancel failed")
		return nil, err
	}

	if result.Changed {
		s.metrics.Observe(metrics.PaymentCanceled, len(result.InvoiceIDs))
		s.logg.Info(ctx, "payment canceled")
	}
	return result, nil
}

func (s *service) ListStale(ctx context.Context, olderThan time.Duration, limit int) ([]models.Payment, error) {
	cutoff := s.now().UTC().Add(-olderThan)
	rows, err := s.payments.ListStale(ctx, cutoff, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list stale payments")
	}
	return rows, nil
}

func (s *service) lockPayment(ctx context.Context, tx *gorm.DB, intentID string) (*models.Payment, error) {
	payment, err := s.payments.WithTx(tx).LockByIntentID(ctx, intentID)
	if pkgdb.IsLockTimeout(err) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "payment is being settled by another request")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lock payment")
	}
	if payment == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown payment intent")
	}
	return payment, nil
}

func (s *service) markSucceeded(ctx context.Context, tx *gorm.DB, payment *models.Payment) error {
	invoiceRepo := s.invoices.WithTx(tx)
	ids := sortedIDs(payment.InvoiceIDs())
	if _, err := invoiceRepo.LockByIDs(ctx, ids); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lock invoices")
	}
	pending := []enums.InvoiceStatus{enums.InvoiceStatusPaymentPending}
	if _, err := invoiceRepo.UpdateStatuses(ctx, ids, pending, enums.InvoiceStatusPaid); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark invoices paid")
	}
	return s.finish(ctx, tx, payment, enums.PaymentStatusSucceeded, nil)
}

// revert puts every linked invoice back to the status it had before the
// payment reserved it.
func (s *service) revert(ctx context.Context, tx *gorm.DB, payment *models.Payment, reason string) error {
	invoiceRepo := s.invoices.WithTx(tx)
	if _, err := invoiceRepo.LockByIDs(ctx, sortedIDs(payment.InvoiceIDs())); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lock invoices")
	}
	pending := []enums.InvoiceStatus{enums.InvoiceStatusPaymentPending}
	for _, link := range payment.Links {
		if !link.PreviousStatus.IsPayable() {
			return pkgerrors.New(pkgerrors.CodeInternal, "payment link has an invalid previous status")
		}
		if _, err := invoiceRepo.UpdateStatus(ctx, link.InvoiceID, pending, link.PreviousStatus); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "revert invoice")
		}
	}
	return s.finish(ctx, tx, payment, enums.PaymentStatusFailed, &reason)
}

func (s *service) finish(ctx context.Context, tx *gorm.DB, payment *models.Payment, to enums.PaymentStatus, reason *string) error {
	ok, err := s.payments.WithTx(tx).UpdateStatus(ctx, payment.ID, enums.PaymentStatusRequiresConfirmation, to, reason)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update payment status")
	}
	if !ok {
		return pkgerrors.New(pkgerrors.CodeConflict, "payment changed while updating")
	}
	return nil
}

func (s *service) observeFailure(ctx context.Context, err error, msg string) {
	switch {
	case pkgerrors.IsCode(err, pkgerrors.CodeConflict):
		s.metrics.Observe(metrics.PaymentConflict, 0)
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), msg)
	case pkgerrors.IsCode(err, pkgerrors.CodeDependency):
		s.metrics.Observe(metrics.PaymentGatewayFail, 0)
		s.logg.Error(ctx, msg, err)
	case pkgerrors.IsCode(err, pkgerrors.CodeInternal):
		s.logg.Error(ctx, msg, err)
	}
}

func newConfirmResult(payment *models.Payment, status gateway.IntentStatus) *ConfirmResult {
	intentID := ""
	if payment.PaymentIntentID != nil {
		intentID = *payment.PaymentIntentID
	}
	return &ConfirmResult{
		PaymentID:       payment.ID,
		PaymentIntentID: intentID,
		IntentStatus:    status,
		PaymentStatus:   payment.Status,
		InvoiceIDs:      payment.InvoiceIDs(),
	}
}

func normalizeInvoiceIDs(raw []uuid.UUID) ([]uuid.UUID, error) {
	if len(raw) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invoice ids are required")
	}
	seen := make(map[uuid.UUID]struct{}, len(raw))
	for _, id := range raw {
		if id == uuid.Nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "invoice ids must not be empty")
		}
		if _, ok := seen[id]; ok {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "invoice ids must be unique").
				WithDetails(map[string]any{"invoice_id": id.String()})
		}
		seen[id] = struct{}{}
	}
	return sortedIDs(raw), nil
}

// checkPayable runs after the rows are locked. Already reserved or paid
// invoices are reported as a conflict ahead of any other problem.
func checkPayable(ids []uuid.UUID, rows []models.Invoice) error {
	if len(rows) != len(ids) {
		found := make(map[uuid.UUID]struct{}, len(rows))
		for _, row := range rows {
			found[row.ID] = struct{}{}
		}
		missing := make([]string, 0, len(ids)-len(rows))
		for _, id := range ids {
			if _, ok := found[id]; !ok {
				missing = append(missing, id.String())
			}
		}
		return pkgerrors.New(pkgerrors.CodeValidation, "some invoices not found").
			WithDetails(map[string]any{"missing": missing})
	}

	var held []string
	for _, row := range rows {
		if row.Status == enums.InvoiceStatusPaid || row.Status == enums.InvoiceStatusPaymentPending {
			held = append(held, row.ID.String())
		}
	}
	if len(held) > 0 {
		return pkgerrors.New(pkgerrors.CodeConflict, "one or more invoices are already paid or pending").
			WithDetails(map[string]any{"invoice_ids": held})
	}

	for _, row := range rows {
		if !row.Status.IsPayable() {
			return pkgerrors.New(pkgerrors.CodeValidation, "one or more invoices are not eligible for payment").
				WithDetails(map[string]any{"invoice_id": row.ID.String(), "status": row.Status})
		}
		if !row.TotalAmount.Valid {
			return pkgerrors.New(pkgerrors.CodeValidation, "invoice missing total amount").
				WithDetails(map[string]any{"invoice_id": row.ID.String()})
		}
	}
	return nil
}

// settle sums the invoice totals and picks the single settlement currency.
func settle(rows []models.Invoice, requested enums.Currency) (decimal.Decimal, enums.Currency, error) {
	total := decimal.Zero
	currencies := map[enums.Currency]struct{}{}
	for _, row := range rows {
		total = total.Add(row.TotalAmount.Decimal)
		if row.Currency != nil {
			if c := enums.NormalizeCurrency(*row.Currency); c != "" {
				currencies[c] = struct{}{}
			}
		}
	}
	if requested != "" {
		currencies[requested] = struct{}{}
	}
	if len(currencies) > 1 {
		seen := make([]string, 0, len(currencies))
		for c := range currencies {
			seen = append(seen, c.String())
		}
		sort.Strings(seen)
		return decimal.Zero, "", pkgerrors.New(pkgerrors.CodeValidation, "mixed currency selection is not allowed").
			WithDetails(map[string]any{"currencies": seen})
	}
	if !total.IsPositive() {
		return decimal.Zero, "", pkgerrors.New(pkgerrors.CodeValidation, "payment amount must be positive")
	}

	currency := enums.DefaultCurrency
	for c := range currencies {
		currency = c
	}
	if !currency.IsValid() {
		return decimal.Zero, "", pkgerrors.New(pkgerrors.CodeValidation, "invalid currency").
			WithDetails(map[string]any{"currency": currency.String()})
	}
	return total, currency, nil
}

func buildLinks(rows []models.Invoice) []models.PaymentInvoice {
	links := make([]models.PaymentInvoice, 0, len(rows))
	for _, row := range rows {
		links = append(links, models.PaymentInvoice{
			InvoiceID:      row.ID,
			AmountApplied:  row.TotalAmount.Decimal,
			PreviousStatus: row.Status,
		})
	}
	return links
}

func checkLinkSum(payment *models.Payment) error {
	sum := decimal.Zero
	for _, link := range payment.Links {
		sum = sum.Add(link.AmountApplied)
	}
	if !sum.Equal(payment.Amount) {
		return pkgerrors.New(pkgerrors.CodeInternal, "payment links do not add up to the payment amount")
	}
	return nil
}

func asDependency(err error, message string) error {
	if pkgerrors.As(err) != nil {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, message)
}

func sortedIDs(ids []uuid.UUID) []uuid.UUID {
	out := append([]uuid.UUID(nil), ids...)
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

func joinIDs(ids []uuid.UUID) string {
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, id.String())
	}
	return strings.Join(parts, ",")
}

func optional(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
