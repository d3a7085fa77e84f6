package models

import (
	"context"
	"errors"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/assets_backend/config"
	"bitbucket.org/mmdatafocus/assets_backend/metrics"
	"bitbucket.org/mmdatafocus/assets_backend/utils"
	"github.com/bsm/redislock"
	mysqlDriver "github.com/go-sql-driver/mysql"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

const countingModule = "counting"

// CountingService owns plans, periods and count records. Cross-entity
// recomputes are plain ordered calls on the same transaction.
type CountingService struct {
	db       *gorm.DB
	assets   AssetSource
	logger   *logrus.Logger
	locker   *redislock.Client
	metrics  *metrics.Counting
	calendar config.CountingCalendar
	tracer   trace.Tracer
	now      func() time.Time
}

type CountingOption func(*CountingService)

func WithLogger(logger *logrus.Logger) CountingOption {
	return func(s *CountingService) { s.logger = logger }
}

// WithLocker adds a redis lock around confirmation and finalization on top of the row lock.
func WithLocker(locker *redislock.Client) CountingOption {
	return func(s *CountingService) { s.locker = locker }
}

func WithMetrics(m *metrics.Counting) CountingOption {
	return func(s *CountingService) { s.metrics = m }
}

func WithCalendar(cal config.CountingCalendar) CountingOption {
	return func(s *CountingService) { s.calendar = cal }
}

func WithTracer(tracer trace.Tracer) CountingOption {
	return func(s *CountingService) { s.tracer = tracer }
}

func WithClock(now func() time.Time) CountingOption {
	return func(s *CountingService) { s.now = now }
}

func NewCountingService(db *gorm.DB, assets AssetSource, opts ...CountingOption) *CountingService {
	s := &CountingService{
		db:       db,
		assets:   assets,
		logger:   config.GetLogger(),
		calendar: config.GetCountingCalendar(),
		tracer:   otel.Tracer("assets-counting"),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// inTx runs fn in a traced transaction bound to ctx and reports rejected operations.
func (s *CountingService) inTx(ctx context.Context, op string, fn func(tx *gorm.DB) error) error {
	ctx, span := s.tracer.Start(ctx, "counting."+op, trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()

	err := s.db.WithContext(ctx).Transaction(fn)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, utils.ErrorReason(err))
		s.reject(op, err)
	}
	return err
}

func (s *CountingService) reject(op string, err error) {
	s.metrics.Rejected(op, utils.ErrorReason(err))
	if appErr, ok := utils.AsAppError(err); ok && appErr.Kind != utils.ErrorKindInvariant {
		s.logger.WithFields(logrus.Fields{
			"module":   countingModule,
			"funcName": op,
			"reason":   appErr.Reason,
		}).Info(appErr.Message)
		return
	}
	config.LogError(s.logger, countingModule, op, "counting operation failed", err, nil)
}

// actorFromContext returns the acting user id and display name.
func actorFromContext(ctx context.Context) (int, string, error) {
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId == 0 {
		return 0, "", utils.ValidationError(ReasonActorRequired, "user id is required")
	}
	userName, _ := utils.GetUserNameFromContext(ctx)
	return userId, userName, nil
}

// isDuplicateKeyError covers gorm's translated error plus drivers that do not translate.
func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
