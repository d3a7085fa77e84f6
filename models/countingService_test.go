package models

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"bitbucket.org/mmdatafocus/assets_backend/utils"
	mysqlDriver "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/trace/noop"
	"gorm.io/gorm"
)

func TestIsDuplicateKeyError(t *testing.T) {
	assert.False(t, isDuplicateKeyError(nil))
	assert.True(t, isDuplicateKeyError(gorm.ErrDuplicatedKey))
	assert.True(t, isDuplicateKeyError(fmt.Errorf("insert: %w", &mysqlDriver.MySQLError{Number: 1062, Message: "Duplicate entry '2025'"})))
	assert.False(t, isDuplicateKeyError(&mysqlDriver.MySQLError{Number: 1452}))
	assert.True(t, isDuplicateKeyError(errors.New("UNIQUE constraint failed: counting_plans.year")))
	assert.False(t, isDuplicateKeyError(errors.New("connection refused")))
}

func TestActorFromContext(t *testing.T) {
	_, _, err := actorFromContext(context.Background())
	requireReason(t, err, utils.ErrorKindValidation, ReasonActorRequired)

	id, name, err := actorFromContext(actor(9, "Min Min"))
	assert.NoError(t, err)
	assert.Equal(t, 9, id)
	assert.Equal(t, "Min Min", name)
}

func TestServiceWithTracer(t *testing.T) {
	f := newCountingFixture(t)
	service := NewCountingService(f.db, GormAssetSource{}, WithTracer(noop.NewTracerProvider().Tracer("test")))
	_, err := service.StartCountingPlan(context.Background(), 1)
	requireReason(t, err, utils.ErrorKindNotFound, "plan_not_found")
}
