package utils

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/bsm/redislock"
	"github.com/sirupsen/logrus"
)

// returns slice removing duplicate elements
func UniqueSlice[T comparable](slice []T) []T {
	inResult := make(map[T]bool)
	var result []T
	for _, elm := range slice {
		if _, ok := inResult[elm]; !ok {
			// if not exists in map, append it, otherwise do nothing
			inResult[elm] = true
			result = append(result, elm)
		}
	}
	return result
}

// Contains reports whether value is in slice.
func Contains[T comparable](slice []T, value T) bool {
	for _, elem := range slice {
		if elem == value {
			return true
		}
	}
	return false
}

// RemoveInt returns a copy of slice without any occurrence of value.
func RemoveInt(slice []int, value int) []int {
	result := make([]int, 0, len(slice))
	for _, elem := range slice {
		if elem != value {
			result = append(result, elem)
		}
	}
	return result
}

// PercentOf returns round(part/whole*100), 0 when whole is 0.
func PercentOf(part, whole int) int {
	if whole <= 0 {
		return 0
	}
	return int(math.Round(float64(part) / float64(whole) * 100))
}

// ResourceLock obtains a redis lock on lockType:id. The returned release func is always safe to call.
// A nil locker means redis is not configured; callers then rely on database row locks only.
func ResourceLock(ctx context.Context, locker *redislock.Client, logger *logrus.Logger, lockType string, id int, moduleName string, functionName string) (func(), error) {
	noop := func() {}
	if locker == nil {
		return noop, nil
	}
	lockKey := fmt.Sprintf("%s:%d", lockType, id)
	lock, err := locker.Obtain(ctx, lockKey, 30*time.Second, nil)
	if err == redislock.ErrNotObtained {
		logger.WithFields(logrus.Fields{
			"module":   moduleName,
			"funcName": functionName,
			"lockKey":  lockKey,
		}).Warn("could not obtain lock")
		return noop, ConflictError("resource_locked", "%s %d is being processed by another request, try again", lockType, id)
	} else if err != nil {
		logger.WithFields(logrus.Fields{
			"module":   moduleName,
			"funcName": functionName,
			"lockKey":  lockKey,
		}).Error("error obtaining lock: " + err.Error())
		return noop, err
	}
	return func() {
		if releaseErr := lock.Release(ctx); releaseErr != nil && !errors.Is(releaseErr, redislock.ErrLockNotHeld) {
			logger.WithFields(logrus.Fields{
				"module":   moduleName,
				"funcName": functionName,
				"lockKey":  lockKey,
			}).Warn("failed to release lock: " + releaseErr.Error())
		}
	}, nil
}
