package reports

import (
	"context"
	"os"
	"strconv"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/assets_backend/utils"
	"github.com/sirupsen/logrus"
)

func reportSlowMs() int64 {
	// Env: REPORT_SLOW_MS (default 500ms)
	ms := int64(500)
	if v := strings.TrimSpace(os.Getenv("REPORT_SLOW_MS")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			ms = n
		}
	}
	return ms
}

// LogSlowReport warns when building a report took longer than REPORT_SLOW_MS.
func LogSlowReport(ctx context.Context, logger *logrus.Logger, name string, started time.Time, extra logrus.Fields) {
	d := time.Since(started)
	if logger == nil || d.Milliseconds() < reportSlowMs() {
		return
	}
	cid, _ := utils.GetCorrelationIdFromContext(ctx)
	userId, _ := utils.GetUserIdFromContext(ctx)
	logger.WithFields(extra).WithFields(logrus.Fields{
		"report":         name,
		"ms":             d.Milliseconds(),
		"user_id":        userId,
		"correlation_id": cid,
	}).Warn("slow report")
}
