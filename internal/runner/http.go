package runner

import (
	"net/http"
	"time"
)

const defaultHTTPTimeout = 30 * time.Second

// NewHTTPClient создаёт HTTP-клиент для rest-задач.
//
// Таймаут клиента — страховка на случай задач без собственного
// дедлайна; per-task таймауты приходят через context.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return &http.Client{Timeout: timeout}
}
