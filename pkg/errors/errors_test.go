package errors

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		kind  Kind
		class Class
	}{
		{"deadline", context.DeadlineExceeded, KindTransientNetwork, ClassTransient},
		{"cancelled", context.Canceled, KindCancelled, ClassPermanent},
		{"unexpected eof", fmt.Errorf("read body: %w", io.ErrUnexpectedEOF), KindTransientNetwork, ClassTransient},
		{"reset", fmt.Errorf("read: %w", syscall.ECONNRESET), KindTransientNetwork, ClassTransient},
		{"refused", syscall.ECONNREFUSED, KindTransientNetwork, ClassTransient},
		{"other", fmt.Errorf("boom"), KindPermanentClient, ClassPermanent},
		{"typed passes through", Anomaly("pager", "repeat"), KindPaginationAnomaly, ClassPermanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := Classify("op", tt.err)
			assert.Equal(t, tt.kind, e.Kind)
			assert.Equal(t, tt.class, e.Class())
			assert.Equal(t, tt.class, ClassOf(tt.err))
		})
	}
}

func TestFromResponse(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	resp := &http.Response{StatusCode: 503, Header: http.Header{}}
	e := FromResponse("fetch", resp, now)
	assert.Equal(t, KindTransientNetwork, e.Kind)
	assert.Equal(t, 503, e.StatusCode)

	resp = &http.Response{StatusCode: 404, Header: http.Header{}}
	e = FromResponse("fetch", resp, now)
	assert.Equal(t, KindPermanentClient, e.Kind)
	assert.Equal(t, ClassPermanent, e.Class())

	resp = &http.Response{StatusCode: 429, Header: http.Header{"Retry-After": []string{"7"}}}
	e = FromResponse("fetch", resp, now)
	assert.Equal(t, ClassTransient, e.Class())
	d, ok := RetryAfterOf(fmt.Errorf("wrapped: %w", e))
	assert.True(t, ok)
	assert.Equal(t, 7*time.Second, d)
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, time.Duration(0), ParseRetryAfter("", now))
	assert.Equal(t, 3*time.Second, ParseRetryAfter("3", now))
	assert.Equal(t, time.Duration(0), ParseRetryAfter("-1", now))
	assert.Equal(t, 30*time.Second, ParseRetryAfter(now.Add(30*time.Second).Format(http.TimeFormat), now))
	assert.Equal(t, time.Duration(0), ParseRetryAfter(now.Add(-time.Minute).Format(http.TimeFormat), now))
	assert.Equal(t, time.Duration(0), ParseRetryAfter("soon", now))
}

func TestIsRetryableStatusCode(t *testing.T) {
	for _, code := range []int{0, 408, 429, 500, 502, 503, 504} {
		assert.True(t, IsRetryableStatusCode(code), "code %d", code)
	}
	for _, code := range []int{400, 401, 403, 404, 410} {
		assert.False(t, IsRetryableStatusCode(code), "code %d", code)
	}
}

func TestIsCancelled(t *testing.T) {
	assert.True(t, IsCancelled(context.Canceled))
	assert.True(t, IsCancelled(Cancelled("download", nil)))
	assert.False(t, IsCancelled(Transient("download", "timeout", nil)))
	assert.False(t, IsCancelled(nil))
}

func TestErrorString(t *testing.T) {
	e := &Error{Kind: KindPermanentClient, Op: "download", StatusCode: 404, Message: "Not Found"}
	assert.Equal(t, "download: permanent_client error (status 404): Not Found", e.Error())

	e = Filesystem("rename", io.ErrClosedPipe)
	assert.Contains(t, e.Error(), "rename: filesystem error")
	assert.ErrorIs(t, e, io.ErrClosedPipe)
}
