package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRegistry_Observe(t *testing.T) {
	r := NewRegistry()

	r.ObserveTask("new-member-mail", nil)
	r.ObserveTask("new-member-mail", errors.New("smtp down"))
	r.ObserveTask("new-member-mail", nil)
	r.ObserveSheetOp("append", nil)
	r.ObserveEmail(errors.New("refused"))
	r.ObserveHTTP("/self-serve/join", 200, 120*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.TasksProcessed.WithLabelValues("new-member-mail", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.TasksProcessed.WithLabelValues("new-member-mail", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.SheetOps.WithLabelValues("append", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.EmailsSent.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.HTTPRequests.WithLabelValues("/self-serve/join", "200")))
}

func TestRegistry_NilSafe(t *testing.T) {
	var r *Registry
	assert.NotPanics(t, func() {
		r.ObserveTask("x", nil)
		r.ObserveEmail(nil)
		r.ObserveSheetOp("get", nil)
		r.ObserveHTTP("/", 200, time.Second)
		r.ObserveEnqueue("x")
		r.ObserveExternal("mailchimp", nil)
	})
}

func TestRegistry_Handler(t *testing.T) {
	r := NewRegistry()
	r.ObserveEnqueue("member-sheet-cull")

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `membership_tasks_enqueued_total{task="member-sheet-cull"} 1`)
}
