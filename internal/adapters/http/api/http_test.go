package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/keyprint/internal/adapters/http/api"
	service "github.com/okian/keyprint/internal/app"
	"github.com/okian/keyprint/internal/domain/baseline"
	"github.com/okian/keyprint/internal/domain/model"
	"github.com/okian/keyprint/internal/domain/types"
	"github.com/okian/keyprint/pkg/logger"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

func newMux(deps api.Dependencies, stats api.StatsProvider) *http.ServeMux {
	mux := http.NewServeMux()
	api.NewServer(deps, stats).Register(context.Background(), mux)
	return mux
}

func do(mux http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, http.NoBody)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func decode(w *httptest.ResponseRecorder) map[string]any {
	var out map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return out
}

// typingBatch renders n steady key presses as a JSON event array.
func typingBatch(n int) string {
	parts := make([]string, 0, 2*n)
	for i := 0; i < n; i++ {
		down := float64(i) * 200
		parts = append(parts,
			fmt.Sprintf(`{"type":"keydown","ts":%g,"key":"k"}`, down),
			fmt.Sprintf(`{"type":"keyup","ts":%g,"key":"k"}`, down+120),
		)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func TestSessionFlow(t *testing.T) {
	Convey("Given the API backed by a real service", t, func() {
		svc := service.New(service.WithWorkerCount(1))
		mux := newMux(svc, svc)

		start := func(identity, purpose string) string {
			w := do(mux, http.MethodPost, "/sessions", fmt.Sprintf(`{"identity":%q,"purpose":%q}`, identity, purpose))
			So(w.Code, ShouldEqual, http.StatusCreated)
			id, _ := decode(w)["session_id"].(string)
			So(id, ShouldNotBeEmpty)
			return id
		}

		Convey("A live session is captured and assessed", func() {
			id := start("alice", "live")

			w := do(mux, http.MethodPost, "/sessions/"+id+"/events",
				`{"batch_id":"b1","events":`+typingBatch(10)+`}`)
			So(w.Code, ShouldEqual, http.StatusAccepted)
			So(decode(w), ShouldResemble, map[string]any{
				"status": "accepted", "accepted": float64(20), "dropped": float64(0), "duplicate": false,
			})

			w = do(mux, http.MethodPost, "/sessions/"+id+"/events",
				`{"batch_id":"b1","events":`+typingBatch(10)+`}`)
			So(w.Code, ShouldEqual, http.StatusAccepted)
			So(decode(w)["status"], ShouldEqual, "duplicate")

			w = do(mux, http.MethodPost, "/sessions/"+id+"/assess", `{"device":{"vpn":true}}`)
			So(w.Code, ShouldEqual, http.StatusOK)
			body := decode(w)
			So(body["session_id"], ShouldEqual, id)
			So(body["baseline_used"], ShouldEqual, false)
			So(body["action"], ShouldBeIn, []any{"ALLOW", "SOFT_CHALLENGE", "HARD_CHALLENGE", "BLOCK"})
			So(body["warnings"], ShouldContain, types.WarningBaselineUnavailable)
			So(body["event_count"], ShouldEqual, float64(20))
			feats, ok := body["features"].(map[string]any)
			So(ok, ShouldBeTrue)
			So(feats["copy_paste"], ShouldEqual, false)
			So(feats["mouse_velocity_mean"], ShouldBeNil)

			w = do(mux, http.MethodPost, "/sessions/"+id+"/assess", "")
			So(w.Code, ShouldEqual, http.StatusNotFound)
			So(decode(w)["code"], ShouldEqual, "session_not_found")
		})

		Convey("Malformed events are counted, not rejected", func() {
			id := start("alice", "live")
			w := do(mux, http.MethodPost, "/sessions/"+id+"/events",
				`{"events":[{"type":"pointermove","ts":1},{"type":"teleport","ts":2},{"type":"paste","ts":3}]}`)
			So(w.Code, ShouldEqual, http.StatusAccepted)
			So(decode(w)["accepted"], ShouldEqual, float64(1))
			So(decode(w)["dropped"], ShouldEqual, float64(2))
		})

		Convey("Enrollment builds a baseline that can be read and deleted", func() {
			id := start("bob", "training")
			w := do(mux, http.MethodPost, "/sessions/"+id+"/events", `{"events":`+typingBatch(15)+`}`)
			So(w.Code, ShouldEqual, http.StatusAccepted)

			w = do(mux, http.MethodPost, "/sessions/"+id+"/enroll", `{"device":{"fingerprint":"fp-1","country":"DE"}}`)
			So(w.Code, ShouldEqual, http.StatusOK)
			So(decode(w)["created"], ShouldEqual, true)
			So(decode(w)["session_count"], ShouldEqual, float64(1))

			w = do(mux, http.MethodGet, "/baselines/bob", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(decode(w)["identity"], ShouldEqual, "bob")
			So(decode(w)["known_countries"], ShouldResemble, []any{"DE"})

			So(do(mux, http.MethodDelete, "/baselines/bob", "").Code, ShouldEqual, http.StatusNoContent)
			w = do(mux, http.MethodGet, "/baselines/bob", "")
			So(w.Code, ShouldEqual, http.StatusNotFound)
			So(decode(w)["code"], ShouldEqual, "baseline_not_found")
		})

		Convey("Purpose mismatches and empty enrollments are reported", func() {
			live := start("carol", "live")
			w := do(mux, http.MethodPost, "/sessions/"+live+"/enroll", "")
			So(w.Code, ShouldEqual, http.StatusConflict)

			training := start("carol", "training")
			w = do(mux, http.MethodPost, "/sessions/"+training+"/enroll", "")
			So(w.Code, ShouldEqual, http.StatusUnprocessableEntity)
			So(decode(w)["code"], ShouldEqual, "empty_session")
		})

		Convey("Bad requests are rejected with a JSON error", func() {
			w := do(mux, http.MethodPost, "/sessions", `{"identity":""}`)
			So(w.Code, ShouldEqual, http.StatusBadRequest)
			So(decode(w)["code"], ShouldEqual, "bad_request")

			w = do(mux, http.MethodPost, "/sessions", `{"identity":"x","purpose":"audit"}`)
			So(w.Code, ShouldEqual, http.StatusBadRequest)

			w = do(mux, http.MethodPost, "/sessions", `not json`)
			So(w.Code, ShouldEqual, http.StatusBadRequest)

			w = do(mux, http.MethodPost, "/sessions/unknown/events", `{"events":[]}`)
			So(w.Code, ShouldEqual, http.StatusNotFound)
		})

		Convey("Wrong methods are refused by the router", func() {
			So(do(mux, http.MethodGet, "/sessions", "").Code, ShouldEqual, http.StatusMethodNotAllowed)
		})

		Convey("Stats and metrics are served", func() {
			start("dave", "live")
			w := do(mux, http.MethodGet, "/stats", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(decode(w)["openSessions"], ShouldEqual, float64(1))
			So(w.Header().Get("Cache-Control"), ShouldEqual, "no-store")

			w = do(mux, http.MethodGet, "/stats?key=openSessions&key=nope", "")
			So(decode(w), ShouldResemble, map[string]any{"openSessions": float64(1)})

			w = do(mux, http.MethodGet, "/healthz", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, "keyprint_risk_http_requests_total")
			So(do(mux, http.MethodGet, "/metrics", "").Code, ShouldEqual, http.StatusOK)
		})
	})
}

type brokenDeps struct{ err error }

func (b brokenDeps) StartSession(context.Context, string, types.Purpose) (string, error) {
	return "", b.err
}

func (b brokenDeps) RecordEvents(context.Context, string, string, []model.Event) (service.RecordSummary, error) {
	return service.RecordSummary{}, b.err
}

func (b brokenDeps) Assess(context.Context, string, model.DeviceSignal) (service.AssessResult, error) {
	return service.AssessResult{}, b.err
}

func (b brokenDeps) Enroll(context.Context, string, model.DeviceSignal, bool) (service.EnrollResult, error) {
	return service.EnrollResult{}, b.err
}

func (b brokenDeps) Baseline(context.Context, string) (baseline.Baseline, error) {
	return baseline.Baseline{}, b.err
}

func (b brokenDeps) DeleteBaseline(context.Context, string) error { return b.err }

type staticStats map[string]interface{}

func (s staticStats) GetStats() map[string]interface{} { return s }

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{service.ErrTooManySessions, http.StatusTooManyRequests, "too_many_sessions"},
		{fmt.Errorf("%w: timeout", service.ErrBaselineStore), http.StatusServiceUnavailable, "baseline_store_unavailable"},
		{errors.New("boom"), http.StatusInternalServerError, "internal"},
	}

	Convey("Service errors map to status codes", t, func() {
		for _, c := range cases {
			mux := newMux(brokenDeps{err: c.err}, staticStats{})
			w := do(mux, http.MethodPost, "/sessions", `{"identity":"alice"}`)
			So(w.Code, ShouldEqual, c.status)
			So(decode(w)["code"], ShouldEqual, c.code)
		}
	})

	Convey("KindError unwraps to both its kind and cause", t, func() {
		cause := errors.New("unexpected EOF")
		err := api.WrapKind("api.test", api.ErrBadRequest, cause)
		So(errors.Is(err, api.ErrBadRequest), ShouldBeTrue)
		So(errors.Is(err, cause), ShouldBeTrue)
		So(err.Error(), ShouldEqual, "api.test: bad request: unexpected EOF")
		So(api.NewKind("api.test", api.ErrNotFound).Error(), ShouldEqual, "api.test: not found")
	})
}
