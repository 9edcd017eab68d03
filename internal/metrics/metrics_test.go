package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	modbusIface "github.com/tetragramaton/smh-modbus/internal/interface/modbus"
	mock_modbus "github.com/tetragramaton/smh-modbus/internal/interface/modbus/mock"
	"gotest.tools/v3/assert"
	"gotest.tools/v3/assert/cmp"
)

func TestResult(t *testing.T) {
	cases := map[string]error{
		"ok":               nil,
		"device_error":     &modbusIface.Error{Kind: modbusIface.KindDevice, Err: errors.New("x")},
		"transport_error":  &modbusIface.Error{Kind: modbusIface.KindTransport, Err: errors.New("x")},
		"connection_error": &modbusIface.Error{Kind: modbusIface.KindConnection, Err: errors.New("x")},
		"error":            errors.New("decode: got 1 words, need 2"),
	}
	for want, err := range cases {
		assert.Equal(t, Result(err), want)
	}
}

func TestObserve(t *testing.T) {
	m := New()
	m.ObserveRead("flow", 12, nil)
	m.ObserveRead("flow", 0, errors.New("boom"))
	m.ObserveWrite("mode", 2, nil)
	m.ObserveCycle(150 * time.Millisecond)

	assert.Equal(t, testutil.ToFloat64(m.Reads.WithLabelValues("flow", "ok")), 1.0)
	assert.Equal(t, testutil.ToFloat64(m.Reads.WithLabelValues("flow", "error")), 1.0)
	assert.Equal(t, testutil.ToFloat64(m.Values.WithLabelValues("flow")), 12.0)
	assert.Equal(t, testutil.ToFloat64(m.Values.WithLabelValues("mode")), 2.0)
	assert.Equal(t, testutil.ToFloat64(m.PollCycles), 1.0)
}

func TestHandler_ExposesConnectionGauge(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := mock_modbus.NewMockTransport(ctrl)
	tr.EXPECT().Connected().Return(true).AnyTimes()

	m := New()
	m.WatchConnection(tr)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	assert.NilError(t, err)
	assert.Check(t, cmp.Contains(string(body), "smh_modbus_connected 1"))
	assert.Check(t, cmp.Contains(string(body), "smh_modbus_poll_cycles_total 0"))
}
