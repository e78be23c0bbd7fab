package models

import (
	"errors"
	"testing"

	"gotest.tools/v3/assert"
)

func TestParseStatusCodes(t *testing.T) {
	tests := []struct {
		input   string
		accept  []int
		reject  []int
		wantErr bool
	}{
		{input: "200,201", accept: []int{200, 201}, reject: []int{202, 500}},
		{input: "", accept: []int{200, 204, 299}, reject: []int{301}},
		{input: "200-204, 301", accept: []int{203, 301}, reject: []int{205, 302}},
		{input: "abc", wantErr: true},
		{input: "300-200", wantErr: true},
		{input: "99", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			codes, err := ParseStatusCodes(tt.input)
			if tt.wantErr {
				assert.Assert(t, err != nil)
				return
			}
			assert.NilError(t, err)
			for _, c := range tt.accept {
				assert.Assert(t, codes.Contains(c), "expected %d to be accepted", c)
			}
			for _, c := range tt.reject {
				assert.Assert(t, !codes.Contains(c), "expected %d to be rejected", c)
			}
		})
	}
}

func TestValidateMonitor(t *testing.T) {
	valid := func() *Monitor {
		m := NewMonitor()
		m.Name = "api"
		m.Type = TypeHTTP
		m.URL = "https://example.com"
		return &m
	}

	assert.NilError(t, ValidateMonitor(valid()))

	tests := []struct {
		name   string
		mutate func(*Monitor)
		field  string
	}{
		{"missing name", func(m *Monitor) { m.Name = "" }, "name"},
		{"bad type", func(m *Monitor) { m.Type = "smtp" }, "type"},
		{"zero interval", func(m *Monitor) { m.IntervalSeconds = 0 }, "interval_seconds"},
		{"negative retries", func(m *Monitor) { m.RetryCount = -1 }, "retry_count"},
		{"bad codes", func(m *Monitor) { m.ExpectedStatusCodes = "2xx" }, "expected_status_codes"},
		{"inverted thresholds", func(m *Monitor) {
			m.ResponseTimeWarningMs = 900
			m.ResponseTimeCriticalMs = 500
		}, "response_time_warning_ms"},
		{"self parent", func(m *Monitor) {
			m.ID = 7
			parent := 7
			m.ParentID = &parent
		}, "parent_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := valid()
			tt.mutate(m)

			err := ValidateMonitor(m)
			var cfgErr *ConfigurationError
			assert.Assert(t, errors.As(err, &cfgErr))
			_, ok := cfgErr.Fields[tt.field]
			assert.Assert(t, ok, "expected problem for %s, got %v", tt.field, cfgErr.Fields)
		})
	}
}

func TestValidateStatusPageSlug(t *testing.T) {
	assert.NilError(t, ValidateStruct(&StatusPage{Slug: "public-api", Title: "API"}))
	assert.ErrorContains(t, ValidateStruct(&StatusPage{Slug: "Public API", Title: "API"}), "slug")
}

func TestMonitorConfigAccessors(t *testing.T) {
	m := Monitor{Config: map[string]any{"port": float64(5432), "query_type": "MX", "privileged": true}}
	assert.Equal(t, m.ConfigInt("port", 80), 5432)
	assert.Equal(t, m.ConfigInt("packet_count", 4), 4)
	assert.Equal(t, m.ConfigString("query_type", "A"), "MX")
	assert.Equal(t, m.ConfigBool("privileged", false), true)
}
