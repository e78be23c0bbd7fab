// Package classify turns raw probe results into heartbeat verdicts.
package classify

import (
	"fmt"
	"strings"
	"time"

	"github.com/fuomag9/inframirror/internal/models"
	"github.com/fuomag9/inframirror/internal/monitor"
)

// Verdict is the classification of one probe result
type Verdict struct {
	Success      bool   `json:"success"`
	Status       string `json:"status"`
	Severity     string `json:"severity"`
	ErrorType    string `json:"error_type,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	Message      string `json:"message,omitempty"`
}

// Classify applies expected status codes, sub-failure gates, response time
// thresholds and upside-down mode to a probe result.
func Classify(m *models.Monitor, r *monitor.Result) Verdict {
	v := Verdict{Message: r.Message}
	down := false

	switch {
	case r.Failed():
		down = true
		v.ErrorType = r.ErrorType
		v.ErrorMessage = r.ErrorMessage

	case m.Type == models.TypeHTTP && !expectedStatus(m, r.StatusCode):
		down = true
		v.ErrorType = monitor.ErrStatusCode
		v.ErrorMessage = fmt.Sprintf("unexpected status code %d (expected %s)", r.StatusCode, expectedCodes(m))

	default:
		var ignored []string
		for _, sf := range r.SubFailures {
			if !counts(m, sf.Kind) {
				ignored = append(ignored, sf.Message)
				continue
			}
			if !down {
				down = true
				v.ErrorType = sf.Kind
				v.ErrorMessage = sf.Message
			}
		}
		if len(ignored) > 0 {
			v.Message = joinMessage(v.Message, "ignored: "+strings.Join(ignored, "; "))
		}
	}

	status, severity := timing(m, r)

	success := !down
	if m.UpsideDownMode && !uninvertible(r) {
		success = !success
		if success {
			v.Message = joinMessage(v.Message, "inverted: "+v.ErrorMessage)
			v.ErrorType, v.ErrorMessage = "", ""
		} else {
			v.ErrorType = monitor.ErrUnexpectedResult
			v.ErrorMessage = "target is reachable but upside down mode expects it to fail"
		}
	}

	v.Success = success
	if success {
		v.Status, v.Severity = status, severity
		if r.Failed() {
			// No response to time, so nothing to grade.
			v.Status, v.Severity = models.StatusUp, models.SeverityOK
		}
	} else {
		v.Status, v.Severity = models.StatusDown, models.SeverityCritical
	}

	if v.Message == "" {
		v.Message = v.ErrorMessage
	}
	return v
}

// uninvertible reports whether a failed result says nothing about the target,
// so upside-down mode must not turn it into a success. A check that ran out
// of time never learned whether the target was reachable.
func uninvertible(r *monitor.Result) bool {
	return r.ErrorType == monitor.ErrTimeout || r.ErrorType == monitor.ErrCancelled
}

// Accept reports whether a result ends the retry loop. It is the runner's
// AcceptFunc.
func Accept(m *models.Monitor, r *monitor.Result) bool {
	return Classify(m, r).Success
}

// timing grades the response time against the monitor's thresholds. A
// critical breach degrades the heartbeat without failing it.
func timing(m *models.Monitor, r *monitor.Result) (string, string) {
	ms := int(r.ResponseTime.Milliseconds())
	switch {
	case m.ResponseTimeCriticalMs > 0 && ms > m.ResponseTimeCriticalMs:
		return models.StatusDegraded, models.SeverityCritical
	case m.ResponseTimeWarningMs > 0 && ms > m.ResponseTimeWarningMs:
		return models.StatusUp, models.SeverityWarning
	}
	return models.StatusUp, models.SeverityOK
}

// counts reports whether a sub-failure of the given kind fails the heartbeat
func counts(m *models.Monitor, kind string) bool {
	switch kind {
	case monitor.ErrTLS:
		return !m.IgnoreTLSError
	case monitor.ErrCertificate:
		return m.CheckSSLCertificate
	case monitor.ErrDNS:
		return m.CheckDNSResolution
	}
	return true
}

func expectedCodes(m *models.Monitor) string {
	if strings.TrimSpace(m.ExpectedStatusCodes) == "" {
		return models.DefaultExpectedStatusCodes
	}
	return m.ExpectedStatusCodes
}

func expectedStatus(m *models.Monitor, code int) bool {
	codes, err := models.ParseStatusCodes(m.ExpectedStatusCodes)
	if err != nil {
		codes, _ = models.ParseStatusCodes(models.DefaultExpectedStatusCodes)
	}
	return codes.Contains(code)
}

func joinMessage(a, b string) string {
	if a == "" {
		return b
	}
	return a + " (" + b + ")"
}

// NewHeartbeat builds the heartbeat for a finished check
func NewHeartbeat(m *models.Monitor, out monitor.Outcome, v Verdict, executedAt time.Time) *models.Heartbeat {
	r := out.Result
	hb := &models.Heartbeat{
		MonitorID:            m.ID,
		ExecutedAt:           executedAt.UTC(),
		Success:              v.Success,
		Status:               v.Status,
		Severity:             v.Severity,
		Attempts:             out.Attempts,
		ResponseTimeMs:       int(r.ResponseTime.Milliseconds()),
		ResponseSizeBytes:    r.Size,
		ResponseContentType:  r.ContentType,
		DNSLookupMs:          millis(r.DNSLookup),
		DNSResolvedIP:        r.ResolvedIP,
		TCPConnectMs:         millis(r.TCPConnect),
		TLSHandshakeMs:       millis(r.TLSHandshake),
		TimeToFirstByteMs:    millis(r.TimeToFirstByte),
		SSLCertificateValid:  r.CertValid,
		SSLCertificateIssuer: r.CertIssuer,
		SSLDaysUntilExpiry:   r.CertDaysLeft,
		WarningThresholdMs:   m.ResponseTimeWarningMs,
		CriticalThresholdMs:  m.ResponseTimeCriticalMs,
		ErrorType:            v.ErrorType,
		ErrorMessage:         v.ErrorMessage,
		Message:              v.Message,
		RawResponseBody:      r.BodySample,
		PacketLoss:           r.PacketLoss,
	}

	if r.StatusCode != 0 {
		code := r.StatusCode
		hb.ResponseStatusCode = &code
	}
	if r.CertExpiry != nil {
		expiry := r.CertExpiry.UTC()
		hb.SSLCertificateExpiry = &expiry
	}
	if len(r.Headers) > 0 {
		hb.RawResponseHeaders = r.Headers
	}
	if r.Jitter != nil {
		jitter := float64(r.Jitter.Microseconds()) / 1000
		hb.JitterMs = &jitter
	}

	return hb
}

func millis(d *time.Duration) *int {
	if d == nil {
		return nil
	}
	ms := int(d.Milliseconds())
	return &ms
}
