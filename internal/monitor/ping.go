package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/go-ping/ping"

	"github.com/fuomag9/inframirror/internal/models"
)

// packetLossLimit is the loss percentage above which a ping probe fails
const packetLossLimit = 50.0

// PingProber performs ICMP ping checks
type PingProber struct{}

func init() {
	RegisterProber(&PingProber{})
}

func (p *PingProber) Name() string {
	return models.TypePing
}

func (p *PingProber) Probe(ctx context.Context, m *models.Monitor) *Result {
	res := &Result{}

	if m.URL == "" {
		return res.fail(ErrInvalidRequest, "no host specified")
	}

	pinger, err := ping.NewPinger(m.URL)
	if err != nil {
		return res.fail(classifyError(err), "failed to create pinger: %v", err)
	}

	pinger.Count = m.ConfigInt("packet_count", 4)
	pinger.Size = m.ConfigInt("packet_size", 56)
	pinger.Timeout = m.Timeout()
	pinger.SetPrivileged(m.ConfigBool("privileged", false))
	switch ipVersion(m) {
	case "ipv4":
		pinger.SetNetwork("ip4")
	case "ipv6":
		pinger.SetNetwork("ip6")
	}

	done := make(chan error, 1)
	go func() {
		done <- pinger.Run()
	}()

	select {
	case <-ctx.Done():
		pinger.Stop()
		<-done
		return res.fail(classifyError(ctx.Err()), "ping aborted: %v", ctx.Err())
	case err := <-done:
		if err != nil {
			return res.fail(ErrTransport, "ping failed: %v", err)
		}
	}

	stats := pinger.Statistics()
	loss := stats.PacketLoss
	jitter := stats.StdDevRtt
	res.PacketLoss = &loss
	res.Jitter = &jitter
	res.ResponseTime = stats.AvgRtt
	if stats.IPAddr != nil {
		res.ResolvedIP = stats.IPAddr.IP.String()
	}

	if stats.PacketsRecv == 0 {
		res.ResponseTime = stats.MaxRtt
		return res.fail(ErrTimeout, "no packets received (100%% packet loss)")
	}
	if loss > packetLossLimit {
		return res.fail(ErrPacketLoss, "high packet loss: %.1f%% - %dms avg", loss, stats.AvgRtt.Milliseconds())
	}

	res.Message = fmt.Sprintf("Ping OK - %dms avg (loss: %.1f%%, jitter: %s)", stats.AvgRtt.Milliseconds(), loss, jitter.Round(time.Microsecond))
	return res
}

func (p *PingProber) Validate(m *models.Monitor) error {
	if m.URL == "" {
		return models.NewConfigurationError("url", "host is required")
	}

	if _, ok := m.Config["packet_count"]; ok {
		if c := m.ConfigInt("packet_count", 0); c < 1 || c > 100 {
			return models.NewConfigurationError("config.packet_count", "must be between 1 and 100")
		}
	}
	if _, ok := m.Config["packet_size"]; ok {
		if s := m.ConfigInt("packet_size", 0); s < 1 || s > 65500 {
			return models.NewConfigurationError("config.packet_size", "must be between 1 and 65500")
		}
	}

	return nil
}
