package telemetry

import (
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"time"

	quic "github.com/quic-go/quic-go"
	http3 "github.com/quic-go/quic-go/http3"

	"github.com/stutter-lang/stutter/internal/gc"
)

// Telemetry traffic is short request/response scrapes on an interval, so
// idle QUIC connections are kept just long enough to span two typical
// scrape periods rather than being held open indefinitely.
const scrapeIdleTimeout = 90 * time.Second

// StartHTTP3Server serves h over HTTP/3 on a UDP address, for deployments
// that scrape telemetry across links where QUIC fares better than TCP.
// QUIC requires TLS; a copy of the caller's config is used, with its
// minimum version raised to TLS 1.3 when lower and the h3 ALPN token added
// when it lists no protocols. Returns the bound
// address (which may differ if addr ended in ":0") and a stop function.
func StartHTTP3Server(addr string, tlsCfg *tls.Config, h http.Handler) (string, func() error, error) {
	if tlsCfg == nil {
		return "", nil, errors.New("telemetry: the HTTP/3 endpoint needs a TLS config")
	}
	tlsCfg = tlsCfg.Clone()
	if tlsCfg.MinVersion < tls.VersionTLS13 {
		tlsCfg.MinVersion = tls.VersionTLS13
	}
	if len(tlsCfg.NextProtos) == 0 {
		tlsCfg.NextProtos = []string{http3.NextProtoH3}
	}

	pc, err := net.ListenPacket("udp", addr)
	if err != nil {
		return "", nil, err
	}

	srv := &http3.Server{
		Handler:    h,
		TLSConfig:  tlsCfg,
		QUICConfig: &quic.Config{MaxIdleTimeout: scrapeIdleTimeout},
	}

	go func() {
		if err := srv.Serve(pc); err != nil {
			gc.DBG("telemetry: http3 server exited: %v", err)
		}
	}()

	stop := func() error {
		err := srv.Close()
		_ = pc.Close()

		return err
	}

	return pc.LocalAddr().String(), stop, nil
}
