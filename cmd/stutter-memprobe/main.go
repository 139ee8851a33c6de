// Command stutter-memprobe exercises the stutter memory manager against a
// real workload: it tokenizes a source file into collector-managed
// bindings, churns transient allocations, and optionally exposes the
// collector over the telemetry endpoints while a tuning file steers it.
package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"os"
	"time"
	"unsafe"

	"github.com/intuitivelabs/slog"

	"github.com/stutter-lang/stutter/internal/gc"
	"github.com/stutter-lang/stutter/internal/lexer"
	"github.com/stutter-lang/stutter/internal/strmap"
	"github.com/stutter-lang/stutter/internal/sysalloc"
	"github.com/stutter-lang/stutter/internal/telemetry"
	"github.com/stutter-lang/stutter/internal/tuning"
)

func main() {
	var (
		inputFile   = flag.String("input", "", "stutter source file to tokenize into bindings")
		metricsAddr = flag.String("metrics", "", "serve telemetry on this address (e.g. :9090)")
		http3Addr   = flag.String("http3", "", "serve telemetry over HTTP/3 on this address")
		certFile    = flag.String("cert", "", "TLS certificate for the HTTP/3 endpoint")
		keyFile     = flag.String("key", "", "TLS key for the HTTP/3 endpoint")
		tuningFile  = flag.String("tuning", "", "tuning file to watch (JSON)")
		allocKind   = flag.String("alloc", "heap", "system allocator: heap or page")
		memLimit    = flag.Uint64("limit", 0, "allocator memory limit in bytes (0 = unlimited)")
		iterations  = flag.Int("churn", 10000, "number of transient allocations to churn")
		holdTime    = flag.Duration("hold", 0, "keep serving telemetry for this long after the workload")
		verbose     = flag.Bool("verbose", false, "enable debug logging")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Stutter memory manager probe.\n\n")
		fmt.Fprintf(os.Stderr, "OPTIONS:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *verbose {
		gc.SetLogLevel(slog.LDBG)
	}

	options := []gc.Option{}
	switch *allocKind {
	case "heap":
		options = append(options, gc.WithAllocator(sysalloc.NewHeapAllocator(
			sysalloc.WithMemoryLimit(uintptr(*memLimit)))))
	case "page":
		options = append(options, gc.WithAllocator(sysalloc.NewPageAllocator(
			sysalloc.WithMemoryLimit(uintptr(*memLimit)))))
	default:
		fmt.Fprintf(os.Stderr, "unknown allocator kind %q\n", *allocKind)
		os.Exit(2)
	}

	// The probe's whole lifetime runs below this frame, so the address of
	// a local here is a sound bottom-of-stack.
	var stackBottom int
	c := gc.Start(uintptr(unsafe.Pointer(&stackBottom)), options...)
	defer c.Stop()
	gc.Bind(c)

	if *tuningFile != "" {
		w, err := tuning.Watch(*tuningFile, c)
		if err != nil {
			fmt.Fprintf(os.Stderr, "tuning: %v\n", err)
			os.Exit(1)
		}
		defer w.Close()
	}

	exporter := telemetry.NewExporter(c)
	if *metricsAddr != "" {
		bound, stop, err := telemetry.StartServer(*metricsAddr, exporter)
		if err != nil {
			fmt.Fprintf(os.Stderr, "telemetry: %v\n", err)
			os.Exit(1)
		}
		defer stop(context.Background())
		fmt.Printf("telemetry on http://%s/metrics\n", bound)
	}
	if *http3Addr != "" {
		tlsCfg, err := loadTLS(*certFile, *keyFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "http3: %v\n", err)
			os.Exit(1)
		}
		bound, stop, err := telemetry.StartHTTP3Server(*http3Addr, tlsCfg, exporter.Handler())
		if err != nil {
			fmt.Fprintf(os.Stderr, "http3: %v\n", err)
			os.Exit(1)
		}
		defer stop()
		fmt.Printf("telemetry (h3) on https://%s/metrics\n", bound)
	}

	bindings := strmap.New(c, 127)
	if *inputFile != "" {
		n, err := tokenizeInto(c, bindings, *inputFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "input: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("bound %d symbols from %s\n", n, *inputFile)
	}

	churn(c, *iterations)

	freed := c.Run()
	stats := c.Stats()
	fmt.Printf("final collection freed %d bytes; %d live records, %d roots, %d runs total\n",
		freed, stats.Size, stats.Roots, stats.Runs)

	if *holdTime > 0 {
		time.Sleep(*holdTime)
	}

	bindings.Delete()
}

func loadTLS(certFile, keyFile string) (*tls.Config, error) {
	if certFile == "" || keyFile == "" {
		return nil, fmt.Errorf("the HTTP/3 endpoint needs -cert and -key")
	}
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS13,
		NextProtos:   []string{"h3"},
	}, nil
}

// tokenizeInto lexes the file and stores every symbol and string token as
// a binding, keyed by lexeme.
func tokenizeInto(c *gc.Collector, bindings *strmap.Map, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	l := lexer.New(f)
	bound := 0
	for {
		tok := l.Next()
		switch tok.Type {
		case lexer.TokenEOF:
			return bound, nil
		case lexer.TokenError:
			return bound, fmt.Errorf("%s:%d:%d: bad token %q", path, tok.Line, tok.Col, tok.Text)
		case lexer.TokenSymbol, lexer.TokenString:
			if bindings.Put(tok.Text, []byte(tok.Text)) {
				bound++
			}
		}
	}
}

// churn allocates and drops short-lived regions so the sweep-limit path
// gets exercised.
func churn(c *gc.Collector, iterations int) {
	for i := 0; i < iterations; i++ {
		size := uintptr(8 + i%120)
		if p := c.Malloc(size); p == nil {
			gc.WARN("churn allocation of %d bytes failed", size)
		}
	}
}
