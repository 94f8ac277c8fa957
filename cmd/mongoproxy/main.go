// Command mongoproxy is a transparent TCP proxy for MongoDB-wire-protocol
// traffic: it forwards bytes byte-for-byte between a client and its
// upstream while observing the protocol in band for metrics and tracing.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/morpheus-med/mongoproxy/admin"
	"github.com/morpheus-med/mongoproxy/metrics"
	"github.com/morpheus-med/mongoproxy/proxysvc"
	"github.com/morpheus-med/mongoproxy/tracing"
)

var version = "dev"

func main() {
	fs := flag.NewFlagSet("mongoproxy", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "mongoproxy — transparent proxy for MongoDB wire protocol traffic\n\nUsage:\n  mongoproxy --proxy PORT[:HOST:PORT] [flags]\n\nFlags:\n")
		fs.PrintDefaults()
	}

	proxySpec := fs.String("proxy", "", "bind port, or port:host:port for an explicit upstream (required)")
	logMongoMessages := fs.Bool("log-mongo-messages", false, "decode trace-context fields embedded in client requests")
	enableJaeger := fs.Bool("enable-jaeger", false, "export spans to a Jaeger agent")
	jaegerAddr := fs.String("jaeger-addr", "127.0.0.1:6831", "Jaeger agent address")
	serviceName := fs.String("service-name", "mongoproxy", "service name label for traces and metrics")
	adminPort := fs.Int("admin-port", 9898, "admin HTTP port (metrics, health)")
	showVersion := fs.Bool("version", false, "show version and exit")

	_ = fs.Parse(os.Args[1:])

	if *showVersion {
		fmt.Printf("mongoproxy %s\n", version)
		return
	}

	if *proxySpec == "" {
		fs.Usage()
		os.Exit(1)
	}

	if err := run(*proxySpec, *logMongoMessages, *enableJaeger, *jaegerAddr, *serviceName, *adminPort); err != nil {
		log.Fatal(err)
	}
}

func run(proxySpec string, logMongoMessages, enableJaeger bool, jaegerAddr, serviceName string, adminPort int) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	spec, err := proxysvc.ParseSpec(proxySpec)
	if err != nil {
		return fmt.Errorf("mongoproxy: %w", err)
	}

	reg := metrics.New()
	reg.SetRuntimeInfo(metrics.RuntimeInfo{
		Version:          version,
		Proxy:            proxySpec,
		ServiceName:      serviceName,
		LogMongoMessages: logMongoMessages,
		EnableJaeger:     enableJaeger,
	})

	tracer := tracing.NewNoop()
	if enableJaeger {
		host, port, splitErr := net.SplitHostPort(jaegerAddr)
		if splitErr != nil {
			return fmt.Errorf("mongoproxy: invalid jaeger-addr %q: %w", jaegerAddr, splitErr)
		}
		jt, jaegerErr := tracing.NewJaeger(host, port, serviceName)
		if jaegerErr != nil {
			log.Printf("mongoproxy: jaeger tracing disabled: %v", jaegerErr)
		} else {
			tracer = jt
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = tracer.Shutdown(shutdownCtx)
			}()
		}
	}

	var lc net.ListenConfig
	adminAddr := fmt.Sprintf("0.0.0.0:%d", adminPort)
	adminLis, err := lc.Listen(ctx, "tcp", adminAddr)
	if err != nil {
		return fmt.Errorf("mongoproxy: listen admin %s: %w", adminAddr, err)
	}
	adminSrv := admin.New(adminAddr, reg)
	go func() {
		log.Printf("admin server listening on %s", adminAddr)
		if serveErr := adminSrv.Serve(adminLis); serveErr != nil {
			log.Printf("mongoproxy: admin serve: %v", serveErr)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = adminSrv.Shutdown(shutdownCtx)
	}()

	p := proxysvc.New(proxysvc.Options{
		Spec:             spec,
		Metrics:          reg,
		Tracer:           tracer,
		LogMongoMessages: logMongoMessages,
	})

	log.Printf("mongoproxy %s listening on %s", version, spec.BindAddr())
	if err := p.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("mongoproxy: %w", err)
	}

	return nil
}
