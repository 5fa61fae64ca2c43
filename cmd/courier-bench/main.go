// courier-bench exercises the library end to end: it binds a publisher and a
// subscriber (or a PAIR pair) over a chosen transport, pumps messages for a
// fixed duration, and reports throughput. Prometheus metrics are served on
// the side.
package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	courier "github.com/GriffinCanCode/Courier"
)

func main() {
	endpoint := flag.String("endpoint", "tcp://127.0.0.1:5555", "endpoint to bind/connect")
	pattern := flag.String("pattern", "pubsub", "pubsub or pair")
	size := flag.Int("size", 64, "message payload size in bytes")
	duration := flag.Duration("duration", 5*time.Second, "how long to pump messages")
	metricsAddr := flag.String("metrics", ":9100", "prometheus listen address (empty disables)")
	flag.Parse()

	if *metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				log.Printf("metrics server: %v", err)
			}
		}()
	}

	ctx, err := courier.NewContext()
	if err != nil {
		log.Fatalf("context: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("interrupted")
		os.Exit(1)
	}()

	var received int
	switch *pattern {
	case "pubsub":
		received, err = runPubSub(ctx, *endpoint, *size, *duration)
	case "pair":
		received, err = runPair(ctx, *endpoint, *size, *duration)
	default:
		log.Fatalf("unknown pattern %q", *pattern)
	}
	if err != nil {
		log.Fatalf("bench: %v", err)
	}

	rate := float64(received) / duration.Seconds()
	fmt.Printf("pattern=%s endpoint=%s size=%dB received=%d rate=%.0f msg/s\n",
		*pattern, *endpoint, *size, received, rate)

	if err := ctx.Term(); err != nil {
		log.Printf("term: %v", err)
	}
}

func runPubSub(ctx *courier.Context, endpoint string, size int, d time.Duration) (int, error) {
	pub, err := ctx.NewSocket(courier.PUB)
	if err != nil {
		return 0, err
	}
	defer pub.Close()
	if err := pub.Bind(endpoint); err != nil {
		return 0, err
	}
	bound, _ := pub.GetOption(courier.LastEndpoint)

	sub, err := ctx.NewSocket(courier.SUB)
	if err != nil {
		return 0, err
	}
	defer sub.Close()
	if err := sub.SetOption(courier.Subscribe, ""); err != nil {
		return 0, err
	}
	if err := sub.SetOption(courier.RcvTimeo, 100*time.Millisecond); err != nil {
		return 0, err
	}
	if err := sub.Connect(bound.(string)); err != nil {
		return 0, err
	}

	// Give the subscriber a moment to finish connecting; PUB drops into the
	// void until then.
	time.Sleep(200 * time.Millisecond)

	payload := make([]byte, size)
	stop := time.Now().Add(d)
	go func() {
		for time.Now().Before(stop) {
			_ = pub.Send(payload, false)
		}
	}()

	received := 0
	for time.Now().Before(stop.Add(200 * time.Millisecond)) {
		if _, _, err := sub.Recv(); err == nil {
			received++
		}
	}
	return received, nil
}

func runPair(ctx *courier.Context, endpoint string, size int, d time.Duration) (int, error) {
	a, err := ctx.NewSocket(courier.PAIR)
	if err != nil {
		return 0, err
	}
	defer a.Close()
	if err := a.Bind(endpoint); err != nil {
		return 0, err
	}
	bound, _ := a.GetOption(courier.LastEndpoint)

	b, err := ctx.NewSocket(courier.PAIR)
	if err != nil {
		return 0, err
	}
	defer b.Close()
	if err := b.SetOption(courier.SndTimeo, 100*time.Millisecond); err != nil {
		return 0, err
	}
	if err := a.SetOption(courier.RcvTimeo, 100*time.Millisecond); err != nil {
		return 0, err
	}
	if err := b.Connect(bound.(string)); err != nil {
		return 0, err
	}

	payload := make([]byte, size)
	stop := time.Now().Add(d)
	go func() {
		for time.Now().Before(stop) {
			_ = b.Send(payload, false)
		}
	}()

	received := 0
	for time.Now().Before(stop.Add(200 * time.Millisecond)) {
		if _, _, err := a.Recv(); err == nil {
			received++
		}
	}
	return received, nil
}
