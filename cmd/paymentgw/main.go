// cmd/paymentgw is a reference payment-gateway process: it speaks the
// protocol described in §4.4, deciding authorization outcomes with a
// configurable coin flip and always completing billing, for
// integration testing against a live coordinator cluster.
//
// Usage:
//
//	paymentgw --host 127.0.0.1 --addr 127.0.0.1:8085
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"foodmesh/internal/config"
	"foodmesh/internal/logging"
	"foodmesh/internal/paymentgw"
)

func main() {
	var (
		host string
		addr string
	)

	root := &cobra.Command{
		Use:   "paymentgw",
		Short: "Run the reference payment-gateway stub against a coordinator cluster",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(host, addr)
		},
	}

	root.Flags().StringVar(&host, "host", "127.0.0.1", "Host the coordinator ring binds on")
	root.Flags().StringVar(&addr, "addr", "", "This gateway's externally visible address (defaults to host:PaymentGatewayPort)")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(host, addr string) error {
	cfg := config.FromEnv()
	if addr == "" {
		addr = fmt.Sprintf("%s:%d", host, cfg.PaymentGatewayPort())
	}

	ring := make([]string, cfg.NumCoordinators)
	for i := 0; i < cfg.NumCoordinators; i++ {
		ring[i] = fmt.Sprintf("%s:%d", host, cfg.BasePort+i)
	}

	log := logging.New("paymentgw")
	gw := paymentgw.New(addr, cfg, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go gw.Run(ctx, ring)

	log.Info().Str("addr", addr).Strs("ring", ring).Msg("payment gateway connecting to ring")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	cancel()
	return nil
}
