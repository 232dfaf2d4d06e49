// cmd/foodmeshd is the entrypoint for one coordinator cluster node.
//
// Usage:
//
//	foodmeshd --index 0 --host 127.0.0.1 --gateway localhost:8085 --http-addr :9080
//	foodmeshd --index 1 --host 127.0.0.1 --gateway localhost:8085 --http-addr :9081
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"foodmesh/internal/config"
	"foodmesh/internal/httpapi"
	"foodmesh/internal/logging"
	"foodmesh/internal/node"
)

func main() {
	var (
		index       int
		host        string
		gatewayAddr string
		httpAddr    string
	)

	root := &cobra.Command{
		Use:   "foodmeshd",
		Short: "Run one node of the food-ordering coordinator cluster",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(index, host, gatewayAddr, httpAddr)
		},
	}

	root.Flags().IntVar(&index, "index", 0, "This node's ring index, in [0, NUM_COORDINATORS)")
	root.Flags().StringVar(&host, "host", "127.0.0.1", "Host every ring node binds on")
	root.Flags().StringVar(&gatewayAddr, "gateway", "", "Payment gateway's externally visible address")
	root.Flags().StringVar(&httpAddr, "http-addr", ":9080", "Diagnostics HTTP listen address")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(index int, host, gatewayAddr, httpAddr string) error {
	cfg := config.FromEnv()
	if gatewayAddr == "" {
		gatewayAddr = fmt.Sprintf("%s:%d", host, cfg.PaymentGatewayPort())
	}
	if index < 0 || index >= cfg.NumCoordinators {
		return fmt.Errorf("foodmeshd: --index must be in [0, %d)", cfg.NumCoordinators)
	}

	log := logging.New("foodmeshd")

	n, err := node.New(cfg, host, index, gatewayAddr)
	if err != nil {
		return err
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(httpapi.Logger(log), httpapi.Recovery(log))
	n.HTTPHandler().Register(router)

	httpSrv := &http.Server{
		Addr:         httpAddr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go n.Run(ctx)

	go func() {
		log.Info().Str("addr", httpAddr).Str("node_addr", n.SelfAddr()).Msg("diagnostics server listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("diagnostics server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	return httpSrv.Shutdown(shutdownCtx)
}
