package main

import (
	"context"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/voxline/callbridge/internal/api"
	"github.com/voxline/callbridge/internal/auth"
	"github.com/voxline/callbridge/internal/bootstrap"
	"github.com/voxline/callbridge/internal/call"
	"github.com/voxline/callbridge/internal/config"
	"github.com/voxline/callbridge/internal/devices"
	"github.com/voxline/callbridge/internal/gateway"
	"github.com/voxline/callbridge/internal/logger"
	"github.com/voxline/callbridge/internal/nativeui"
	"github.com/voxline/callbridge/internal/router"
	"github.com/voxline/callbridge/internal/signaling/sipclient"
	"github.com/voxline/callbridge/internal/uibridge"
)

func main() {
	cfg := config.Load()

	logger.Init(os.Stdout)
	logger.SetLevel(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client, err := sipclient.New(sipclient.Config{
		BackendAddr:   cfg.BackendAddr,
		BackendHost:   cfg.BackendHost,
		BindAddr:      cfg.BindAddr,
		Port:          cfg.SIPPort,
		AdvertiseAddr: cfg.AdvertiseAddr,
		Identity:      cfg.Identity,
		MediaAddr:     cfg.MediaAddr,
		MediaPort:     cfg.MediaPort,
	})
	if err != nil {
		slog.Error("Failed to create signaling client", "error", err)
		os.Exit(1)
	}
	defer client.Close()

	store := call.NewStore()
	native := nativeui.NewLogAdapter()
	events := uibridge.NewChannelEmitter(256)
	bridge := uibridge.NewMultiEmitter(uibridge.NewLogEmitter(nil), events)
	defer bridge.Close()

	rtr := router.New(router.Config{
		Store:  store,
		Native: native,
		Bridge: bridge,
	})
	go rtr.Run(ctx, client.Events())

	gw := gateway.New(gateway.Config{
		Store:  store,
		Client: client,
		Native: native,
		Bridge: bridge,
	})

	tokens := auth.NewTokenCache()
	var refresh bootstrap.RefreshFunc
	if cfg.TokenURL != "" {
		refresher := &auth.HTTPRefresher{URL: cfg.TokenURL}
		refresh = refresher.Refresh
	}
	boot := bootstrap.New(client, native, tokens, bootstrap.Config{
		Budget:      cfg.BootstrapBudget,
		TokenMargin: cfg.TokenMargin,
	})

	registry := openRegistry(ctx, cfg)
	if registry != nil && cfg.DeviceID != "" {
		err := registry.Save(ctx, devices.Device{
			DeviceID:  cfg.DeviceID,
			Region:    cfg.Region,
			UpdatedAt: time.Now(),
		})
		if err != nil {
			slog.Warn("Failed to register device", "device_id", cfg.DeviceID, "error", err)
		}
	}

	server := api.NewServer(api.Config{
		Addr:      cfg.APIAddr,
		Store:     store,
		Gateway:   gw,
		Bootstrap: boot,
		Refresh:   refresh,
		Registry:  registry,
		Events:    events,
	})
	if err := server.Start(); err != nil {
		slog.Error("Failed to start API server", "error", err)
		os.Exit(1)
	}
	defer server.Stop()

	run(ctx, cancel, client, cfg)
}

func run(ctx context.Context, cancel context.CancelFunc, client *sipclient.Client, cfg *config.Config) {
	slog.Info("Starting Callbridge daemon",
		"sip_port", cfg.SIPPort,
		"backend", cfg.BackendAddr,
		"api", cfg.APIAddr,
	)
	logNetworkInterfaces()

	go func() {
		if err := client.ListenAndServe(ctx); err != nil {
			slog.Error("Signaling client error", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	slog.Info("Received signal, shutting down", "signal", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer shutdownCancel()
	if err := client.DeleteSession(shutdownCtx); err != nil {
		slog.Debug("Session teardown", "error", err)
	}
	cancel()

	time.Sleep(500 * time.Millisecond)
}

// openRegistry picks Redis when configured and falls back to the in-memory
// registry otherwise.
func openRegistry(ctx context.Context, cfg *config.Config) devices.Registry {
	if cfg.RedisAddr == "" {
		return devices.NewMemoryRegistry()
	}
	registry, err := devices.OpenRedisRegistry(ctx, devices.RedisConfig{Addr: cfg.RedisAddr})
	if err != nil {
		slog.Warn("Redis unavailable, using in-memory device registry", "error", err)
		return devices.NewMemoryRegistry()
	}
	return registry
}

func logNetworkInterfaces() {
	interfaces, err := net.Interfaces()
	if err != nil {
		return
	}

	for _, iface := range interfaces {
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ip, _, err := net.ParseCIDR(addr.String())
			if err != nil {
				continue
			}
			slog.Debug("Network interface", "interface", iface.Name, "ip", ip.String())
		}
	}
}
