// Command fabric-gateway-probe is a demo, not part of the core fabric. With
// -mode storage it dials a running fabricd server with wsclient.Adapter and
// exercises a basic set/get/delete round trip; with -mode gateway it drives
// the gateway-style connection core (package gateway) against the endpoint
// far enough to log its HELLO/READY handshake and send a presence update.
// Each run performs one of the two. It exists to give a human a
// way to poke a running server from the command line, the way the teacher
// project's own example/ client binaries did for dex.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/storagefabric/fabric/gateway"
	"github.com/storagefabric/fabric/gateway/presence"
	"github.com/storagefabric/fabric/wsclient"
)

func main() {
	url := flag.String("url", "ws://127.0.0.1:3000/ws", "storage fabric websocket url")
	token := flag.String("token", "demo-token", "auth token")
	mode := flag.String("mode", "storage", "probe mode: storage|gateway")
	flag.Parse()

	switch *mode {
	case "storage":
		if err := runStorageProbe(*url, *token); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	case "gateway":
		if err := runGatewayProbe(*url, *token); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown -mode %q (want storage or gateway)\n", *mode)
		os.Exit(2)
	}
}

func runStorageProbe(url, token string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	adapter, err := wsclient.Dial(ctx, wsclient.Config{URL: url, Token: token})
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer adapter.Close()

	if err := adapter.Set(ctx, "probe", "hello", "world"); err != nil {
		return fmt.Errorf("set: %w", err)
	}
	value, found, err := adapter.Get(ctx, "probe", "hello")
	if err != nil {
		return fmt.Errorf("get: %w", err)
	}
	slog.Info("probe get", "found", found, "value", value)

	if _, err := adapter.Delete(ctx, "probe", "hello"); err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	slog.Info("storage probe complete")
	return nil
}

func runGatewayProbe(url, token string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	conn := gateway.New(gateway.Config{
		URL:   url,
		Token: token,
		OnDispatch: func(t string, d json.RawMessage) {
			slog.Info("dispatch", "type", t)
		},
	})

	done := make(chan error, 1)
	go func() { done <- conn.Run(ctx) }()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-done:
			return err
		default:
		}
		if conn.State() == gateway.StateReady {
			update, err := presence.NewBuilder(presence.StatusOnline).
				WithActivity(presence.Activity{Name: "probing the fabric", Type: presence.ActivityPlaying}).
				Build()
			if err != nil {
				return err
			}
			if err := conn.SendPresenceUpdate(ctx, update); err != nil {
				return fmt.Errorf("send presence update: %w", err)
			}
			slog.Info("gateway probe reached ready, presence update sent")
			cancel()
			<-done
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
}
