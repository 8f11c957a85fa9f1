// Reference wiring for the peermux mediator: an in-process loopback
// network with a host and a guest user, driven by a frame loop. The
// guest opens a connection before the host's session endpoint exists,
// exercising the pending-request path, then streams packets the
// endpoint polls out of its socket queue.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/driftwood-games/peermux/pkg/host"
	"github.com/driftwood-games/peermux/pkg/mediator"
	"github.com/driftwood-games/peermux/pkg/message"
	"github.com/driftwood-games/peermux/pkg/p2p"
	"github.com/driftwood-games/peermux/pkg/transport"
)

const demoSocket = "demo-session"

type demoEndpoint struct {
	socketId string
	net      *transport.LoopbackTransport
	log      *zap.Logger
}

func (e *demoEndpoint) SocketID() string { return e.socketId }

func (e *demoEndpoint) OnConnectionRequest(info p2p.ConnectionRequestInfo) {
	e.log.Info("Connection request", zap.String("remoteUser", string(info.RemoteUserID)))
	if err := e.net.AcceptConnection(info.RemoteUserID, info.SocketID); err != nil {
		e.log.Error("Failed to accept connection", zap.Error(err))
	}
}

func (e *demoEndpoint) OnConnectionEstablished(info p2p.ConnectionEstablishedInfo) {
	e.log.Info("Connection established", zap.String("remoteUser", string(info.RemoteUserID)))
}

func (e *demoEndpoint) OnConnectionInterrupted(info p2p.ConnectionInterruptedInfo) {
	e.log.Warn("Connection interrupted", zap.String("remoteUser", string(info.RemoteUserID)))
}

func (e *demoEndpoint) OnConnectionClosed(info p2p.ConnectionClosedInfo) {
	e.log.Info("Connection closed", zap.String("remoteUser", string(info.RemoteUserID)))
}

func main() {
	logger := zap.Must(zap.NewProduction())
	if os.Getenv("APP_ENV") != "production" {
		logger = zap.Must(zap.NewDevelopment())
	}
	defer logger.Sync()

	queueLimit := flag.Int("queue-limit", mediator.DefaultQueueSizeLimit, "Global cap on buffered packets across all socket queues")
	tickRate := flag.Int("tick-rate", 60, "Frame ticks per second")
	metricsAddr := flag.String("metrics-addr", ":9310", "Listen address for the Prometheus metrics endpoint, empty to disable")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	wg := sync.WaitGroup{}

	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		server := &http.Server{Addr: *metricsAddr, Handler: mux}

		wg.Add(1)
		go func() {
			defer wg.Done()
			logger.Info("Starting metrics server", zap.String("addr", *metricsAddr))
			if err := server.ListenAndServe(); err != http.ErrServerClosed {
				logger.Error("Metrics server failed", zap.Error(err))
			}
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-ctx.Done()
			shutdownCtx, release := context.WithTimeout(context.Background(), 5*time.Second)
			defer release()
			server.Shutdown(shutdownCtx)
		}()
	}

	//
	// Loopback network with two users
	network := transport.CreateLoopbackNetwork(logger)
	hostNet, err := network.Attach("host-user")
	if err != nil {
		logger.Fatal("Failed to attach host user", zap.Error(err))
	}
	guestNet, err := network.Attach("guest-user")
	if err != nil {
		logger.Fatal("Failed to attach guest user", zap.Error(err))
	}

	//
	// Mediator for the host identity
	frames := host.CreateFrameLoop()
	frames.AddFrameHandler(hostNet.Pump)
	frames.AddFrameHandler(guestNet.Pump)

	med, err := mediator.CreateMediator(mediator.MediatorConfig{
		P2P:            hostNet,
		Frames:         frames,
		QueueSizeLimit: *queueLimit,
		Logger:         logger,
	})
	if err != nil {
		logger.Fatal("Failed to create mediator", zap.Error(err))
	}

	med.Subscribe(func(ev mediator.Event) {
		switch ev.Kind {
		case mediator.EventQueueOverflow:
			logger.Warn("Observer: packet queue full")
		case mediator.EventConnectionRequestReceived:
			logger.Info("Observer: connection request buffered", zap.String("socketId", ev.Request.SocketID), zap.String("remoteUser", string(ev.Request.RemoteUserID)))
		case mediator.EventConnectionRequestRemoved:
			logger.Info("Observer: connection request removed", zap.String("socketId", ev.Request.SocketID), zap.String("remoteUser", string(ev.Request.RemoteUserID)))
		}
	})

	// In a real host this is driven by the identity subsystem's login
	// event.
	if err := med.Initialize("host-user"); err != nil {
		logger.Fatal("Failed to initialize mediator", zap.Error(err))
	}
	defer med.Terminate()

	// Guest knocks before the host has a registered endpoint, so the
	// request lands in the pending store.
	if err := guestNet.OpenConnection("host-user", demoSocket); err != nil {
		logger.Fatal("Failed to open guest connection", zap.Error(err))
	}
	frames.Tick()

	endpoint := &demoEndpoint{
		socketId: demoSocket,
		net:      hostNet,
		log:      logger.With(zap.String("endpoint", demoSocket)),
	}
	// Registration flushes the buffered request to the endpoint, which
	// accepts it.
	if err := med.RegisterPeer(endpoint); err != nil {
		logger.Fatal("Failed to register endpoint", zap.Error(err))
	}
	defer med.UnregisterPeer(endpoint)

	// Guest identifies itself, then streams data packets.
	guestNet.SendPacket("host-user", demoSocket, 0, message.NewPayload(message.EventReceivePeerID, []byte("guest")))

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		seq := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				seq++
				payload := message.NewPayload(message.EventStorePacket, []byte(fmt.Sprintf("tick %d", seq)))
				if err := guestNet.SendPacket("host-user", demoSocket, 0, payload); err != nil {
					logger.Error("Guest send failed", zap.Error(err))
				}
			}
		}
	}()

	frames.AddFrameHandler(func() {
		for {
			packet, ok := med.PollNextPacket(demoSocket)
			if !ok {
				return
			}
			logger.Info("Polled packet",
				zap.String("sender", string(packet.Sender)),
				zap.Uint8("event", uint8(message.EventTypeOf(packet.Payload))),
				zap.ByteString("data", packet.Payload[message.HeaderSize:]),
			)
		}
	})

	wg.Add(1)
	go func() {
		defer wg.Done()
		frames.Run(ctx, time.Second/time.Duration(*tickRate))
	}()

	wg.Wait()
	logger.Info("Shut down cleanly")
}
