// Command lwm2mclientd runs a single LWM2M client endpoint, replacing the
// teacher's flag-parsed cmd/inventoryd/main.go with a cobra command tree:
// "run" drives the event loop, "bootstrap" runs bootstrap to completion and
// exits, "init-config" writes a starter configuration file the way the
// teacher's -init flag did through checkConfig/CreateDefaultConfig.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rakunlabs/logi"
	"github.com/spf13/cobra"

	"github.com/ConnectivityFoundry/AwaLWM2M-sub001/internal/client"
	"github.com/ConnectivityFoundry/AwaLWM2M-sub001/internal/coap"
	"github.com/ConnectivityFoundry/AwaLWM2M-sub001/internal/config"
	"github.com/ConnectivityFoundry/AwaLWM2M-sub001/internal/definition"
	"github.com/ConnectivityFoundry/AwaLWM2M-sub001/internal/dispatch"
	"github.com/ConnectivityFoundry/AwaLWM2M-sub001/internal/engine"
	"github.com/ConnectivityFoundry/AwaLWM2M-sub001/internal/model"
	"github.com/ConnectivityFoundry/AwaLWM2M-sub001/internal/objects"
)

var configPath string

func main() {
	logger := logi.InitializeLog(logi.WithCaller(false))
	slog.SetDefault(logger)

	root := &cobra.Command{
		Use:   "lwm2mclientd",
		Short: "OMA LWM2M client endpoint",
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "./config.json", "path to the client configuration file")

	root.AddCommand(runCmd(), bootstrapCmd(), initConfigCmd())

	if err := root.Execute(); err != nil {
		slog.Error("exiting", "error", err)
		os.Exit(1)
	}
}

func initConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-config",
		Short: "write a starter configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(configPath); err == nil {
				return fmt.Errorf("refusing to overwrite existing config at %s", configPath)
			}
			return config.Write(configPath, config.Default())
		},
	}
}

func bootstrapCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bootstrap",
		Short: "run the bootstrap sequence to completion and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClient(cmd.Context(), true)
		},
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "run the client event loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClient(cmd.Context(), false)
		},
	}
}

// session holds everything the event loop needs that is not part of Core
// itself: the per-server transports Core.AddServer doesn't expose back out,
// keyed the same way Core keys its own registration table.
type session struct {
	core               *client.Core
	transports         map[int]coap.Transport
	bootstrapTransport coap.Transport
	dialer             coap.UDPDialer
	endpoint           string
}

// runClient loads the configured registry, bootstraps, discovers the
// registered Device Management servers from the Security/Server objects the
// bootstrap server wrote, and drives Core.Tick on a fixed period. This
// replaces the teacher's StartUpdate/StartObserving ticker pair (lwm2m.go),
// each of which owned its own goroutine, with one caller-owned loop.
func runClient(ctx context.Context, bootstrapOnly bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	reg := definition.NewRegistry()
	if err := objects.RegisterBuiltins(reg); err != nil {
		return fmt.Errorf("registering builtin objects: %w", err)
	}
	for _, src := range cfg.ObjectDefinitionSources {
		defs, err := loadDefinitions(src)
		if err != nil {
			return fmt.Errorf("loading object definitions from %s: %w", src.Path, err)
		}
		for _, def := range defs {
			if err := reg.DefineObject(def); err != nil {
				return fmt.Errorf("defining object from %s: %w", src.Path, err)
			}
		}
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	inbound := make(chan inboundMessage, 64)
	sess := &session{transports: make(map[int]coap.Transport), endpoint: cfg.EndpointName}

	bootstrapTransport, err := sess.dialer.Dial(ctx, cfg.BootstrapServerURI, &callbackRouter{server: client.BootstrapServerID, ch: inbound})
	if err != nil {
		return fmt.Errorf("dialing bootstrap server: %w", err)
	}
	defer bootstrapTransport.Close()
	sess.bootstrapTransport = bootstrapTransport

	sess.core = client.New(reg, cfg.EndpointName, bootstrapTransport, slog.Default())

	now := time.Now().UTC()
	if err := sess.core.Bootstrap.Start(now, 0); err != nil {
		return fmt.Errorf("starting bootstrap: %w", err)
	}

	tickPeriod := time.Duration(cfg.ObserveInterval) * time.Second
	if tickPeriod <= 0 {
		tickPeriod = 10 * time.Second
	}
	ticker := time.NewTicker(tickPeriod)
	defer ticker.Stop()

	discovered := false

	for {
		select {
		case <-ctx.Done():
			return nil
		case in := <-inbound:
			resp := sess.core.HandleMessage(time.Now().UTC(), in.server, in.msg)
			sess.reply(ctx, in, resp)
		case <-ticker.C:
			now := time.Now().UTC()

			if !discovered && sess.core.Bootstrap.State == engine.BootstrapBootstrapped {
				if err := sess.connectRegisteredServers(ctx, now, inbound); err != nil {
					slog.Error("connecting to registered servers failed", "error", err)
				}
				discovered = true
			}

			sess.core.Tick(now)

			if bootstrapOnly && (sess.core.Bootstrap.State == engine.BootstrapBootstrapped || sess.core.Bootstrap.State == engine.BootstrapFailed) {
				return nil
			}
		}
	}
}

// connectRegisteredServers reads every Security object instance that is not
// the bootstrap account (Resource 1, "Bootstrap Server", false) and the
// matching Server object instance sharing its Short Server ID, dials each
// one, and starts registration — grounded on the teacher's
// searchDMSecurityInstance/searchDMServerInstance pairing (lwm2m.go), run
// once here instead of on every ReceiveMessage.
func (s *session) connectRegisteredServers(ctx context.Context, now time.Time, inbound chan<- inboundMessage) error {
	for _, iid := range s.core.Store.InstanceIDs(model.ObjectIDSecurity) {
		path := model.ResourcePath(model.ObjectIDSecurity, iid, model.ResourceIDSecurityBootstrap)
		v, err := s.core.Store.Get(definition.OpContext{}, path)
		if err != nil {
			continue
		}
		if v.Bool {
			continue
		}

		uriVal, err := s.core.Store.Get(definition.OpContext{}, model.ResourcePath(model.ObjectIDSecurity, iid, model.ResourceIDSecurityURI))
		if err != nil {
			continue
		}
		shortIDVal, err := s.core.Store.Get(definition.OpContext{}, model.ResourcePath(model.ObjectIDSecurity, iid, model.ResourceIDSecurityShortServerID))
		if err != nil {
			continue
		}
		n, _ := shortIDVal.Numeric()
		shortServerID := int(n)

		lifetime, binding := s.serverAccountDetails(shortServerID)

		transport, err := s.dialer.Dial(ctx, uriVal.Str, &callbackRouter{server: shortServerID, ch: inbound})
		if err != nil {
			return fmt.Errorf("dialing server %d: %w", shortServerID, err)
		}
		s.transports[shortServerID] = transport
		s.core.AddServer(shortServerID, transport, uriVal.Str, lifetime, binding)
		if err := s.core.StartRegistration(now, shortServerID); err != nil {
			return fmt.Errorf("starting registration with server %d: %w", shortServerID, err)
		}
	}
	return nil
}

func (s *session) serverAccountDetails(shortServerID int) (lifetime int64, binding string) {
	lifetime, binding = 86400, "U"
	for _, iid := range s.core.Store.InstanceIDs(model.ObjectIDServer) {
		idVal, err := s.core.Store.Get(definition.OpContext{}, model.ResourcePath(model.ObjectIDServer, iid, model.ResourceIDServerShortServerID))
		if err != nil {
			continue
		}
		n, _ := idVal.Numeric()
		if int(n) != shortServerID {
			continue
		}
		if lv, err := s.core.Store.Get(definition.OpContext{}, model.ResourcePath(model.ObjectIDServer, iid, model.ResourceIDServerLifetime)); err == nil {
			if lf, ok := lv.Numeric(); ok {
				lifetime = int64(lf)
			}
		}
		if bv, err := s.core.Store.Get(definition.OpContext{}, model.ResourcePath(model.ObjectIDServer, iid, model.ResourceIDServerBinding)); err == nil {
			binding = bv.Str
		}
		return lifetime, binding
	}
	return lifetime, binding
}

// reply sends the piggybacked ACK for a Confirmable request back over the
// transport it arrived on. Ack/Reset traffic produces a nil response and is
// never echoed back.
func (s *session) reply(ctx context.Context, in inboundMessage, resp *dispatch.Response) {
	if resp == nil {
		return
	}
	transport, ok := s.transports[in.server]
	if !ok && in.server == client.BootstrapServerID {
		transport = s.bootstrapTransport
	}
	if transport == nil {
		return
	}
	ack := &coap.Message{
		Type:      coap.TypeAcknowledgement,
		Code:      resp.Code,
		MessageID: in.msg.MessageID,
		Token:     in.msg.Token,
		Payload:   resp.Payload,
	}
	if resp.ContentFormat != 0 {
		ack.Options = append(ack.Options, coap.ContentFormatOption(resp.ContentFormat))
	}
	for _, seg := range strings.Split(strings.Trim(resp.Location, "/"), "/") {
		if seg != "" {
			ack.Options = append(ack.Options, coap.NewOption(coap.OptionLocationPath, seg))
		}
	}
	if err := transport.Send(ctx, ack); err != nil {
		slog.Error("sending response failed", "server", in.server, "error", err)
	}
}

type inboundMessage struct {
	server int
	msg    *coap.Message
}

// callbackRouter adapts a Dial'd Transport's Receive callback, which runs on
// the transport's own read-loop goroutine, onto the single-threaded
// Core.HandleMessage call by forwarding every decoded message through a
// channel the event loop drains — the only place state crosses a goroutine
// boundary.
type callbackRouter struct {
	server int
	ch     chan<- inboundMessage
}

func (c *callbackRouter) Receive(msg *coap.Message) {
	c.ch <- inboundMessage{server: c.server, msg: msg}
}

func loadDefinitions(src config.ObjectDefinitionSource) ([]*definition.ObjectDefinition, error) {
	switch src.Format {
	case "yaml":
		return definition.LoadAll(definition.YAMLSource{}, src.Path)
	case "xml", "":
		return definition.LoadAll(definition.XMLSource{}, src.Path)
	default:
		return nil, fmt.Errorf("unknown object definition format %q", src.Format)
	}
}
