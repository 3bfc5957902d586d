// Callagent — CLI entry point.
//
// The agent is one user's endpoint of the tutoring marketplace's
// real-time call subsystem: it keeps a signaling channel to the relay,
// answers or places calls, and negotiates the WebRTC session (camera,
// microphone, screen share, side chat channel) with the remote peer.
//
// Identity and endpoints come from RTC_* environment variables and can
// be overridden with CLI flags (-user, -name, -relay, -api, -debug).
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/pterm/pterm"

	"github.com/tutorlink/rtc/internal/call"
	"github.com/tutorlink/rtc/internal/config"
	"github.com/tutorlink/rtc/internal/media"
	"github.com/tutorlink/rtc/internal/sessionapi"
	"github.com/tutorlink/rtc/internal/signaling"
	"github.com/tutorlink/rtc/internal/util"
)

var version = "dev"

// engineDialer adapts media.Engine to the machine's Dialer port.
type engineDialer struct {
	engine *media.Engine
}

func (d engineDialer) NewSession(sessionID string) (call.Negotiator, error) {
	return d.engine.NewSession(sessionID)
}

func main() {
	// Root context — cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cfg, err := config.AgentFromEnv()
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	// CLI flags override the environment.
	userFlag := flag.String("user", cfg.UserID, "Local user id")
	nameFlag := flag.String("name", cfg.UserName, "Display name shown to callees")
	relayFlag := flag.String("relay", cfg.RelayURL, "Relay WebSocket URL")
	apiFlag := flag.String("api", cfg.SessionAPIURL, "Session bookkeeping API base URL (optional)")
	debugMode := flag.Bool("debug", cfg.Debug, "Enable debug logging")
	flag.Parse()

	cfg.UserID = *userFlag
	cfg.UserName = *nameFlag
	cfg.RelayURL = *relayFlag
	cfg.SessionAPIURL = *apiFlag
	cfg.Debug = *debugMode
	if cfg.UserName == "" {
		cfg.UserName = cfg.UserID
	}

	if cfg.Debug {
		util.EnableDebug()
	}
	if err := cfg.Validate(); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	pterm.Info.Println(fmt.Sprintf("Callagent — v%s", version))
	pterm.Println()

	engine, err := media.NewEngine(cfg.STUNServers, cfg.Debug)
	if err != nil {
		util.LogError("failed to initialize media engine: %v", err)
		os.Exit(1)
	}

	var books call.Bookkeeper
	if cfg.SessionAPIURL != "" {
		books = sessionapi.New(cfg.SessionAPIURL)
	}

	client := signaling.NewClient(cfg.RelayURL, cfg.UserID)
	machine := call.NewMachine(call.Config{
		LocalUserID: cfg.UserID,
		LocalName:   cfg.UserName,
		RingTimeout: cfg.RingTimeout,
		Books:       books,
		OnState:     printState,
		OnChat: func(from, text string) {
			pterm.Println(pterm.Cyan(fmt.Sprintf("%s> %s", from, text)))
		},
	}, client, engineDialer{engine: engine})

	// Handlers must be live before the socket opens.
	machine.Bind(client)
	if err := client.Connect(ctx); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
	defer client.Close()

	util.StartStatsReporter(ctx)
	util.LogSuccess("connected to relay as %s", cfg.UserID)
	printHelp()

	go runCommands(ctx, machine)

	<-ctx.Done()
	machine.Hangup()
	util.LogInfo("agent shut down")
}

// runCommands reads user commands from stdin until ctx ends.
func runCommands(ctx context.Context, m *call.Machine) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		cmd, arg, _ := strings.Cut(line, " ")

		var err error
		switch cmd {
		case "call":
			if arg == "" {
				util.LogWarning("usage: call <user-id>")
				continue
			}
			err = m.StartCall(arg, arg)
		case "accept":
			err = m.Accept()
		case "reject":
			err = m.Reject()
		case "hangup":
			err = m.Hangup()
		case "chat":
			err = m.SendChat(arg)
		case "mute":
			err = m.ToggleMute()
		case "video":
			err = m.ToggleVideo()
		case "share":
			err = m.ToggleScreenShare()
		case "devices":
			for _, d := range media.Devices() {
				pterm.Printf("  %-10s %s\n", d.DeviceType, d.Label)
			}
		case "status":
			s := m.Snapshot()
			pterm.Printf("  phase=%s session=%s remote=%s conn=%s\n",
				s.Phase, s.SessionID, s.RemoteUserID, s.ConnectionPhase)
		case "help":
			printHelp()
		default:
			util.LogWarning("unknown command %q (try 'help')", cmd)
		}
		if err != nil {
			util.LogWarning("%v", err)
		}
	}
}

// printState logs call-visible transitions the way a UI would render
// them.
func printState(s call.State) {
	switch s.Phase {
	case call.PhaseIncomingRinging:
		util.LogInfo("ringing: %s (%s) is calling — 'accept' or 'reject'", s.RemoteName, s.RemoteUserID)
	case call.PhaseOutgoingRinging:
		util.LogInfo("calling %s…", s.RemoteUserID)
	case call.PhaseNegotiating:
		util.LogInfo("negotiating with %s (conn=%s)", s.RemoteUserID, s.ConnectionPhase)
	case call.PhaseConnected:
		util.LogSuccess("in call with %s (media: local=%v remote=%v)", s.RemoteUserID, s.HasLocalMedia, s.HasRemoteMedia)
	case call.PhaseIdle:
		util.LogInfo("idle")
	}
}

func printHelp() {
	pterm.Println()
	pterm.Println("  call <user-id>   place a call")
	pterm.Println("  accept / reject  answer the ringing call")
	pterm.Println("  hangup           end the current call")
	pterm.Println("  chat <text>      send a chat line")
	pterm.Println("  mute / video     toggle microphone / camera")
	pterm.Println("  share            toggle screen sharing")
	pterm.Println("  devices / status / help")
	pterm.Println()
}
