// Huddle call client: joins a room from the terminal, takes part in the
// call as a signaling peer and relays room chat. Useful for poking at a
// running server and for demos; media producers are sample tracks, so it
// negotiates real peer connections without capturing devices.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"

	"github.com/pterm/pterm"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/avolkov/huddle/internal/client"
	"github.com/avolkov/huddle/internal/domain"
	"github.com/avolkov/huddle/internal/wire"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	server := flag.String("server", "http://localhost:8080", "Huddle server base URL")
	roomName := flag.String("room", "", "Room name")
	password := flag.String("password", "", "Room password")
	name := flag.String("name", "", "Display name")
	create := flag.Bool("create", false, "Create the room before joining")
	description := flag.String("description", "", "Room description (with -create)")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.WarnLevel)
	if *debugMode {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	pterm.Info.Println("Huddle call client")
	pterm.Println()

	ask(roomName, "Room name")
	ask(password, "Room password")
	ask(name, "Your display name")

	user, err := domain.NewUser(*name)
	if err != nil {
		pterm.Error.Println(err.Error())
		os.Exit(1)
	}

	api := client.NewAPI(*server)
	if *create {
		room, err := api.CreateRoom(ctx, *roomName, *password, *description, *user)
		if err != nil {
			pterm.Error.Printfln("create room: %v", err)
			os.Exit(1)
		}
		pterm.Success.Printfln("room %q created (%s)", room.Name, room.ID)
	}

	join, err := api.JoinRoom(ctx, *roomName, *password, *user)
	if err != nil {
		pterm.Error.Printfln("join room: %v", err)
		os.Exit(1)
	}
	pterm.Success.Printfln("joined room %q as %s", join.Room.Name, user.DisplayName)

	sig, err := client.Dial(ctx, *server, join.Token)
	if err != nil {
		pterm.Error.Printfln("connect signaling: %v", err)
		os.Exit(1)
	}
	defer sig.Close()

	media := func() (client.MediaSource, error) {
		return client.NewSampleSource(string(user.ID))
	}
	sess := client.NewSession(join.Room.ID, *user, sig, media, client.NewPionFactory(join.ICEServers))

	events := client.Events{
		OnChat: func(msg *wire.ChatMessage) {
			pterm.Printfln("%s: %s", msg.DisplayName, msg.Content)
		},
		OnError: func(msg string) {
			pterm.Warning.Printfln("server: %s", msg)
		},
	}

	runErr := make(chan error, 1)
	go func() { runErr <- sig.Run(ctx, sess, events) }()

	if err := sig.SendPresence(&wire.Presence{
		Type:        wire.TypeJoinRoom,
		Room:        join.Room.ID,
		Identity:    user.ID,
		DisplayName: user.DisplayName,
	}); err != nil {
		pterm.Error.Printfln("announce presence: %v", err)
		os.Exit(1)
	}

	if err := sess.StartCall(); err != nil {
		pterm.Error.Printfln("start call: %v", err)
		os.Exit(1)
	}
	pterm.Info.Println("in call. type a message, or /who /mic /cam /leave")

	inputDone := make(chan struct{})
	go func() {
		defer close(inputDone)
		for {
			line, _ := pterm.DefaultInteractiveTextInput.WithDefaultText(">").Show()
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if strings.HasPrefix(line, "/") {
				if !command(line, sess) {
					return
				}
				continue
			}
			if err := sig.SendChat(join.Room.ID, *user, line); err != nil {
				pterm.Warning.Printfln("send: %v", err)
				return
			}
		}
	}()

	select {
	case <-ctx.Done():
	case <-inputDone:
	case err := <-runErr:
		if err != nil {
			pterm.Error.Printfln("signaling: %v", err)
		}
	}

	if err := sess.EndCall(); err != nil {
		log.Debug().Err(err).Msg("end call")
	}
	pterm.Info.Println("left the call")
}

// command handles a slash command; it returns false when the user leaves.
func command(line string, sess *client.Session) bool {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/who":
		for _, p := range sess.Participants() {
			pterm.Printfln("  %s (%s)", p.DisplayName, p.Identity)
		}
	case "/mic":
		on := len(fields) < 2 || fields[1] != "off"
		sess.SetMicEnabled(on)
		pterm.Info.Printfln("mic %s", onOff(on))
	case "/cam":
		on := len(fields) < 2 || fields[1] != "off"
		sess.SetCameraEnabled(on)
		pterm.Info.Printfln("camera %s", onOff(on))
	case "/leave", "/quit":
		return false
	default:
		pterm.Warning.Printfln("unknown command %s", fields[0])
	}
	return true
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

func ask(dst *string, prompt string) {
	if *dst != "" {
		return
	}
	v, _ := pterm.DefaultInteractiveTextInput.WithDefaultText(prompt).Show()
	*dst = strings.TrimSpace(v)
}
