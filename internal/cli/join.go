package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"os"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"gitlab.com/paintwithbuddy/services/backend/pkg/client"
	"gitlab.com/paintwithbuddy/services/backend/pkg/floodfill"
	"gitlab.com/paintwithbuddy/services/backend/pkg/models"
	"gitlab.com/paintwithbuddy/services/backend/pkg/voice"
)

const negotiationTimeout = 30 * time.Second

type joinOptions struct {
	server string
	room   string
	name   string
	voice  bool
	brush  client.Brush
}

func (c *CLI) joinCommand() *cobra.Command {
	var opts joinOptions

	cmd := &cobra.Command{
		Use:   "join ROOM",
		Short: "Join a room to chat, draw and talk from the terminal",
		Long: `Join a room and read lines from stdin. Plain lines are sent as chat;
lines starting with a slash are commands:

` + helpText,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.room = args[0]
			opts.server = c.serverFlag(cmd, opts.server)
			if !cmd.Flags().Changed("name") && c.file.Name != "" {
				opts.name = c.file.Name
			}
			if !cmd.Flags().Changed("voice") && c.file.Voice {
				opts.voice = true
			}
			opts.brush = c.fileBrush()
			return c.runJoin(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVarP(&opts.server, "server", "s", defaultServer, "server URL")
	cmd.Flags().StringVarP(&opts.name, "name", "n", "", "display name")
	cmd.Flags().BoolVar(&opts.voice, "voice", false, "join voice as soon as the room is entered")
	return cmd
}

// fileBrush is the default brush with valid config file overrides applied
func (c *CLI) fileBrush() client.Brush {
	b := client.DefaultBrush
	fb := c.file.Brush
	if t := models.Tool(fb.Tool); t.Valid() {
		b.Tool = t
	}
	if fb.Size > 0 && fb.Size <= models.MaxStrokeSize {
		b.Size = fb.Size
	}
	if _, err := floodfill.ParseColor(fb.Color); err == nil {
		b.Color = fb.Color
	}
	if fb.Opacity > 0 && fb.Opacity <= 1 {
		b.Opacity = fb.Opacity
	}
	return b
}

func (c *CLI) runJoin(ctx context.Context, opts joinOptions) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	view := newRoomView(c.out)
	var mesh *voice.Mesh
	var voicePending atomic.Bool
	voicePending.Store(opts.voice)

	sess, err := client.Dial(ctx, opts.server, client.Options{
		Logger: c.Logger.WithPrefix("Session"),
		Events: client.Events{
			OnWelcome: view.setSelf,
			OnUsers: func(users []models.User) {
				view.setUsers(users)
				if voicePending.CompareAndSwap(true, false) {
					go c.startVoice(mesh, view)
				}
			},
			OnUserJoined: func(m models.Membership) {
				view.joined(m)
				mesh.UserJoined(m.ID)
			},
			OnUserLeft: func(m models.Membership) {
				view.left(m)
				mesh.UserLeft(m.ID)
			},
			OnChat: view.chat,
			OnVoiceSignal: func(from string, raw json.RawMessage) {
				mesh.HandleRaw(from, raw)
			},
		},
	})
	if err != nil {
		return err
	}
	defer sess.Close()

	mesh = c.newMesh(ctx, opts.server, sess)
	defer mesh.Stop()

	runErr := make(chan error, 1)
	go func() { runErr <- sess.Run(ctx) }()

	if err := sess.SetBrush(opts.brush); err != nil {
		return err
	}
	if err := sess.Join(opts.room, opts.name); err != nil {
		return err
	}
	name := opts.name
	if name == "" {
		name = "Anonymous"
	}
	view.success("joined %s as %s, /help for commands", styleTitle.Render(opts.room), name)

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(c.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	brush := opts.brush
	for {
		select {
		case <-ctx.Done():
			return nil

		case err := <-runErr:
			return err

		case line, ok := <-lines:
			if !ok {
				return nil
			}
			in, err := parseInput(line, brush)
			if err != nil {
				view.failure(err)
				continue
			}
			quit, err := c.apply(sess, mesh, view, &brush, in)
			if errors.Is(err, client.ErrClosed) {
				return <-runErr
			}
			if err != nil {
				view.failure(err)
			}
			if quit {
				return nil
			}
		}
	}
}

func (c *CLI) newMesh(ctx context.Context, server string, signaler voice.Signaler) *voice.Mesh {
	servers, err := client.FetchICEServers(ctx, server)
	if err != nil {
		c.Logger.Warn("Failed to fetch ICE servers, voice limited to host candidates", "err", err)
	}
	return voice.NewMesh(voice.Options{
		Factory:            voice.NewPionFactory(servers),
		Microphone:         voice.SampleMicrophone{StreamID: appName, Silence: true},
		Signaler:           signaler,
		NegotiationTimeout: negotiationTimeout,
		Logger:             c.Logger.WithPrefix("Voice"),
	})
}

// startVoice activates voice and offers to everyone already in the room
func (c *CLI) startVoice(mesh *voice.Mesh, view *roomView) {
	if !mesh.Start() {
		view.failure(voice.ErrMicrophoneUnavailable)
		return
	}
	others := view.others()
	for _, id := range others {
		mesh.Connect(id)
	}
	view.notice("voice on, calling %d participant(s)", len(others))
}

// apply runs one prompt action. It reports true when the user asked to quit.
func (c *CLI) apply(sess *client.Session, mesh *voice.Mesh, view *roomView, brush *client.Brush, in input) (bool, error) {
	switch in.act {
	case actChat:
		if in.text == "" {
			return false, nil
		}
		return false, sess.Chat(in.text)

	case actUndo:
		return false, sess.Undo()

	case actClear:
		return false, sess.Clear()

	case actVoice:
		if mesh.Active() {
			mesh.Stop()
			view.notice("voice off")
		} else {
			c.startVoice(mesh, view)
		}

	case actMute:
		switch {
		case !mesh.Active():
			view.notice("voice is off, /voice to join")
		case mesh.ToggleMute():
			view.notice("muted")
		default:
			view.notice("unmuted")
		}

	case actUsers:
		view.printUsers()

	case actBrush:
		if err := sess.SetBrush(in.brush); err != nil {
			return false, err
		}
		*brush = in.brush
		view.notice("brush %s size %g %s opacity %g", brush.Tool, brush.Size, brush.Color, brush.Opacity)

	case actLine:
		return false, drawPath(sess, in.points)

	case actFill:
		fill := *brush
		fill.Tool = client.ToolFill
		fill.Color = in.color
		if err := sess.SetBrush(fill); err != nil {
			return false, err
		}
		if err := drawPath(sess, in.points[:1]); err != nil {
			return false, err
		}
		return false, sess.SetBrush(*brush)

	case actSave:
		if err := saveSnapshot(sess, in.path); err != nil {
			return false, err
		}
		view.success("saved %s", in.path)

	case actHelp:
		view.println(helpText)

	case actQuit:
		return true, nil
	}
	return false, nil
}

// drawPath performs one gesture through every point
func drawPath(sess *client.Session, pts []models.Point) error {
	if err := sess.PointerDown(pts[0]); err != nil {
		return err
	}
	for _, p := range pts[1:] {
		if err := sess.PointerMove(p); err != nil {
			return err
		}
	}
	return sess.PointerUp()
}

func saveSnapshot(sess *client.Session, path string) error {
	img, err := sess.Snapshot()
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return f.Close()
}
