package cli

import (
	"fmt"
	"strconv"
	"strings"

	"gitlab.com/paintwithbuddy/services/backend/pkg/client"
	"gitlab.com/paintwithbuddy/services/backend/pkg/floodfill"
	"gitlab.com/paintwithbuddy/services/backend/pkg/models"
)

type action int

const (
	actChat action = iota
	actUndo
	actClear
	actVoice
	actMute
	actUsers
	actBrush
	actLine
	actFill
	actSave
	actQuit
	actHelp
)

// input is one parsed line typed at the room prompt
type input struct {
	act   action
	text  string
	brush client.Brush
	// points of a /line path, or the seed of a /fill
	points []models.Point
	color  string
	path   string
}

const helpText = `/line X1 Y1 X2 Y2 [X Y ...]  draw a path with the current brush
/fill X Y [#COLOR]           flood fill at a point
/brush TOOL [SIZE] [#COLOR] [OPACITY]
/undo  /clear  /save FILE.png
/voice  /mute  /users  /quit`

// parseInput turns a prompt line into an action. Lines not starting with a
// slash are chat.
func parseInput(line string, current client.Brush) (input, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return input{act: actChat, text: line}, nil
	}

	fields := strings.Fields(line)
	name, args := strings.ToLower(fields[0]), fields[1:]

	switch name {
	case "/undo":
		return input{act: actUndo}, nil
	case "/clear":
		return input{act: actClear}, nil
	case "/voice":
		return input{act: actVoice}, nil
	case "/mute":
		return input{act: actMute}, nil
	case "/users", "/who":
		return input{act: actUsers}, nil
	case "/quit", "/exit":
		return input{act: actQuit}, nil
	case "/help":
		return input{act: actHelp}, nil

	case "/save":
		if len(args) != 1 {
			return input{}, fmt.Errorf("usage: /save FILE.png")
		}
		return input{act: actSave, path: args[0]}, nil

	case "/line":
		if len(args) < 4 || len(args)%2 != 0 {
			return input{}, fmt.Errorf("usage: /line X1 Y1 X2 Y2 [X Y ...]")
		}
		pts, err := parsePoints(args)
		if err != nil {
			return input{}, err
		}
		return input{act: actLine, points: pts}, nil

	case "/fill":
		if len(args) != 2 && len(args) != 3 {
			return input{}, fmt.Errorf("usage: /fill X Y [#COLOR]")
		}
		pts, err := parsePoints(args[:2])
		if err != nil {
			return input{}, err
		}
		color := current.Color
		if len(args) == 3 {
			color = args[2]
		}
		if _, err := floodfill.ParseColor(color); err != nil {
			return input{}, err
		}
		return input{act: actFill, points: pts, color: color}, nil

	case "/brush":
		b, err := parseBrush(args, current)
		if err != nil {
			return input{}, err
		}
		return input{act: actBrush, brush: b}, nil
	}

	return input{}, fmt.Errorf("unknown command %s, try /help", name)
}

func parsePoints(args []string) ([]models.Point, error) {
	pts := make([]models.Point, 0, len(args)/2)
	for i := 0; i+1 < len(args); i += 2 {
		x, err := strconv.ParseFloat(args[i], 64)
		if err != nil {
			return nil, fmt.Errorf("invalid coordinate %q", args[i])
		}
		y, err := strconv.ParseFloat(args[i+1], 64)
		if err != nil {
			return nil, fmt.Errorf("invalid coordinate %q", args[i+1])
		}
		pts = append(pts, models.Point{X: x, Y: y})
	}
	return pts, nil
}

// parseBrush applies TOOL [SIZE] [#COLOR] [OPACITY] on top of current
func parseBrush(args []string, current client.Brush) (client.Brush, error) {
	if len(args) == 0 {
		return current, fmt.Errorf("usage: /brush TOOL [SIZE] [#COLOR] [OPACITY]")
	}
	b := current
	b.Tool = models.Tool(strings.ToLower(args[0]))
	if !b.Tool.Valid() {
		return current, fmt.Errorf("unknown tool %q", args[0])
	}
	if len(args) > 1 {
		size, err := strconv.ParseFloat(args[1], 64)
		if err != nil || size <= 0 || size > models.MaxStrokeSize {
			return current, fmt.Errorf("invalid size %q", args[1])
		}
		b.Size = size
	}
	if len(args) > 2 {
		if _, err := floodfill.ParseColor(args[2]); err != nil {
			return current, err
		}
		b.Color = args[2]
	}
	if len(args) > 3 {
		op, err := strconv.ParseFloat(args[3], 64)
		if err != nil || op <= 0 || op > 1 {
			return current, fmt.Errorf("invalid opacity %q", args[3])
		}
		b.Opacity = op
	}
	return b, nil
}
