package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"gitlab.com/paintwithbuddy/services/backend/pkg/models"
)

// roomView tracks the room as seen from the terminal and renders events.
// Session callbacks and the prompt loop both write through it.
type roomView struct {
	mu    sync.Mutex
	out   io.Writer
	self  string
	users []models.User
}

func newRoomView(out io.Writer) *roomView {
	return &roomView{out: out}
}

func (v *roomView) setSelf(id string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.self = id
}

func (v *roomView) setUsers(users []models.User) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.users = append([]models.User(nil), users...)
}

// others returns the ids of every other participant
func (v *roomView) others() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	ids := make([]string, 0, len(v.users))
	for _, u := range v.users {
		if u.ID != v.self {
			ids = append(ids, u.ID)
		}
	}
	return ids
}

func (v *roomView) colorOf(username string) string {
	for _, u := range v.users {
		if u.Username == username {
			return u.Color
		}
	}
	return ""
}

func (v *roomView) chat(c models.ChatMessage) {
	v.mu.Lock()
	defer v.mu.Unlock()
	ts := time.UnixMilli(c.Timestamp).Format("15:04")
	name := userStyle(v.colorOf(c.Username)).Render(c.Username)
	fmt.Fprintf(v.out, "%s %s: %s\n", styleDim.Render(ts), name, c.Message)
}

func (v *roomView) joined(m models.Membership) {
	v.notice("%s joined", m.Username)
}

func (v *roomView) left(m models.Membership) {
	v.notice("%s left", m.Username)
}

func (v *roomView) notice(format string, args ...interface{}) {
	v.mu.Lock()
	defer v.mu.Unlock()
	fmt.Fprintln(v.out, styleDim.Render(iconInfo+" "+fmt.Sprintf(format, args...)))
}

func (v *roomView) success(format string, args ...interface{}) {
	v.mu.Lock()
	defer v.mu.Unlock()
	fmt.Fprintln(v.out, styleSuccess.Render(iconSuccess)+" "+fmt.Sprintf(format, args...))
}

func (v *roomView) failure(err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	fmt.Fprintln(v.out, styleError.Render(iconError)+" "+err.Error())
}

func (v *roomView) printUsers() {
	v.mu.Lock()
	defer v.mu.Unlock()

	users := append([]models.User(nil), v.users...)
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })

	names := make([]string, len(users))
	for i, u := range users {
		names[i] = userStyle(u.Color).Render(u.Username)
		if u.ID == v.self {
			names[i] += styleDim.Render(" (you)")
		}
	}
	fmt.Fprintf(v.out, "%s %s\n", styleTitle.Render(fmt.Sprintf("%d in room:", len(users))), strings.Join(names, ", "))
}

func (v *roomView) println(s string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	fmt.Fprintln(v.out, s)
}
