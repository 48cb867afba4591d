package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
	"unicode"

	"github.com/jroimartin/gocui"
	"github.com/roffe/canflash"
	"github.com/spf13/cobra"
)

const (
	flagFilter = "filter"
	flagPlain  = "plain"
)

// pollInterval bounds a blocking receive so that ctrl-c is noticed.
const pollInterval = 250 * time.Millisecond

// maxLines caps the frame view. Frames past it are still counted.
const maxLines = 50000

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Monitor the CAN bus for frames",
	Long: `Shows every frame passing the acceptance filter. Without --filter all frames are shown.
Ctrl-F edits the filter, a comma separated list of id[/mask]. An empty filter accepts everything.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		filterArgs, _ := cmd.Flags().GetStringSlice(flagFilter)
		if _, err := parseFilters(filterArgs); err != nil {
			return err
		}
		ch, err := initCAN(cmd, 0, readTimeoutOption(cmd))
		if err != nil {
			return err
		}
		defer ch.Close()

		desc, err := applyFilter(ch, strings.Join(filterArgs, ","))
		if err != nil {
			return err
		}

		if plain, _ := cmd.Flags().GetBool(flagPlain); plain {
			log.Printf("Entering monitoring mode, filter %s", desc)
			return printFrames(cmd.Context(), ch)
		}
		m := &monitor{ch: ch, filter: desc}
		return m.run(cmd.Context())
	},
}

func init() {
	f := monitorCmd.Flags()
	f.StringSliceP(flagFilter, "f", nil, "acceptance filter id[/mask], may be repeated")
	f.Bool(flagPlain, false, "print frames line by line instead of the interactive view")
	rootCmd.AddCommand(monitorCmd)
}

// readTimeoutOption keeps blocking receives short enough to notice a
// canceled context.
func readTimeoutOption(cmd *cobra.Command) canflash.ChannelOption {
	timeout, _ := cmd.Flags().GetDuration(flagTimeout)
	if timeout <= 0 || timeout > pollInterval {
		timeout = pollInterval
	}
	return canflash.WithReadTimeout(timeout)
}

func printFrames(ctx context.Context, ch *canflash.Channel) error {
	for ctx.Err() == nil {
		f, err := ch.ReceiveBlocking()
		if errors.Is(err, canflash.ErrTimeout) {
			continue
		}
		if err != nil {
			return err
		}
		fmt.Printf("%s || %s\n", time.Now().Format("15:04:05.00000"), f.ColorString())
	}
	return nil
}

type filterer interface {
	ClearFilters() error
	AddFilter(filters ...canflash.Filter) error
}

// applyFilter replaces the acceptance filter with the id[/mask] list in text,
// separated by commas or spaces. An empty list accepts everything. Text that
// does not parse leaves the current filter alone.
func applyFilter(ch filterer, text string) (string, error) {
	filters, err := parseFilters(strings.FieldsFunc(text, func(r rune) bool {
		return r == ',' || unicode.IsSpace(r)
	}))
	if err != nil {
		return "", err
	}
	if len(filters) == 0 {
		filters = []canflash.Filter{canflash.AcceptAll()}
	}
	if err := ch.ClearFilters(); err != nil {
		return "", err
	}
	if err := ch.AddFilter(filters...); err != nil {
		return "", fmt.Errorf("filter left closed: %w", err)
	}
	parts := make([]string, len(filters))
	for i, f := range filters {
		parts[i] = f.String()
	}
	return strings.Join(parts, ", "), nil
}

// parseFilters parses id or id/mask pairs. Identifiers above 0x7FF select an
// extended filter.
func parseFilters(args []string) ([]canflash.Filter, error) {
	var out []canflash.Filter
	for _, s := range args {
		idStr, maskStr, hasMask := strings.Cut(s, "/")
		id, err := strconv.ParseUint(idStr, 0, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid filter id %q: %w", idStr, err)
		}
		var f canflash.Filter
		if id > canflash.MaxStandardID {
			if id > canflash.MaxExtendedID {
				return nil, fmt.Errorf("filter id 0x%X out of range", id)
			}
			f = canflash.NewExtendedFilter(uint32(id))
		} else {
			f = canflash.NewStandardFilter(uint32(id))
		}
		if hasMask {
			mask, err := strconv.ParseUint(maskStr, 0, 32)
			if err != nil {
				return nil, fmt.Errorf("invalid filter mask %q: %w", maskStr, err)
			}
			f = f.WithMask(uint32(mask))
		}
		out = append(out, f)
	}
	return out, nil
}

// monitor is the interactive frame view. Everything but frames is only
// touched from gocui's main loop.
type monitor struct {
	ch     *canflash.Channel
	frames atomic.Int64
	lines  int
	filter string
}

func (m *monitor) run(ctx context.Context) error {
	g, err := gocui.NewGui(gocui.OutputNormal)
	if err != nil {
		return err
	}
	defer g.Close()
	g.Cursor = true
	g.SetManagerFunc(m.layout)

	if err := m.keybindings(g); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go m.receive(ctx, g)

	if err := g.MainLoop(); err != nil && !errors.Is(err, gocui.ErrQuit) {
		return err
	}
	return nil
}

func (m *monitor) receive(ctx context.Context, g *gocui.Gui) {
	rx, _ := m.ch.Split()
	for ctx.Err() == nil {
		f, err := rx.ReceiveBlocking()
		if errors.Is(err, canflash.ErrTimeout) {
			continue
		}
		if err != nil {
			g.Update(func(g *gocui.Gui) error {
				m.logf(g, "receive: %v", err)
				return nil
			})
			return
		}
		n := m.frames.Add(1)
		line := fmt.Sprintf(" %s || %s\n", time.Now().Format("15:04:05.00000"), f.String())
		g.Update(func(g *gocui.Gui) error {
			return m.show(g, n, line)
		})
	}
}

func (m *monitor) show(g *gocui.Gui, n int64, line string) error {
	packets, err := g.View("packets")
	if err != nil {
		return err
	}
	if m.lines < maxLines {
		fmt.Fprint(packets, line)
		m.lines++
	}
	return m.updateInfo(g, n)
}

func (m *monitor) updateInfo(g *gocui.Gui, n int64) error {
	info, err := g.View("info")
	if err != nil {
		return err
	}
	info.Clear()
	fmt.Fprintf(info, "frames: %d\n", n)
	fmt.Fprintf(info, "in buffer: %d\n", m.lines)
	fmt.Fprintf(info, "filter: %s\n", m.filter)
	return nil
}

func (m *monitor) logf(g *gocui.Gui, format string, args ...any) {
	if v, err := g.View("errors"); err == nil {
		fmt.Fprintf(v, format+"\n", args...)
	}
}

func (m *monitor) layout(g *gocui.Gui) error {
	maxX, maxY := g.Size()

	if v, err := g.SetView("info", 0, 0, 25, 6); err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		v.Title = "Info"
		v.Wrap = true
		fmt.Fprintf(v, "frames: 0\nin buffer: 0\nfilter: %s\n", m.filter)
	}

	if v, err := g.SetView("filter", 0, 7, 25, 9); err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		v.Title = "Filter"
		v.Editable = true
		v.Editor = filterEditor(60)
	}

	if v, err := g.SetView("help", 0, 10, 25, maxY-11); err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		v.Wrap = true
		v.Title = "Help"
		fmt.Fprintln(v, "<Q, Ctrl-C> Quit")
		fmt.Fprintln(v, "<Space> Autoscroll")
		fmt.Fprintln(v, "<C> Clear view")
		fmt.Fprintln(v, "<Ctrl-F> Edit filter")
		fmt.Fprintln(v, "<Enter> Apply filter")
	}

	if v, err := g.SetView("errors", 0, maxY-10, 25, maxY-1); err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		v.Autoscroll = true
		v.Wrap = true
		v.Title = "Messages"
	}

	if v, err := g.SetView("packets", 26, 0, maxX-1, maxY-1); err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		v.SelFgColor = gocui.ColorCyan
		v.Autoscroll = true
		v.Highlight = true
		v.Title = "Frame view"
		if _, err := g.SetCurrentView("packets"); err != nil {
			return err
		}
	}
	return nil
}

// filterEditor is a single-line editor holding at most n characters.
type filterEditor int

func (n filterEditor) Edit(v *gocui.View, key gocui.Key, ch rune, mod gocui.Modifier) {
	cx, _ := v.Cursor()
	ox, _ := v.Origin()
	limit := ox+cx+1 > int(n)
	switch {
	case ch != 0 && mod == 0 && !limit:
		v.EditWrite(ch)
	case key == gocui.KeySpace && !limit:
		v.EditWrite(' ')
	case key == gocui.KeyBackspace || key == gocui.KeyBackspace2:
		v.EditDelete(true)
	case key == gocui.KeyArrowLeft:
		v.MoveCursor(-1, 0, false)
	case key == gocui.KeyArrowRight:
		v.MoveCursor(1, 0, false)
	}
}

func (m *monitor) setFilter(g *gocui.Gui, v *gocui.View) error {
	desc, err := applyFilter(m.ch, v.Buffer())
	if err != nil {
		m.logf(g, "%v", err)
	} else {
		m.filter = desc
		m.logf(g, "filter: %s", desc)
		if err := m.updateInfo(g, m.frames.Load()); err != nil {
			return err
		}
	}
	_, err = g.SetCurrentView("packets")
	return err
}

func (m *monitor) keybindings(g *gocui.Gui) error {
	quit := func(*gocui.Gui, *gocui.View) error { return gocui.ErrQuit }
	focus := func(name string) func(*gocui.Gui, *gocui.View) error {
		return func(g *gocui.Gui, _ *gocui.View) error {
			_, err := g.SetCurrentView(name)
			return err
		}
	}
	scroll := func(dy int) func(*gocui.Gui, *gocui.View) error {
		return func(_ *gocui.Gui, v *gocui.View) error {
			v.MoveCursor(0, dy, false)
			return nil
		}
	}

	bindings := []struct {
		view    string
		key     any
		handler func(*gocui.Gui, *gocui.View) error
	}{
		{"", gocui.KeyCtrlC, quit},
		{"packets", 'q', quit},
		{"packets", gocui.KeyCtrlF, focus("filter")},
		{"filter", gocui.KeyEnter, m.setFilter},
		{"filter", gocui.KeyEsc, focus("packets")},
		{"packets", gocui.KeySpace, func(_ *gocui.Gui, v *gocui.View) error {
			v.Autoscroll = !v.Autoscroll
			return nil
		}},
		{"packets", 'c', func(_ *gocui.Gui, v *gocui.View) error {
			m.lines = 0
			v.Autoscroll = true
			v.Clear()
			return v.SetOrigin(0, 0)
		}},
		{"packets", gocui.KeyArrowUp, scroll(-1)},
		{"packets", gocui.KeyArrowDown, scroll(1)},
		{"packets", gocui.KeyPgup, scroll(-10)},
		{"packets", gocui.KeyPgdn, scroll(10)},
	}
	for _, b := range bindings {
		if err := g.SetKeybinding(b.view, b.key, gocui.ModNone, b.handler); err != nil {
			return err
		}
	}
	return nil
}
