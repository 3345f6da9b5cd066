package progress

import (
	"strings"
	"testing"

	"github.com/pterm/pterm"

	"github.com/dhcgn/email-archive/model"
	"github.com/dhcgn/email-archive/stats"
)

func TestQueueTable(t *testing.T) {
	data := QueueTable("archive", map[model.Priority]int64{
		model.PriorityLow:  4,
		model.PriorityHigh: 1,
	})

	want := [][]string{
		{"Queue", "Priority", "Waiting"},
		{"archive:1", "high", "1"},
		{"archive:3", "low", "4"},
		{"archive", "total", "5"},
	}
	if len(data) != len(want) {
		t.Fatalf("rows = %v", data)
	}
	for i := range want {
		if strings.Join(data[i], "|") != strings.Join(want[i], "|") {
			t.Errorf("row %d = %v, want %v", i, data[i], want[i])
		}
	}
}

func TestRenderQueue(t *testing.T) {
	pterm.DisableStyling()
	defer pterm.EnableStyling()

	out, err := RenderQueue("archive", map[model.Priority]int64{model.PriorityNormal: 7})
	if err != nil {
		t.Fatal(err)
	}
	for _, s := range []string{"archive:2", "normal", "7"} {
		if !strings.Contains(out, s) {
			t.Errorf("rendered table misses %q:\n%s", s, out)
		}
	}
}

func TestDisabledBarIgnoresEvents(t *testing.T) {
	bar := New(10, 0, "debug")
	if bar.Enabled() {
		t.Fatal("bar must be disabled outside info level")
	}
	bar.Update(stats.Event{Type: stats.EventTypeScanned})
	bar.Stop()
	if bar.currentScanned != 0 {
		t.Errorf("currentScanned = %d", bar.currentScanned)
	}

	var nilBar *Bar
	if nilBar.Enabled() {
		t.Error("nil bar enabled")
	}
}
